package roles

import "fmt"

// DefaultMaxInheritanceDepth bounds the chain-depth warning when no
// threshold is configured.
const DefaultMaxInheritanceDepth = 10

// ValidationResult is the outcome of validating a proposed mutation.
// Any entry in Errors aborts the operation before anything is committed;
// Warnings never do.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// GraphValidator checks a proposed (name, inheritsFrom) mutation against
// the current namespace catalog: self-reference, parent existence, and
// cycles, in that order. It is pure; it never touches shared state.
type GraphValidator struct {
	maxDepth int
}

// NewGraphValidator builds a validator with the given depth threshold.
func NewGraphValidator(maxDepth int) *GraphValidator {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxInheritanceDepth
	}
	return &GraphValidator{maxDepth: maxDepth}
}

// Validate checks the candidate role's proposed parent list against the
// namespace view. The view must reflect the catalog state prior to the
// mutation; for updates it still contains the candidate's old edges,
// which is what the cycle walk must traverse.
func (v *GraphValidator) Validate(name string, inheritsFrom []string, view map[string]*Role) ValidationResult {
	result := ValidationResult{Valid: true}

	if name == "" {
		result.Errors = append(result.Errors, "role name is required")
	}

	for _, parent := range inheritsFrom {
		if parent == name {
			result.Errors = append(result.Errors, fmt.Sprintf("role %q cannot inherit from itself", name))
		}
	}

	for _, parent := range dedupeStrings(inheritsFrom) {
		if parent == name {
			continue
		}
		if _, ok := view[parent]; !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("parent role %q does not exist", parent))
			continue
		}
		depth, cyclic := v.walk(parent, name, view, map[string]bool{})
		if cyclic {
			result.Errors = append(result.Errors, fmt.Sprintf("inheriting from %q would create a circular dependency", parent))
			continue
		}
		if depth+1 > v.maxDepth {
			result.Warnings = append(result.Warnings, fmt.Sprintf("inheritance chain through %q exceeds depth %d", parent, v.maxDepth))
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// walk depth-first follows existing inheritsFrom edges from current.
// It reports the longest chain length seen and whether target is reachable.
func (v *GraphValidator) walk(current, target string, view map[string]*Role, visited map[string]bool) (int, bool) {
	if current == target {
		return 0, true
	}
	if visited[current] {
		return 0, false
	}
	visited[current] = true

	role, ok := view[current]
	if !ok {
		return 0, false
	}
	max := 0
	for _, parent := range role.InheritsFrom {
		depth, cyclic := v.walk(parent, target, view, visited)
		if cyclic {
			return 0, true
		}
		if depth+1 > max {
			max = depth + 1
		}
	}
	return max, false
}
