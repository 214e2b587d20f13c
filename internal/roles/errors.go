package roles

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound indicates the requested role does not exist in its namespace.
	ErrNotFound = errors.New("roles: not found")
	// ErrConflict indicates a role with the same name already exists in the namespace.
	ErrConflict = errors.New("roles: name already exists")
)

// ValidationError is fatal: nothing is committed when validation fails.
type ValidationError struct {
	Errors   []string
	Warnings []string
}

func (e *ValidationError) Error() string {
	return "roles: validation failed: " + strings.Join(e.Errors, "; ")
}
