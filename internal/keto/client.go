// Package keto talks to the Ory Keto relation-tuple APIs: the write API
// for tuple inserts and deletes, the read API for list, check, and expand.
package keto

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// RelationMember is the relation used for role membership and hierarchy
// edges, matching the demo stack's Keto namespace configuration.
const RelationMember = "member"

// SubjectSet references all subjects satisfying object#relation.
type SubjectSet struct {
	Namespace string `json:"namespace"`
	Object    string `json:"object"`
	Relation  string `json:"relation"`
}

// RelationTuple is one (namespace, object, relation, subject) fact.
// Exactly one of SubjectID and SubjectSet is set.
type RelationTuple struct {
	Namespace  string      `json:"namespace"`
	Object     string      `json:"object"`
	Relation   string      `json:"relation"`
	SubjectID  string      `json:"subject_id,omitempty"`
	SubjectSet *SubjectSet `json:"subject_set,omitempty"`
}

func (t RelationTuple) String() string {
	subject := t.SubjectID
	if t.SubjectSet != nil {
		subject = fmt.Sprintf("%s:%s#%s", t.SubjectSet.Namespace, t.SubjectSet.Object, t.SubjectSet.Relation)
	}
	return fmt.Sprintf("%s:%s#%s@%s", t.Namespace, t.Object, t.Relation, subject)
}

// TupleQuery filters tuples on the read API. Zero fields are omitted.
type TupleQuery struct {
	Namespace  string
	Object     string
	Relation   string
	SubjectID  string
	SubjectSet *SubjectSet
}

// ExpandNode is one node of the relation tree returned by expand.
type ExpandNode struct {
	Type       string       `json:"type"`
	SubjectID  string       `json:"subject_id,omitempty"`
	SubjectSet *SubjectSet  `json:"subject_set,omitempty"`
	Children   []ExpandNode `json:"children,omitempty"`
}

// Client is a thin HTTP client over the Keto read and write APIs.
// Every call carries the request context and the configured timeout so a
// slow backend degrades to a recorded warning instead of a hung request.
type Client struct {
	readURL    string
	writeURL   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a client for the given read and write base URLs.
func NewClient(readURL, writeURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		readURL:    strings.TrimRight(readURL, "/"),
		writeURL:   strings.TrimRight(writeURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// CreateTuple inserts one relation tuple via the write API.
func (c *Client) CreateTuple(ctx context.Context, t RelationTuple) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("keto: marshal tuple: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.writeURL+"/admin/relation-tuples", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("keto: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("keto: create tuple %s: %w", t, err)
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("keto: create tuple %s: unexpected status %d", t, resp.StatusCode)
	}
	return nil
}

// DeleteTuple removes tuples matching the exact tuple via the write API.
func (c *Client) DeleteTuple(ctx context.Context, t RelationTuple) error {
	q := TupleQuery{
		Namespace:  t.Namespace,
		Object:     t.Object,
		Relation:   t.Relation,
		SubjectID:  t.SubjectID,
		SubjectSet: t.SubjectSet,
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.writeURL+"/admin/relation-tuples?"+q.values().Encode(), nil)
	if err != nil {
		return fmt.Errorf("keto: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("keto: delete tuple %s: %w", t, err)
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("keto: delete tuple %s: unexpected status %d", t, resp.StatusCode)
	}
	return nil
}

type listResponse struct {
	RelationTuples []RelationTuple `json:"relation_tuples"`
	NextPageToken  string          `json:"next_page_token"`
}

// QueryTuples lists tuples matching the query via the read API.
func (c *Client) QueryTuples(ctx context.Context, query TupleQuery) ([]RelationTuple, error) {
	var out []RelationTuple
	pageToken := ""
	for {
		values := query.values()
		values.Set("page_size", "500")
		if pageToken != "" {
			values.Set("page_token", pageToken)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.readURL+"/relation-tuples?"+values.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("keto: build request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("keto: query tuples: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			drain(resp.Body)
			return nil, fmt.Errorf("keto: query tuples: unexpected status %d", resp.StatusCode)
		}
		var page listResponse
		err = json.NewDecoder(resp.Body).Decode(&page)
		drain(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("keto: decode tuples: %w", err)
		}
		out = append(out, page.RelationTuples...)
		if page.NextPageToken == "" {
			return out, nil
		}
		pageToken = page.NextPageToken
	}
}

type checkResponse struct {
	Allowed bool `json:"allowed"`
}

// Check asks the read API whether the tuple's subject has the relation.
func (c *Client) Check(ctx context.Context, t RelationTuple) (bool, error) {
	q := TupleQuery{
		Namespace:  t.Namespace,
		Object:     t.Object,
		Relation:   t.Relation,
		SubjectID:  t.SubjectID,
		SubjectSet: t.SubjectSet,
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.readURL+"/relation-tuples/check?"+q.values().Encode(), nil)
	if err != nil {
		return false, fmt.Errorf("keto: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("keto: check: %w", err)
	}
	defer drain(resp.Body)
	// Keto answers 403 with allowed=false rather than an error status.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusForbidden {
		return false, fmt.Errorf("keto: check: unexpected status %d", resp.StatusCode)
	}
	var result checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("keto: decode check: %w", err)
	}
	return result.Allowed, nil
}

// Expand resolves the subject-set into its relation tree via the read API.
func (c *Client) Expand(ctx context.Context, set SubjectSet, maxDepth int) (*ExpandNode, error) {
	values := url.Values{}
	values.Set("namespace", set.Namespace)
	values.Set("object", set.Object)
	values.Set("relation", set.Relation)
	if maxDepth > 0 {
		values.Set("max-depth", strconv.Itoa(maxDepth))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.readURL+"/relation-tuples/expand?"+values.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("keto: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("keto: expand: %w", err)
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("keto: expand: unexpected status %d", resp.StatusCode)
	}
	var node ExpandNode
	if err := json.NewDecoder(resp.Body).Decode(&node); err != nil {
		return nil, fmt.Errorf("keto: decode expand: %w", err)
	}
	return &node, nil
}

// Alive probes the read API health endpoint.
func (c *Client) Alive(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.readURL+"/health/alive", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("keto: health: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (q TupleQuery) values() url.Values {
	values := url.Values{}
	if q.Namespace != "" {
		values.Set("namespace", q.Namespace)
	}
	if q.Object != "" {
		values.Set("object", q.Object)
	}
	if q.Relation != "" {
		values.Set("relation", q.Relation)
	}
	if q.SubjectID != "" {
		values.Set("subject_id", q.SubjectID)
	}
	if q.SubjectSet != nil {
		values.Set("subject_set.namespace", q.SubjectSet.Namespace)
		values.Set("subject_set.object", q.SubjectSet.Object)
		values.Set("subject_set.relation", q.SubjectSet.Relation)
	}
	return values
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
