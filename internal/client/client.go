// Package client talks to a running fbutil server. HTTPClient covers the
// whole REST API; GRPCClient covers the record service.
package client

import (
	"context"

	"github.com/Krajiyah/firebase-admin-util/internal/record"
)

// Client is the subset of the API both transports serve. The CLI uses it
// for record reads and writes; the remaining commands need an HTTPClient.
type Client interface {
	Get(ctx context.Context, entity, key string) (*record.Document, error)
	List(ctx context.Context, entity string, q *Query) ([]record.Document, error)
	Create(ctx context.Context, entity, key string, fields map[string]any) (*record.Document, error)
	Delete(ctx context.Context, entity, key string) (*record.Document, error)
	Health(ctx context.Context) (string, error)
	Close() error
}

// Query selects records for List. The zero value lists everything. Only
// the first non-empty selector is used, in field order.
type Query struct {
	Keys []string

	// Field is compared against Value, Prefix or the [Lo, Hi] range.
	Field  string
	Value  any
	Prefix string
	Lo, Hi any
}

// ListResponse is the body of GET /v1/entities/{entity}.
type ListResponse struct {
	Records []record.Document `json:"records"`
	Total   int               `json:"total"`
}

// RefsResponse is the body of GET /v1/entities/{entity}/{key}/refs/{field}.
type RefsResponse struct {
	Records []record.Document `json:"records"`
	Missing []string          `json:"missing,omitempty"`
}

// PushRequest is the body of POST /v1/push.
type PushRequest struct {
	Kind   string         `json:"kind"`
	Target string         `json:"target"`
	Title  string         `json:"title,omitempty"`
	Body   string         `json:"body,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
	Silent bool           `json:"silent,omitempty"`
}

// LoginResponse is the body of a successful POST /v1/auth/login.
type LoginResponse struct {
	Token   string         `json:"token"`
	Account map[string]any `json:"account"`
}

// StreamEvent is one event read from an SSE endpoint.
type StreamEvent struct {
	ID     string         `json:"-"`
	Entity string         `json:"entity"`
	Event  string         `json:"event"`
	Key    string         `json:"key"`
	Value  map[string]any `json:"value"`
}
