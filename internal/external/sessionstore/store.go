// Package sessionstore defines the session durable-object store
// external collaborator. It is out of scope in detail: the core needs
// only a stable contract so it can be injected and mocked, never a
// concrete implementation.
package sessionstore

import "context"

// Session is an opaque durable object keyed by id; its contents are the
// durable-object store's concern, not the core's.
type Session struct {
	ID      string
	Payload []byte
}

// Store is the session durable-object store contract.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s Session) error
	Delete(ctx context.Context, id string) error
}
