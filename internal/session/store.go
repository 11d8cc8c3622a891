// Package session defines the key-value state store scoped by session
// identifier that handlers read and mutate across invocations.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound indicates a requested key is missing for the session.
var ErrNotFound = errors.New("session key not found")

// Store persists per-session key-value state. Implementations must be safe
// for concurrent use; state under one session id must never be visible to
// another.
type Store interface {
	Get(ctx context.Context, sessionID, key string) ([]byte, error)
	Set(ctx context.Context, sessionID, key string, value []byte) error
	Delete(ctx context.Context, sessionID, key string) error
	Keys(ctx context.Context, sessionID string) ([]string, error)
}

// View wraps a store with a fixed session id and JSON encoding, the shape
// handlers consume.
type View struct {
	store     Store
	sessionID string
}

// NewView binds a store to one session id.
func NewView(store Store, sessionID string) (*View, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	return &View{store: store, sessionID: sessionID}, nil
}

// SessionID returns the bound session identifier.
func (v *View) SessionID() string {
	return v.sessionID
}

// Get decodes the stored value for key into out. Missing keys return
// ErrNotFound with out untouched.
func (v *View) Get(ctx context.Context, key string, out any) error {
	raw, err := v.store.Get(ctx, v.sessionID, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode session value %q: %w", key, err)
	}
	return nil
}

// GetInt loads an integer value, returning fallback when the key is missing.
func (v *View) GetInt(ctx context.Context, key string, fallback int) (int, error) {
	var n int
	err := v.Get(ctx, key, &n)
	if errors.Is(err, ErrNotFound) {
		return fallback, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// GetString loads a string value, returning fallback when the key is missing.
func (v *View) GetString(ctx context.Context, key string, fallback string) (string, error) {
	var s string
	err := v.Get(ctx, key, &s)
	if errors.Is(err, ErrNotFound) {
		return fallback, nil
	}
	if err != nil {
		return "", err
	}
	return s, nil
}

// Set encodes and stores a value under key.
func (v *View) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode session value %q: %w", key, err)
	}
	return v.store.Set(ctx, v.sessionID, key, raw)
}

// Delete removes a key. Deleting a missing key is not an error.
func (v *View) Delete(ctx context.Context, key string) error {
	return v.store.Delete(ctx, v.sessionID, key)
}
