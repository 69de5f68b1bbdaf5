package chatsync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

// TokenStore holds the bearer token between requests. Implementations must be
// safe for concurrent use.
type TokenStore interface {
	Token(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
	Close() error
}

// ── Memory ───────────────────────────────────────────────

// MemoryTokenStore keeps the token in process memory only.
type MemoryTokenStore struct {
	mu    sync.RWMutex
	token string
}

func NewMemoryTokenStore(token string) *MemoryTokenStore {
	return &MemoryTokenStore{token: token}
}

func (s *MemoryTokenStore) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

func (s *MemoryTokenStore) SetToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *MemoryTokenStore) ClearToken(ctx context.Context) error {
	return s.SetToken(ctx, "")
}

func (s *MemoryTokenStore) Close() error { return nil }

// ── Pebble ───────────────────────────────────────────────

var tokenKey = []byte("auth/token")

// PebbleTokenStore persists the token in an embedded pebble database so it
// survives restarts.
type PebbleTokenStore struct {
	db *pebble.DB
}

// OpenPebbleTokenStore opens or creates the store under dir.
func OpenPebbleTokenStore(dir string) (*PebbleTokenStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open token store: %w", err)
	}
	return &PebbleTokenStore{db: db}, nil
}

func (s *PebbleTokenStore) Token(ctx context.Context) (string, error) {
	v, closer, err := s.db.Get(tokenKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	defer closer.Close()
	return string(v), nil
}

func (s *PebbleTokenStore) SetToken(ctx context.Context, token string) error {
	if token == "" {
		return s.ClearToken(ctx)
	}
	if err := s.db.Set(tokenKey, []byte(token), pebble.Sync); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

func (s *PebbleTokenStore) ClearToken(ctx context.Context) error {
	if err := s.db.Delete(tokenKey, pebble.Sync); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	return nil
}

func (s *PebbleTokenStore) Close() error {
	return s.db.Close()
}
