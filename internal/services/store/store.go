package store

import (
	"context"
	"fmt"
	"time"

	"github.com/gem-ai-tgbot-go/internal/config"
	"github.com/sirupsen/logrus"
)

// backend is the raw key-value contract implemented by Redis and the
// in-memory store. Backend methods report errors; the Store absorbs them.
type backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	AddToSet(ctx context.Context, key, member string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	RemoveFromSet(ctx context.Context, key, member string) error
	IncrBy(ctx context.Context, key string, amount int64) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Close() error
}

// Store is a fail-soft wrapper around a key-value backend. Every operation
// that fails is logged and degrades to an absent/no-op result, so callers
// never have to branch on storage availability.
type Store struct {
	backend backend
	logger  *logrus.Logger
	metrics Recorder
}

// Recorder receives per-operation outcomes. Satisfied by middleware.Metrics.
type Recorder interface {
	RecordStoreOperation(operation, status string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordStoreOperation(string, string, time.Duration) {}

// New creates a store with the backend selected by configuration.
func New(cfg *config.Config, logger *logrus.Logger, metrics Recorder) (*Store, error) {
	if metrics == nil {
		metrics = nopRecorder{}
	}

	var b backend
	switch cfg.Storage.Type {
	case "redis":
		rb, err := newRedisBackend(&cfg.Storage.Redis)
		if err != nil {
			return nil, err
		}
		b = rb
	case "memory":
		b = newMemoryBackend(&cfg.Storage.Memory)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	return &Store{backend: b, logger: logger, metrics: metrics}, nil
}

// NewWithBackend wires a store around an already-built backend.
// Used by tests and anything that needs a custom backend lifecycle.
func NewWithBackend(b backend, logger *logrus.Logger, metrics Recorder) *Store {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Store{backend: b, logger: logger, metrics: metrics}
}

// Close releases the underlying backend connection.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) observe(op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordStoreOperation(op, status, time.Since(start))
}

// Get returns the value for key, or ("", false) when the key is absent or
// the backend is unavailable.
func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	start := time.Now()
	value, found, err := s.backend.Get(ctx, key)
	s.observe("get", start, err)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Store get failed")
		return "", false
	}
	return value, found
}

// Set writes value under key. A zero ttl means no expiration.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	start := time.Now()
	err := s.backend.Set(ctx, key, value, ttl)
	s.observe("set", start, err)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Store set failed")
		return false
	}
	return true
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) bool {
	start := time.Now()
	err := s.backend.Delete(ctx, key)
	s.observe("delete", start, err)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Store delete failed")
		return false
	}
	return true
}

// AddToSet adds member to the set stored at key.
func (s *Store) AddToSet(ctx context.Context, key, member string) bool {
	start := time.Now()
	err := s.backend.AddToSet(ctx, key, member)
	s.observe("sadd", start, err)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Store set-add failed")
		return false
	}
	return true
}

// SetMembers lists the members of the set stored at key; empty on failure.
func (s *Store) SetMembers(ctx context.Context, key string) []string {
	start := time.Now()
	members, err := s.backend.SetMembers(ctx, key)
	s.observe("smembers", start, err)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Store set-members failed")
		return nil
	}
	return members
}

// RemoveFromSet removes member from the set stored at key.
func (s *Store) RemoveFromSet(ctx context.Context, key, member string) bool {
	start := time.Now()
	err := s.backend.RemoveFromSet(ctx, key, member)
	s.observe("srem", start, err)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Store set-remove failed")
		return false
	}
	return true
}

// IncrBy adds amount to the integer at key and returns the new total,
// or 0 when the backend is unavailable.
func (s *Store) IncrBy(ctx context.Context, key string, amount int64) int64 {
	start := time.Now()
	total, err := s.backend.IncrBy(ctx, key, amount)
	s.observe("incrby", start, err)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Store increment failed")
		return 0
	}
	return total
}

// Expire sets or renews the ttl on key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) bool {
	start := time.Now()
	err := s.backend.Expire(ctx, key, ttl)
	s.observe("expire", start, err)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Store expire failed")
		return false
	}
	return true
}
