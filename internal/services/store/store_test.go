package store

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/gem-ai-tgbot-go/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	cfg := &config.Config{
		Storage: config.StorageConfig{Type: "memory"},
	}
	log := logrus.New()
	log.SetOutput(io.Discard)

	s, err := New(cfg, log, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_GetAbsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	value, found := s.Get(ctx, "missing")
	assert.False(t, found)
	assert.Empty(t, value)
}

func TestStore_SetGetDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.True(t, s.Set(ctx, "k", "v", 0))

	value, found := s.Get(ctx, "k")
	assert.True(t, found)
	assert.Equal(t, "v", value)

	require.True(t, s.Delete(ctx, "k"))
	_, found = s.Get(ctx, "k")
	assert.False(t, found)

	// Deleting an absent key is fine
	assert.True(t, s.Delete(ctx, "k"))
}

func TestStore_SetExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.True(t, s.Set(ctx, "k", "v", 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, found := s.Get(ctx, "k")
	assert.False(t, found)
}

func TestStore_SetOperations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.Empty(t, s.SetMembers(ctx, "chats"))

	require.True(t, s.AddToSet(ctx, "chats", "work"))
	require.True(t, s.AddToSet(ctx, "chats", "home"))
	require.True(t, s.AddToSet(ctx, "chats", "work")) // idempotent

	members := s.SetMembers(ctx, "chats")
	assert.ElementsMatch(t, []string{"work", "home"}, members)

	require.True(t, s.RemoveFromSet(ctx, "chats", "work"))
	assert.Equal(t, []string{"home"}, s.SetMembers(ctx, "chats"))

	require.True(t, s.RemoveFromSet(ctx, "chats", "home"))
	assert.Empty(t, s.SetMembers(ctx, "chats"))
}

func TestStore_IncrBy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.Equal(t, int64(5), s.IncrBy(ctx, "counter", 5))
	assert.Equal(t, int64(12), s.IncrBy(ctx, "counter", 7))

	// Counters read back as their decimal representation
	value, found := s.Get(ctx, "counter")
	assert.True(t, found)
	assert.Equal(t, "12", value)
}

// failingBackend errors on every operation.
type failingBackend struct{}

var errBackendDown = errors.New("backend down")

func (failingBackend) Get(context.Context, string) (string, bool, error) {
	return "", false, errBackendDown
}
func (failingBackend) Set(context.Context, string, string, time.Duration) error {
	return errBackendDown
}
func (failingBackend) Delete(context.Context, string) error          { return errBackendDown }
func (failingBackend) AddToSet(context.Context, string, string) error { return errBackendDown }
func (failingBackend) SetMembers(context.Context, string) ([]string, error) {
	return nil, errBackendDown
}
func (failingBackend) RemoveFromSet(context.Context, string, string) error { return errBackendDown }
func (failingBackend) IncrBy(context.Context, string, int64) (int64, error) {
	return 0, errBackendDown
}
func (failingBackend) Expire(context.Context, string, time.Duration) error { return errBackendDown }
func (failingBackend) Close() error                                        { return nil }

type captureRecorder struct {
	statuses []string
}

func (c *captureRecorder) RecordStoreOperation(operation, status string, duration time.Duration) {
	c.statuses = append(c.statuses, status)
}

func TestStore_FailSoft(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	recorder := &captureRecorder{}

	s := NewWithBackend(failingBackend{}, log, recorder)
	ctx := context.Background()

	value, found := s.Get(ctx, "k")
	assert.False(t, found)
	assert.Empty(t, value)

	assert.False(t, s.Set(ctx, "k", "v", 0))
	assert.False(t, s.Delete(ctx, "k"))
	assert.False(t, s.AddToSet(ctx, "k", "m"))
	assert.Nil(t, s.SetMembers(ctx, "k"))
	assert.False(t, s.RemoveFromSet(ctx, "k", "m"))
	assert.Equal(t, int64(0), s.IncrBy(ctx, "k", 3))
	assert.False(t, s.Expire(ctx, "k", time.Minute))

	require.Len(t, recorder.statuses, 7)
	for _, status := range recorder.statuses {
		assert.Equal(t, "error", status)
	}
}

func TestNew_UnsupportedType(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{Type: "etcd"}}
	log := logrus.New()
	log.SetOutput(io.Discard)

	_, err := New(cfg, log, nil)
	assert.Error(t, err)
}
