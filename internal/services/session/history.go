package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gem-ai-tgbot-go/internal/models"
	"github.com/gem-ai-tgbot-go/internal/services/store"
	"github.com/sirupsen/logrus"
)

var (
	// ErrInvalidName is returned for empty or whitespace-only chat names.
	ErrInvalidName = errors.New("chat name is empty")
	// ErrReservedName is returned when an operation targets the default chat name.
	ErrReservedName = errors.New("chat name is reserved")
	// ErrEmptyHistory is returned by SaveAs when the source chat has no turns.
	ErrEmptyHistory = errors.New("history is empty")
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// SanitizeChatName trims the name and collapses internal whitespace to
// underscores. Names are case-sensitive.
func SanitizeChatName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidName
	}
	return whitespaceRun.ReplaceAllString(name, "_"), nil
}

// History is the ordered, size-bounded turn log for each (user, chat) pair.
// Turns are stored as a JSON array under a single key, re-read on every
// access: the store is the only source of truth.
type History struct {
	kv     *store.Store
	dir    *Directory
	limit  int // max pairs kept; oldest evicted first
	ttl    time.Duration
	locks  keyedMutex
	logger *logrus.Logger
}

func NewHistory(kv *store.Store, dir *Directory, limit int, ttl time.Duration, logger *logrus.Logger) *History {
	return &History{kv: kv, dir: dir, limit: limit, ttl: ttl, logger: logger}
}

func historyKey(userID int64, chatName string) string {
	return fmt.Sprintf("history:%d:%s", userID, chatName)
}

// Read returns the stored turns for (user, chat). Absent or malformed data
// yields an empty sequence, never an error.
func (h *History) Read(ctx context.Context, userID int64, chatName string) []models.Turn {
	data, found := h.kv.Get(ctx, historyKey(userID, chatName))
	if !found {
		return nil
	}
	var turns []models.Turn
	if err := json.Unmarshal([]byte(data), &turns); err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"chat":    chatName,
		}).Warn("Discarding malformed history blob")
		return nil
	}
	return turns
}

// AppendPair appends a (user, model) turn pair, evicts the oldest pairs
// beyond the configured limit and writes the blob back with a renewed ttl.
func (h *History) AppendPair(ctx context.Context, userID int64, chatName, userText, modelText string) {
	unlock := h.locks.lock(historyKey(userID, chatName))
	defer unlock()

	turns := h.Read(ctx, userID, chatName)
	turns = append(turns,
		models.NewTurn(models.RoleUser, userText),
		models.NewTurn(models.RoleModel, modelText),
	)
	if max := h.limit * 2; len(turns) > max {
		turns = turns[len(turns)-max:]
	}
	h.write(ctx, userID, chatName, turns)
}

func (h *History) write(ctx context.Context, userID int64, chatName string, turns []models.Turn) {
	data, err := json.Marshal(turns)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal history")
		return
	}
	h.kv.Set(ctx, historyKey(userID, chatName), string(data), h.ttl)
}

// Clear deletes the stored turns. The chat name stays in the saved set.
func (h *History) Clear(ctx context.Context, userID int64, chatName string) {
	unlock := h.locks.lock(historyKey(userID, chatName))
	defer unlock()

	h.kv.Delete(ctx, historyKey(userID, chatName))
}

// SaveAs snapshots the source chat's current turns under newName, registers
// the name in the saved set and makes it the active chat. The reserved name
// and an empty source are rejected with no state change.
func (h *History) SaveAs(ctx context.Context, userID int64, sourceChat, newName string) error {
	name, err := SanitizeChatName(newName)
	if err != nil {
		return err
	}
	if name == DefaultChatName {
		return ErrReservedName
	}

	unlock := h.locks.lock(historyKey(userID, sourceChat))
	defer unlock()

	turns := h.Read(ctx, userID, sourceChat)
	if len(turns) == 0 {
		return ErrEmptyHistory
	}

	h.write(ctx, userID, name, turns)
	h.dir.addSavedChat(ctx, userID, name)
	h.dir.SetActiveChat(ctx, userID, name)
	return nil
}

// Delete removes a saved chat: its turns, its saved-set entry, and the
// active pointer when it pointed at the deleted chat. The default chat
// cannot be deleted; use Clear instead.
func (h *History) Delete(ctx context.Context, userID int64, chatName string) error {
	if chatName == DefaultChatName {
		return ErrReservedName
	}

	unlock := h.locks.lock(historyKey(userID, chatName))
	defer unlock()

	h.kv.Delete(ctx, historyKey(userID, chatName))
	h.dir.removeSavedChat(ctx, userID, chatName)
	if h.dir.ActiveChat(ctx, userID) == chatName {
		h.dir.SetActiveChat(ctx, userID, DefaultChatName)
	}
	return nil
}

// keyedMutex serializes history read-modify-write per (user, chat) within
// this process. Writers in other processes still race last-writer-wins.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
