package session

import (
	"context"
	"fmt"
	"sort"

	"github.com/gem-ai-tgbot-go/internal/services/store"
)

// DefaultChatName is the reserved name of the implicit session every user
// has. It cannot be saved over or deleted.
const DefaultChatName = "default"

// Directory resolves per-user preferences: the active chat name, the saved
// chat set, the selected model and the optional persona. It is a pure
// preference store; validating a model id against the configured list is
// the caller's job.
type Directory struct {
	kv           *store.Store
	defaultModel string
}

func NewDirectory(kv *store.Store, defaultModel string) *Directory {
	return &Directory{kv: kv, defaultModel: defaultModel}
}

func activeChatKey(userID int64) string { return fmt.Sprintf("active_chat:%d", userID) }
func savedChatsKey(userID int64) string { return fmt.Sprintf("chats:%d", userID) }
func modelKey(userID int64) string      { return fmt.Sprintf("user:%d:model", userID) }
func personaKey(userID int64) string    { return fmt.Sprintf("persona:%d", userID) }

// ActiveChat returns the user's active chat name, falling back to the
// reserved default when unset or on store failure.
func (d *Directory) ActiveChat(ctx context.Context, userID int64) string {
	name, found := d.kv.Get(ctx, activeChatKey(userID))
	if !found || name == "" {
		return DefaultChatName
	}
	return name
}

func (d *Directory) SetActiveChat(ctx context.Context, userID int64, name string) {
	d.kv.Set(ctx, activeChatKey(userID), name, 0)
}

// Model returns the user's selected model id, falling back to the
// configured default.
func (d *Directory) Model(ctx context.Context, userID int64) string {
	model, found := d.kv.Get(ctx, modelKey(userID))
	if !found || model == "" {
		return d.defaultModel
	}
	return model
}

func (d *Directory) SetModel(ctx context.Context, userID int64, modelID string) {
	d.kv.Set(ctx, modelKey(userID), modelID, 0)
}

// Persona returns the user's custom system instruction, if any.
func (d *Directory) Persona(ctx context.Context, userID int64) (string, bool) {
	persona, found := d.kv.Get(ctx, personaKey(userID))
	if !found || persona == "" {
		return "", false
	}
	return persona, true
}

func (d *Directory) SetPersona(ctx context.Context, userID int64, text string) {
	d.kv.Set(ctx, personaKey(userID), text, 0)
}

func (d *Directory) ClearPersona(ctx context.Context, userID int64) {
	d.kv.Delete(ctx, personaKey(userID))
}

// SavedChats lists the user's saved chat names, sorted for stable display.
func (d *Directory) SavedChats(ctx context.Context, userID int64) []string {
	names := d.kv.SetMembers(ctx, savedChatsKey(userID))
	sort.Strings(names)
	return names
}

func (d *Directory) addSavedChat(ctx context.Context, userID int64, name string) {
	d.kv.AddToSet(ctx, savedChatsKey(userID), name)
}

func (d *Directory) removeSavedChat(ctx context.Context, userID int64, name string) {
	d.kv.RemoveFromSet(ctx, savedChatsKey(userID), name)
}
