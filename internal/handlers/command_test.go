package handlers

import (
	"context"
	"testing"

	"github.com/gem-ai-tgbot-go/internal/config"
	"github.com/gem-ai-tgbot-go/internal/i18n"
	"github.com/gem-ai-tgbot-go/internal/middleware"
	"github.com/gem-ai-tgbot-go/internal/services/session"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCommandHandler(t *testing.T, bot Sender) (*CommandHandler, *session.History, *session.Directory, *countingRecorder) {
	t.Helper()

	cfg := &config.Config{
		Storage: config.StorageConfig{Type: "memory"},
		Gemini:  config.GeminiConfig{DefaultModel: "gemini-1.5-flash"},
		I18n:    config.I18nConfig{DefaultLanguage: "en"},
	}

	dir, history, meter, recorder, log := newTestSessionState(t)
	gate := middleware.NewAuthGate([]int64{allowedUserID}, log)

	h := NewCommandHandler(bot, cfg, stubAI{}, dir, history, meter, gate,
		&i18n.Localizer{}, log)
	return h, history, dir, recorder
}

func commandMessage(userID int64, text string, commandLen int) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 5,
		From:      &tgbotapi.User{ID: userID},
		Chat:      &tgbotapi.Chat{ID: 42},
		Text:      text,
		Entities: []tgbotapi.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: commandLen},
		},
	}
}

func TestCommandHandler_RejectedUserTouchesNoState(t *testing.T) {
	bot := &fakeSender{}
	h, _, _, recorder := newTestCommandHandler(t, bot)

	err := h.HandleCommand(context.Background(), commandMessage(999, "/clear", 6))
	require.NoError(t, err)

	require.Len(t, bot.sent, 1)
	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, i18n.MsgAccessDenied, msg.Text)
	assert.Zero(t, recorder.ops)
}

func TestCommandHandler_RejectedCallbackGetsAlert(t *testing.T) {
	bot := &fakeSender{}
	h, _, _, recorder := newTestCommandHandler(t, bot)

	callback := &tgbotapi.CallbackQuery{
		ID:   "cb1",
		From: &tgbotapi.User{ID: 999},
		Data: "chat:switch:work",
	}
	err := h.HandleCallbackQuery(context.Background(), callback)
	require.NoError(t, err)

	// The refusal is an alert on the callback, never a chat message
	assert.Empty(t, bot.sent)
	require.Len(t, bot.requests, 1)
	alert, ok := bot.requests[0].(tgbotapi.CallbackConfig)
	require.True(t, ok)
	assert.True(t, alert.ShowAlert)
	assert.Equal(t, i18n.MsgAccessDenied, alert.Text)
	assert.Zero(t, recorder.ops)
}

func TestCommandHandler_Clear(t *testing.T) {
	bot := &fakeSender{}
	h, history, _, _ := newTestCommandHandler(t, bot)
	ctx := context.Background()

	history.AppendPair(ctx, allowedUserID, session.DefaultChatName, "hello", "hi")
	require.NoError(t, h.HandleCommand(ctx, commandMessage(allowedUserID, "/clear", 6)))

	assert.Empty(t, history.Read(ctx, allowedUserID, session.DefaultChatName))
	msg, ok := bot.sent[len(bot.sent)-1].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, i18n.MsgHistoryCleared, msg.Text)
}

func TestCommandHandler_SaveSwitchesActiveChat(t *testing.T) {
	bot := &fakeSender{}
	h, history, dir, _ := newTestCommandHandler(t, bot)
	ctx := context.Background()

	history.AppendPair(ctx, allowedUserID, session.DefaultChatName, "hello", "hi")
	require.NoError(t, h.HandleCommand(ctx, commandMessage(allowedUserID, "/save my project", 5)))

	assert.Equal(t, "my_project", dir.ActiveChat(ctx, allowedUserID))
	assert.Equal(t, []string{"my_project"}, dir.SavedChats(ctx, allowedUserID))
	msg, ok := bot.sent[len(bot.sent)-1].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, i18n.MsgChatSaved, msg.Text)
}

func TestCommandHandler_SaveRejectsEmptyHistory(t *testing.T) {
	bot := &fakeSender{}
	h, _, dir, _ := newTestCommandHandler(t, bot)
	ctx := context.Background()

	require.NoError(t, h.HandleCommand(ctx, commandMessage(allowedUserID, "/save work", 5)))

	assert.Empty(t, dir.SavedChats(ctx, allowedUserID))
	msg, ok := bot.sent[len(bot.sent)-1].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, i18n.MsgChatEmptySource, msg.Text)
}
