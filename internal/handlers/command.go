package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gem-ai-tgbot-go/internal/config"
	"github.com/gem-ai-tgbot-go/internal/i18n"
	"github.com/gem-ai-tgbot-go/internal/middleware"
	"github.com/gem-ai-tgbot-go/internal/services/ai"
	"github.com/gem-ai-tgbot-go/internal/services/session"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// CommandHandler handles telegram commands and inline keyboard callbacks.
type CommandHandler struct {
	bot       Sender
	config    *config.Config
	aiService ai.Service
	directory *session.Directory
	history   *session.History
	meter     *session.Meter
	gate      *middleware.AuthGate
	localizer *i18n.Localizer
	logger    *logrus.Logger
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(
	bot Sender,
	cfg *config.Config,
	aiService ai.Service,
	directory *session.Directory,
	history *session.History,
	meter *session.Meter,
	gate *middleware.AuthGate,
	localizer *i18n.Localizer,
	logger *logrus.Logger,
) *CommandHandler {
	return &CommandHandler{
		bot:       bot,
		config:    cfg,
		aiService: aiService,
		directory: directory,
		history:   history,
		meter:     meter,
		gate:      gate,
		localizer: localizer,
		logger:    logger,
	}
}

func (h *CommandHandler) lang() string {
	return h.config.I18n.DefaultLanguage
}

// HandleCommand processes telegram commands.
func (h *CommandHandler) HandleCommand(ctx context.Context, message *tgbotapi.Message) error {
	chatID := message.Chat.ID
	userID := message.From.ID

	// Gate before any state access
	if !h.gate.Allowed(userID) {
		return h.send(chatID, h.localizer.Get(h.lang(), i18n.MsgAccessDenied, nil))
	}

	switch message.Command() {
	case "start":
		return h.handleStart(ctx, chatID, userID)
	case "help":
		return h.send(chatID, h.localizer.Get(h.lang(), i18n.MsgHelp, nil))
	case "clear":
		return h.handleClear(ctx, chatID, userID)
	case "usage":
		return h.handleUsage(ctx, chatID, userID)
	case "persona":
		return h.handlePersona(ctx, chatID, userID, message.CommandArguments())
	case "model":
		return h.handleModel(ctx, chatID, userID)
	case "chats":
		return h.handleChats(ctx, chatID, userID)
	case "save":
		return h.handleSave(ctx, chatID, userID, message.CommandArguments())
	default:
		return h.send(chatID, h.localizer.Get(h.lang(), i18n.MsgUnknownCommand, nil))
	}
}

// HandleCallbackQuery processes inline keyboard callbacks.
func (h *CommandHandler) HandleCallbackQuery(ctx context.Context, callback *tgbotapi.CallbackQuery) error {
	userID := callback.From.ID

	// Button presses from unauthorized users get an alert, nothing else.
	if !h.gate.Allowed(userID) {
		_, err := h.bot.Request(tgbotapi.NewCallbackWithAlert(callback.ID,
			h.localizer.Get(h.lang(), i18n.MsgAccessDenied, nil)))
		return err
	}
	if callback.Message == nil {
		return nil
	}

	chatID := callback.Message.Chat.ID
	messageID := callback.Message.MessageID

	parts := strings.SplitN(callback.Data, ":", 3)
	switch parts[0] {
	case "model":
		if len(parts) >= 2 {
			return h.handleModelCallback(ctx, chatID, messageID, userID, parts[1], callback.ID)
		}
	case "chat":
		if len(parts) >= 3 {
			return h.handleChatCallback(ctx, chatID, messageID, userID, parts[1], parts[2], callback.ID)
		}
	case "noop":
		h.bot.Request(tgbotapi.NewCallback(callback.ID, ""))
	}
	return nil
}

func (h *CommandHandler) handleStart(ctx context.Context, chatID, userID int64) error {
	model := h.directory.Model(ctx, userID)
	text := h.localizer.Get(h.lang(), i18n.MsgWelcome, map[string]interface{}{
		"Model": model,
	})
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	_, err := h.bot.Send(msg)
	return err
}

func (h *CommandHandler) handleClear(ctx context.Context, chatID, userID int64) error {
	chatName := h.directory.ActiveChat(ctx, userID)
	h.history.Clear(ctx, userID, chatName)
	return h.send(chatID, h.localizer.Get(h.lang(), i18n.MsgHistoryCleared, nil))
}

func (h *CommandHandler) handleUsage(ctx context.Context, chatID, userID int64) error {
	totals := h.meter.Read(ctx, userID)
	now := time.Now().UTC()
	text := h.localizer.Get(h.lang(), i18n.MsgUsageStats, map[string]interface{}{
		"Today":   now.Format("2006-01-02"),
		"Month":   now.Format("2006-01"),
		"Daily":   totals.Daily,
		"Monthly": totals.Monthly,
	})
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	_, err := h.bot.Send(msg)
	return err
}

func (h *CommandHandler) handlePersona(ctx context.Context, chatID, userID int64, args string) error {
	args = strings.TrimSpace(args)
	if args == "" {
		h.directory.ClearPersona(ctx, userID)
		return h.send(chatID, h.localizer.Get(h.lang(), i18n.MsgPersonaReset, nil))
	}
	h.directory.SetPersona(ctx, userID, args)
	return h.send(chatID, h.localizer.Get(h.lang(), i18n.MsgPersonaSet, map[string]interface{}{
		"Persona": args,
	}))
}

func (h *CommandHandler) handleModel(ctx context.Context, chatID, userID int64) error {
	current := h.directory.Model(ctx, userID)

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, model := range h.aiService.Models() {
		label := model.Name
		if model.ID == current {
			label = "✅ " + label
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, "model:"+model.ID),
		))
	}

	msg := tgbotapi.NewMessage(chatID, h.localizer.Get(h.lang(), i18n.MsgSelectModel, nil))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	_, err := h.bot.Send(msg)
	return err
}

func (h *CommandHandler) handleChats(ctx context.Context, chatID, userID int64) error {
	active := h.directory.ActiveChat(ctx, userID)
	saved := h.directory.SavedChats(ctx, userID)
	if len(saved) == 0 {
		return h.send(chatID, h.localizer.Get(h.lang(), i18n.MsgChatsEmpty, nil))
	}

	names := append([]string{session.DefaultChatName}, saved...)

	var list strings.Builder
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, name := range names {
		marker := "  "
		if name == active {
			marker = "▶ "
		}
		fmt.Fprintf(&list, "%s%s\n", marker, name)

		row := []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(name, "chat:switch:"+name),
		}
		if name != session.DefaultChatName {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData("🗑 "+name, "chat:del:"+name))
		}
		rows = append(rows, row)
	}

	text := h.localizer.Get(h.lang(), i18n.MsgChatsList, map[string]interface{}{
		"Chats": list.String(),
	})
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	_, err := h.bot.Send(msg)
	return err
}

func (h *CommandHandler) handleSave(ctx context.Context, chatID, userID int64, args string) error {
	name := strings.TrimSpace(args)
	if name == "" {
		return h.send(chatID, h.localizer.Get(h.lang(), i18n.MsgSaveUsage, nil))
	}

	source := h.directory.ActiveChat(ctx, userID)
	err := h.history.SaveAs(ctx, userID, source, name)
	switch err {
	case nil:
		sanitized, _ := session.SanitizeChatName(name)
		return h.send(chatID, h.localizer.Get(h.lang(), i18n.MsgChatSaved, map[string]interface{}{
			"Name": sanitized,
		}))
	case session.ErrInvalidName:
		return h.send(chatID, h.localizer.Get(h.lang(), i18n.MsgChatNameInvalid, nil))
	case session.ErrReservedName:
		return h.send(chatID, h.localizer.Get(h.lang(), i18n.MsgChatNameReserved, nil))
	case session.ErrEmptyHistory:
		return h.send(chatID, h.localizer.Get(h.lang(), i18n.MsgChatEmptySource, nil))
	default:
		return h.send(chatID, h.localizer.Get(h.lang(), i18n.MsgError, nil))
	}
}

func (h *CommandHandler) handleModelCallback(ctx context.Context, chatID int64, messageID int, userID int64, modelID, callbackID string) error {
	if !h.aiService.KnownModel(modelID) {
		_, err := h.bot.Request(tgbotapi.NewCallbackWithAlert(callbackID,
			h.localizer.Get(h.lang(), i18n.MsgModelInvalid, nil)))
		return err
	}

	h.directory.SetModel(ctx, userID, modelID)
	h.bot.Request(tgbotapi.NewCallback(callbackID, ""))

	edit := tgbotapi.NewEditMessageText(chatID, messageID,
		h.localizer.Get(h.lang(), i18n.MsgModelChanged, map[string]interface{}{
			"Model": modelID,
		}))
	_, err := h.bot.Send(edit)
	return err
}

func (h *CommandHandler) handleChatCallback(ctx context.Context, chatID int64, messageID int, userID int64, action, name, callbackID string) error {
	switch action {
	case "switch":
		if name != session.DefaultChatName && !containsName(h.directory.SavedChats(ctx, userID), name) {
			_, err := h.bot.Request(tgbotapi.NewCallbackWithAlert(callbackID,
				h.localizer.Get(h.lang(), i18n.MsgChatNameInvalid, nil)))
			return err
		}
		h.directory.SetActiveChat(ctx, userID, name)
		h.bot.Request(tgbotapi.NewCallback(callbackID, ""))
		edit := tgbotapi.NewEditMessageText(chatID, messageID,
			h.localizer.Get(h.lang(), i18n.MsgChatSwitched, map[string]interface{}{
				"Name": name,
			}))
		_, err := h.bot.Send(edit)
		return err

	case "del":
		if err := h.history.Delete(ctx, userID, name); err != nil {
			_, reqErr := h.bot.Request(tgbotapi.NewCallbackWithAlert(callbackID,
				h.localizer.Get(h.lang(), i18n.MsgChatNameReserved, nil)))
			return reqErr
		}
		h.bot.Request(tgbotapi.NewCallback(callbackID, ""))
		edit := tgbotapi.NewEditMessageText(chatID, messageID,
			h.localizer.Get(h.lang(), i18n.MsgChatDeleted, map[string]interface{}{
				"Name": name,
			}))
		_, err := h.bot.Send(edit)
		return err
	}
	return nil
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func (h *CommandHandler) send(chatID int64, text string) error {
	_, err := h.bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}
