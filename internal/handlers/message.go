package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gem-ai-tgbot-go/internal/config"
	"github.com/gem-ai-tgbot-go/internal/i18n"
	"github.com/gem-ai-tgbot-go/internal/middleware"
	"github.com/gem-ai-tgbot-go/internal/services/ai"
	"github.com/gem-ai-tgbot-go/internal/services/session"
	"github.com/gem-ai-tgbot-go/pkg/logger"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// Synthetic model turns recorded for non-text exchanges.
const (
	imageGenTurn      = "[Image generation request]"
	imageDescribeTurn = "[Model provided image description]"
)

// MessageHandler handles regular (non-command) messages.
type MessageHandler struct {
	config      *config.Config
	bot         Bot
	selfID      int64
	aiService   ai.Service
	directory   *session.Directory
	history     *session.History
	meter       *session.Meter
	gate        *middleware.AuthGate
	rateLimiter middleware.RateLimiter
	localizer   *i18n.Localizer
	metrics     *middleware.Metrics
	logger      *logrus.Logger
	httpClient  *http.Client
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(
	cfg *config.Config,
	bot Bot,
	selfID int64,
	aiService ai.Service,
	directory *session.Directory,
	history *session.History,
	meter *session.Meter,
	gate *middleware.AuthGate,
	rateLimiter middleware.RateLimiter,
	localizer *i18n.Localizer,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *MessageHandler {
	return &MessageHandler{
		config:      cfg,
		bot:         bot,
		selfID:      selfID,
		aiService:   aiService,
		directory:   directory,
		history:     history,
		meter:       meter,
		gate:        gate,
		rateLimiter: rateLimiter,
		localizer:   localizer,
		metrics:     metrics,
		logger:      logger,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (h *MessageHandler) lang() string {
	return h.config.I18n.DefaultLanguage
}

// HandleMessage processes text, photo and document messages.
func (h *MessageHandler) HandleMessage(ctx context.Context, update *tgbotapi.Update) error {
	message := update.Message
	if message == nil || message.IsCommand() {
		return nil
	}
	if message.From == nil || message.From.ID == h.selfID {
		return nil
	}

	chatID := message.Chat.ID
	userID := message.From.ID

	// The gate comes first: nothing is read or written for rejected users.
	if !h.gate.Allowed(userID) {
		h.reply(chatID, message.MessageID, h.localizer.Get(h.lang(), i18n.MsgAccessDenied, nil))
		return nil
	}

	if !h.rateLimiter.Allow(userID) {
		h.metrics.RecordRateLimitExceeded()
		h.reply(chatID, message.MessageID, h.localizer.Get(h.lang(), i18n.MsgRateLimitExceeded, nil))
		return nil
	}

	switch {
	case len(message.Photo) > 0:
		h.metrics.RecordMessageReceived("photo")
		return h.handlePhoto(ctx, message)
	case message.Document != nil:
		h.metrics.RecordMessageReceived("document")
		return h.handleDocument(ctx, message)
	case message.Text != "":
		h.metrics.RecordMessageReceived("text")
		return h.handleText(ctx, message)
	default:
		return nil
	}
}

func (h *MessageHandler) handleText(ctx context.Context, message *tgbotapi.Message) error {
	chatID := message.Chat.ID
	userID := message.From.ID
	userText := message.Text

	chatName := h.directory.ActiveChat(ctx, userID)
	modelID := h.directory.Model(ctx, userID)
	persona, _ := h.directory.Persona(ctx, userID)

	h.sendChatAction(chatID, tgbotapi.ChatTyping)

	log := logger.WithUser(h.logger, userID, chatName).WithField("model", modelID)

	if h.aiService.IsImageModel(modelID) {
		return h.handleImageGeneration(ctx, message, modelID, persona, chatName)
	}

	turns := h.history.Read(ctx, userID, chatName)

	req := &ai.Request{
		Model:   modelID,
		System:  persona,
		History: turns,
		Parts:   []ai.Part{{Text: userText}},
	}

	start := time.Now()
	stream, err := h.aiService.Stream(ctx, req)
	if err != nil {
		h.metrics.RecordModelRequest(modelID, "error", time.Since(start))
		log.WithError(err).Error("Failed to start model stream")
		h.reply(chatID, message.MessageID, h.modelErrorText(err))
		return nil
	}

	delivery := newStreamDelivery(h.bot, &h.config.Stream, h.localizer, h.lang(), h.history, h.meter, h.metrics, h.logger)
	err = delivery.Run(ctx, userID, chatID, message.MessageID, chatName, userText, stream)
	status := "success"
	if err != nil {
		status = "error"
	}
	h.metrics.RecordModelRequest(modelID, status, time.Since(start))
	if err != nil {
		log.WithError(err).Error("Streaming delivery failed")
	}
	return nil
}

// handleImageGeneration wraps the prompt for an image model and delivers the
// returned inline images without streaming.
func (h *MessageHandler) handleImageGeneration(ctx context.Context, message *tgbotapi.Message, modelID, persona, chatName string) error {
	chatID := message.Chat.ID
	userID := message.From.ID

	prompt := fmt.Sprintf("Generate a high-quality, photorealistic image of: %s", message.Text)
	req := &ai.Request{
		Model:  modelID,
		System: persona,
		Parts:  []ai.Part{{Text: prompt}},
	}

	start := time.Now()
	resp, err := h.aiService.Generate(ctx, req)
	if err != nil {
		h.metrics.RecordModelRequest(modelID, "error", time.Since(start))
		h.logger.WithError(err).WithField("user_id", userID).Error("Image generation failed")
		h.reply(chatID, message.MessageID, h.modelErrorText(err))
		return nil
	}
	h.metrics.RecordModelRequest(modelID, "success", time.Since(start))

	for _, img := range resp.Images {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "image.png", Bytes: img})
		if _, err := h.bot.Send(photo); err != nil {
			h.logger.WithError(err).Error("Failed to send generated image")
		}
	}
	if resp.Text != "" {
		if err := h.deliverText(ctx, chatID, resp.Text); err != nil {
			h.logger.WithError(err).Error("Failed to deliver response text")
			return nil
		}
	}

	h.history.AppendPair(ctx, userID, chatName, message.Text, imageGenTurn)
	h.recordUsage(ctx, userID, resp)
	return nil
}

// handlePhoto sends the photo bytes with the caption to a multimodal model
// and records a synthetic history pair.
func (h *MessageHandler) handlePhoto(ctx context.Context, message *tgbotapi.Message) error {
	chatID := message.Chat.ID
	userID := message.From.ID

	modelID := h.directory.Model(ctx, userID)
	if !strings.Contains(modelID, "flash") && !strings.Contains(modelID, "pro") {
		h.reply(chatID, message.MessageID, h.localizer.Get(h.lang(), i18n.MsgPhotoModelRequired, nil))
		return nil
	}
	persona, _ := h.directory.Persona(ctx, userID)
	chatName := h.directory.ActiveChat(ctx, userID)

	caption := message.Caption
	if caption == "" {
		caption = "Describe this image in detail."
	}

	h.sendChatAction(chatID, tgbotapi.ChatUploadPhoto)

	// Largest size is last in the slice
	photo := message.Photo[len(message.Photo)-1]
	data, err := h.downloadFile(ctx, photo.FileID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to download photo")
		h.reply(chatID, message.MessageID, h.localizer.Get(h.lang(), i18n.MsgError, nil))
		return nil
	}

	req := &ai.Request{
		Model:  modelID,
		System: persona,
		Parts: []ai.Part{
			{Text: caption},
			{MIMEType: "image/jpeg", Data: data},
		},
	}

	start := time.Now()
	resp, err := h.aiService.Generate(ctx, req)
	if err != nil {
		h.metrics.RecordModelRequest(modelID, "error", time.Since(start))
		h.logger.WithError(err).WithField("user_id", userID).Error("Photo analysis failed")
		h.reply(chatID, message.MessageID, h.modelErrorText(err))
		return nil
	}
	h.metrics.RecordModelRequest(modelID, "success", time.Since(start))

	if err := h.deliverText(ctx, chatID, resp.Text); err != nil {
		h.logger.WithError(err).Error("Failed to deliver response text")
		return nil
	}

	h.history.AppendPair(ctx, userID, chatName,
		fmt.Sprintf("[Image analysis request: %s]", caption), imageDescribeTurn)
	h.recordUsage(ctx, userID, resp)
	return nil
}

// handleDocument inlines plain-text documents with the caption. Binary
// formats that would need page rasterization are declined.
func (h *MessageHandler) handleDocument(ctx context.Context, message *tgbotapi.Message) error {
	chatID := message.Chat.ID
	userID := message.From.ID
	doc := message.Document

	modelID := h.directory.Model(ctx, userID)
	if !h.aiService.IsDocumentModel(modelID) {
		h.reply(chatID, message.MessageID, h.localizer.Get(h.lang(), i18n.MsgDocModelRequired, nil))
		return nil
	}

	if doc.MimeType != "text/plain" {
		h.reply(chatID, message.MessageID, h.localizer.Get(h.lang(), i18n.MsgDocUnsupported, map[string]interface{}{
			"Type": doc.MimeType,
		}))
		return nil
	}

	persona, _ := h.directory.Persona(ctx, userID)
	caption := message.Caption
	if caption == "" {
		caption = "Analyze this document and provide a concise summary."
	}

	h.reply(chatID, message.MessageID, h.localizer.Get(h.lang(), i18n.MsgFileReceived, map[string]interface{}{
		"Name": doc.FileName,
	}))
	h.sendChatAction(chatID, tgbotapi.ChatTyping)

	data, err := h.downloadFile(ctx, doc.FileID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to download document")
		h.reply(chatID, message.MessageID, h.localizer.Get(h.lang(), i18n.MsgError, nil))
		return nil
	}

	req := &ai.Request{
		Model:  modelID,
		System: persona,
		Parts: []ai.Part{
			{Text: caption},
			{Text: string(data)},
		},
	}

	start := time.Now()
	resp, err := h.aiService.Generate(ctx, req)
	if err != nil {
		h.metrics.RecordModelRequest(modelID, "error", time.Since(start))
		h.logger.WithError(err).WithField("user_id", userID).Error("Document analysis failed")
		h.reply(chatID, message.MessageID, h.modelErrorText(err))
		return nil
	}
	h.metrics.RecordModelRequest(modelID, "success", time.Since(start))

	if err := h.deliverText(ctx, chatID, resp.Text); err != nil {
		h.logger.WithError(err).Error("Failed to deliver response text")
	}
	h.recordUsage(ctx, userID, resp)
	return nil
}

func (h *MessageHandler) recordUsage(ctx context.Context, userID int64, resp *ai.Response) {
	if resp.Usage == nil {
		return
	}
	h.meter.Record(ctx, userID, resp.Usage)
	h.metrics.RecordTokens(resp.Usage.TotalTokens)
}

func (h *MessageHandler) deliverText(ctx context.Context, chatID int64, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	pause := func(ctx context.Context, d time.Duration) {
		select {
		case <-ctx.Done():
		case <-time.After(d):
		}
	}
	return sendChunked(ctx, h.bot, &h.config.Stream, h.logger, chatID, text, pause)
}

// modelErrorText maps a model failure to its user-facing notice.
func (h *MessageHandler) modelErrorText(err error) string {
	var blocked *ai.BlockedError
	var finish *ai.FinishError
	switch {
	case errors.As(err, &blocked):
		return h.localizer.Get(h.lang(), i18n.MsgBlocked, map[string]interface{}{"Reason": blocked.Reason})
	case errors.As(err, &finish):
		return h.localizer.Get(h.lang(), i18n.MsgStoppedEarly, map[string]interface{}{"Reason": finish.Reason})
	case errors.Is(err, ai.ErrEmptyResponse):
		return h.localizer.Get(h.lang(), i18n.MsgNoContent, nil)
	default:
		return h.localizer.Get(h.lang(), i18n.MsgError, nil)
	}
}

func (h *MessageHandler) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	url, err := h.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file download failed with status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (h *MessageHandler) reply(chatID int64, replyTo int, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyTo
	if _, err := h.bot.Send(msg); err != nil {
		h.logger.WithError(err).Error("Failed to send reply")
	}
}

func (h *MessageHandler) sendChatAction(chatID int64, action string) {
	if _, err := h.bot.Request(tgbotapi.NewChatAction(chatID, action)); err != nil {
		h.logger.WithError(err).Debug("Failed to send chat action")
	}
}
