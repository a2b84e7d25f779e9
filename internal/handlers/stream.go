package handlers

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gem-ai-tgbot-go/internal/config"
	"github.com/gem-ai-tgbot-go/internal/i18n"
	"github.com/gem-ai-tgbot-go/internal/middleware"
	"github.com/gem-ai-tgbot-go/internal/services/ai"
	"github.com/gem-ai-tgbot-go/internal/services/session"
	"github.com/gem-ai-tgbot-go/pkg/markdown"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// Sender is the subset of the bot API the handlers need. Satisfied by
// *tgbotapi.BotAPI; faked in tests.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot extends Sender with the file resolution the media handlers need.
type Bot interface {
	Sender
	GetFileDirectURL(fileID string) (string, error)
}

type deliveryState int

const (
	deliveryStarted deliveryState = iota
	deliveryStreaming
	deliveryFinalized
	deliveryFailed
)

// Appended to live edits so the user can tell the reply is still growing.
const typingCursor = " ✍️"

// Margin below the outbound limit at which live editing stops and full
// delivery is deferred to finalization.
const editHeadroom = 10

// streamDelivery renders one incrementally-arriving model response into a
// live-updating Telegram message. It owns a single outbound delivery:
// placeholder first, paced edits while fragments arrive, then one
// authoritative final delivery (size-chunked), with history and usage
// persistence on success.
type streamDelivery struct {
	bot       Sender
	cfg       *config.StreamConfig
	localizer *i18n.Localizer
	lang      string
	history   *session.History
	meter     *session.Meter
	metrics   *middleware.Metrics
	logger    *logrus.Logger

	state deliveryState

	// injectable for tests
	now   func() time.Time
	pause func(ctx context.Context, d time.Duration)
}

func newStreamDelivery(
	bot Sender,
	cfg *config.StreamConfig,
	localizer *i18n.Localizer,
	lang string,
	history *session.History,
	meter *session.Meter,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *streamDelivery {
	return &streamDelivery{
		bot:       bot,
		cfg:       cfg,
		localizer: localizer,
		lang:      lang,
		history:   history,
		meter:     meter,
		metrics:   metrics,
		logger:    logger,
		state:     deliveryStarted,
		now:       time.Now,
		pause: func(ctx context.Context, d time.Duration) {
			select {
			case <-ctx.Done():
			case <-time.After(d):
			}
		},
	}
}

// Run consumes the fragment stream and drives the delivery to a terminal
// state. On successful finalization with non-empty text it appends the
// (userText, final) pair to the active history and records token usage.
func (d *streamDelivery) Run(ctx context.Context, userID, chatID int64, replyTo int, chatName, userText string, stream ai.Stream) error {
	defer stream.Close()

	placeholder := tgbotapi.NewMessage(chatID, d.localizer.Get(d.lang, i18n.MsgPlaceholder, nil))
	placeholder.ReplyToMessageID = replyTo
	sent, err := d.bot.Send(placeholder)
	if err != nil {
		d.state = deliveryFailed
		d.metrics.RecordStream("failed")
		return err
	}
	d.state = deliveryStreaming

	var buffer strings.Builder
	lastRendered := ""
	lastEdit := d.now()
	editingStopped := false

	for {
		fragment, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			d.fail(chatID, sent.MessageID, err)
			return err
		}
		buffer.WriteString(fragment)

		if editingStopped {
			continue
		}
		// Defer to finalization once the buffer would no longer fit
		if utf8.RuneCountInString(buffer.String()) >= d.cfg.ChunkSize-editHeadroom {
			editingStopped = true
			continue
		}
		if d.now().Sub(lastEdit) < d.cfg.EditInterval {
			continue
		}
		current := buffer.String()
		if current == lastRendered {
			continue
		}

		edit := tgbotapi.NewEditMessageText(chatID, sent.MessageID, current+typingCursor)
		if _, err := d.bot.Send(edit); err != nil {
			if !isNotModifiedError(err) {
				d.logger.WithError(err).Warn("Failed to edit placeholder")
			}
			continue
		}
		d.metrics.RecordStreamEdit()
		lastRendered = current
		lastEdit = d.now()
	}

	d.deletePlaceholder(chatID, sent.MessageID)

	final := buffer.String()
	if strings.TrimSpace(final) == "" {
		d.state = deliveryFinalized
		d.metrics.RecordStream("empty")
		d.notify(chatID, d.localizer.Get(d.lang, i18n.MsgNoContent, nil))
		return nil
	}

	if err := d.sendFinal(ctx, chatID, final); err != nil {
		d.state = deliveryFailed
		d.metrics.RecordStream("failed")
		d.notify(chatID, d.localizer.Get(d.lang, i18n.MsgError, nil))
		return err
	}

	d.state = deliveryFinalized
	d.metrics.RecordStream("finalized")

	d.history.AppendPair(ctx, userID, chatName, userText, final)
	if usage := stream.Usage(); usage != nil {
		d.meter.Record(ctx, userID, usage)
		d.metrics.RecordTokens(usage.TotalTokens)
	}
	return nil
}

func (d *streamDelivery) sendFinal(ctx context.Context, chatID int64, text string) error {
	return sendChunked(ctx, d.bot, d.cfg, d.logger, chatID, text, d.pause)
}

// sendChunked delivers text as size-chunked messages with a short delay
// between chunks. A chunk whose HTML fails to parse is retried once as
// plain text; any other send failure aborts.
func sendChunked(ctx context.Context, bot Sender, cfg *config.StreamConfig, logger *logrus.Logger, chatID int64, text string, pause func(context.Context, time.Duration)) error {
	chunks := splitChunks(text, cfg.ChunkSize)
	for i, chunk := range chunks {
		if i > 0 {
			pause(ctx, cfg.ChunkDelay)
		}

		msg := tgbotapi.NewMessage(chatID, markdown.ToTelegramHTML(chunk))
		msg.ParseMode = tgbotapi.ModeHTML
		if _, err := bot.Send(msg); err != nil {
			if !isParseError(err) {
				return err
			}
			logger.WithError(err).Warn("HTML send failed, retrying as plain text")
			plain := tgbotapi.NewMessage(chatID, chunk)
			if _, err := bot.Send(plain); err != nil {
				return err
			}
		}
	}
	return nil
}

// fail transitions to the terminal FAILED state: the placeholder is removed,
// the user gets a short notice matched to the error category, and no
// history turn is persisted.
func (d *streamDelivery) fail(chatID int64, placeholderID int, cause error) {
	d.state = deliveryFailed
	d.metrics.RecordStream("failed")
	d.deletePlaceholder(chatID, placeholderID)

	var blocked *ai.BlockedError
	var finish *ai.FinishError
	switch {
	case errors.As(cause, &blocked):
		d.notify(chatID, d.localizer.Get(d.lang, i18n.MsgBlocked, map[string]interface{}{
			"Reason": blocked.Reason,
		}))
	case errors.As(cause, &finish):
		d.notify(chatID, d.localizer.Get(d.lang, i18n.MsgStoppedEarly, map[string]interface{}{
			"Reason": finish.Reason,
		}))
	default:
		d.logger.WithError(cause).Error("Stream failed mid-delivery")
		d.notify(chatID, d.localizer.Get(d.lang, i18n.MsgError, nil))
	}
}

func (d *streamDelivery) deletePlaceholder(chatID int64, messageID int) {
	if _, err := d.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		d.logger.WithError(err).Warn("Failed to delete placeholder")
	}
}

func (d *streamDelivery) notify(chatID int64, text string) {
	if _, err := d.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		d.logger.WithError(err).Error("Failed to send notice")
	}
}

// splitChunks splits text into rune-safe pieces of at most size runes.
func splitChunks(text string, size int) []string {
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}
	var chunks []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

func isNotModifiedError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}

func isParseError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "can't parse entities")
}
