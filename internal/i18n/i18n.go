package i18n

import (
	"encoding/json"
	"fmt"

	"github.com/gem-ai-tgbot-go/internal/config"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer creates a new localizer
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	// Load language files
	for _, lang := range cfg.Languages {
		if _, err := bundle.LoadMessageFile(fmt.Sprintf("configs/i18n/%s.json", lang)); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
	}

	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range cfg.Languages {
		localizers[lang] = i18n.NewLocalizer(bundle, lang)
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: cfg.DefaultLanguage,
		localizers:      localizers,
	}, nil
}

// Get returns localized message
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}
	if localizer == nil {
		return messageID
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID // Fallback to message ID
	}

	return msg
}

// Message IDs
const (
	MsgWelcome             = "welcome"
	MsgHelp                = "help"
	MsgAccessDenied        = "access_denied"
	MsgPlaceholder         = "placeholder"
	MsgRateLimitExceeded   = "rate_limit_exceeded"
	MsgError               = "error"
	MsgNoContent           = "no_content"
	MsgBlocked             = "blocked"
	MsgStoppedEarly        = "stopped_early"
	MsgHistoryCleared      = "history_cleared"
	MsgUsageStats          = "usage_stats"
	MsgPersonaSet          = "persona_set"
	MsgPersonaReset        = "persona_reset"
	MsgSelectModel         = "select_model"
	MsgModelChanged        = "model_changed"
	MsgModelInvalid        = "model_invalid"
	MsgChatsList           = "chats_list"
	MsgChatsEmpty          = "chats_empty"
	MsgChatSaved           = "chat_saved"
	MsgChatSwitched        = "chat_switched"
	MsgChatDeleted         = "chat_deleted"
	MsgChatNameInvalid     = "chat_name_invalid"
	MsgChatNameReserved    = "chat_name_reserved"
	MsgChatEmptySource     = "chat_empty_source"
	MsgSaveUsage           = "save_usage"
	MsgPhotoModelRequired  = "photo_model_required"
	MsgDocModelRequired    = "doc_model_required"
	MsgDocUnsupported      = "doc_unsupported"
	MsgFileReceived        = "file_received"
	MsgUnknownCommand      = "unknown_command"
)
