package methods

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Method is a Bot API call that knows how to build its request
type Method interface {
	APIMethod() string
	BuildRequest() (*Request, error)
}

// ErrInvalidParameter is wrapped by every request validation failure
var ErrInvalidParameter = errors.New("invalid parameter")

func invalid(method, field, reason string) error {
	return fmt.Errorf("%s: %w: %s %s", method, ErrInvalidParameter, field, reason)
}

// validateChatID accepts any integer kind or a non-empty username
func validateChatID(method string, chatID any) error {
	rv := reflect.ValueOf(chatID)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Int() == 0 {
			return invalid(method, "chat_id", "must not be zero")
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if rv.Uint() == 0 {
			return invalid(method, "chat_id", "must not be zero")
		}
	case reflect.String:
		if strings.TrimSpace(rv.String()) == "" {
			return invalid(method, "chat_id", "must not be empty")
		}
	default:
		return invalid(method, "chat_id", fmt.Sprintf("has unsupported type %T", chatID))
	}
	return nil
}

// GetMe returns basic information about the bot
type GetMe struct{}

func (GetMe) APIMethod() string { return "getMe" }

func (m GetMe) BuildRequest() (*Request, error) {
	return NewRequest(m.APIMethod()), nil
}

// GetUpdates receives incoming updates using long polling
type GetUpdates struct {
	Offset         *int64
	Limit          *int
	Timeout        *int
	AllowedUpdates []string
}

func (GetUpdates) APIMethod() string { return "getUpdates" }

func (m GetUpdates) BuildRequest() (*Request, error) {
	if m.Limit != nil && (*m.Limit < 1 || *m.Limit > 100) {
		return nil, invalid(m.APIMethod(), "limit", "must be between 1 and 100")
	}
	if m.Timeout != nil && *m.Timeout < 0 {
		return nil, invalid(m.APIMethod(), "timeout", "must not be negative")
	}

	req := NewRequest(m.APIMethod())
	req.Set("offset", m.Offset)
	req.Set("limit", m.Limit)
	req.Set("timeout", m.Timeout)
	if m.AllowedUpdates != nil {
		req.Set("allowed_updates", m.AllowedUpdates)
	}

	// Long polling holds the connection open for the poll timeout.
	if m.Timeout != nil && *m.Timeout > 0 {
		req.Timeout = time.Duration(*m.Timeout)*time.Second + 10*time.Second
	}
	return req, nil
}

// SendMessage sends a text message
type SendMessage struct {
	ChatID              any
	Text                string
	ParseMode           *string
	DisableNotification *bool
	ReplyToMessageID    *int64
	ReplyMarkup         any
}

func (SendMessage) APIMethod() string { return "sendMessage" }

func (m SendMessage) BuildRequest() (*Request, error) {
	if err := validateChatID(m.APIMethod(), m.ChatID); err != nil {
		return nil, err
	}
	if m.Text == "" {
		return nil, invalid(m.APIMethod(), "text", "must not be empty")
	}

	req := NewRequest(m.APIMethod())
	req.Set("chat_id", m.ChatID)
	req.Set("text", m.Text)
	req.Set("parse_mode", m.ParseMode)
	req.Set("disable_notification", m.DisableNotification)
	req.Set("reply_to_message_id", m.ReplyToMessageID)
	req.Set("reply_markup", m.ReplyMarkup)
	return req, nil
}

// SendDocument uploads a general file. Document is either an InputFile or a
// file_id/URL string.
type SendDocument struct {
	ChatID    any
	Document  any
	Caption   *string
	ParseMode *string
}

func (SendDocument) APIMethod() string { return "sendDocument" }

func (m SendDocument) BuildRequest() (*Request, error) {
	if err := validateChatID(m.APIMethod(), m.ChatID); err != nil {
		return nil, err
	}
	switch doc := m.Document.(type) {
	case InputFile:
	case string:
		if doc == "" {
			return nil, invalid(m.APIMethod(), "document", "must not be empty")
		}
	default:
		return nil, invalid(m.APIMethod(), "document", fmt.Sprintf("has unsupported type %T", m.Document))
	}

	req := NewRequest(m.APIMethod())
	req.Set("chat_id", m.ChatID)
	req.Set("document", m.Document)
	req.Set("caption", m.Caption)
	req.Set("parse_mode", m.ParseMode)
	return req, nil
}

// GetFile returns file metadata and the path used to download it
type GetFile struct {
	FileID string
}

func (GetFile) APIMethod() string { return "getFile" }

func (m GetFile) BuildRequest() (*Request, error) {
	if m.FileID == "" {
		return nil, invalid(m.APIMethod(), "file_id", "must not be empty")
	}
	req := NewRequest(m.APIMethod())
	req.Set("file_id", m.FileID)
	return req, nil
}

// DeleteWebhook removes the webhook integration so long polling can be used
type DeleteWebhook struct {
	DropPendingUpdates *bool
}

func (DeleteWebhook) APIMethod() string { return "deleteWebhook" }

func (m DeleteWebhook) BuildRequest() (*Request, error) {
	req := NewRequest(m.APIMethod())
	req.Set("drop_pending_updates", m.DropPendingUpdates)
	return req, nil
}

// Ptr returns a pointer to v, for optional parameters
func Ptr[T any](v T) *T {
	return &v
}
