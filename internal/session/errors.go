package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error kinds matched with errors.Is
var (
	ErrBadRequest        = errors.New("bad request")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrEntityTooLarge    = errors.New("entity too large")
	ErrServerError       = errors.New("server error")
	ErrMalformedResponse = errors.New("malformed response")
	ErrSessionClosed     = errors.New("session is closed")
)

// ResponseParameters describes why a request failed and how to recover
type ResponseParameters struct {
	MigrateToChatID *int64 `json:"migrate_to_chat_id,omitempty"`
	RetryAfter      *int   `json:"retry_after,omitempty"`
}

// Response is the envelope every Bot API call answers with
type Response struct {
	OK          bool                `json:"ok"`
	Result      json.RawMessage     `json:"result,omitempty"`
	Description string              `json:"description,omitempty"`
	ErrorCode   int                 `json:"error_code,omitempty"`
	Parameters  *ResponseParameters `json:"parameters,omitempty"`
}

// APIError is a failed Bot API call
type APIError struct {
	Method      string
	Code        int
	Description string
	kind        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s failed with code %d: %s", e.Method, e.Code, e.Description)
}

func (e *APIError) Unwrap() error {
	return e.kind
}

// RetryAfterError is returned when flood control rejects a request
type RetryAfterError struct {
	*APIError
	RetryAfter time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("telegram: %s flood control exceeded, retry in %s", e.Method, e.RetryAfter)
}

func (e *RetryAfterError) Unwrap() error {
	return e.APIError
}

// MigrateToChatError is returned when a group was upgraded to a supergroup
type MigrateToChatError struct {
	*APIError
	ChatID int64
}

func (e *MigrateToChatError) Error() string {
	return fmt.Sprintf("telegram: %s chat migrated to %d", e.Method, e.ChatID)
}

func (e *MigrateToChatError) Unwrap() error {
	return e.APIError
}

func kindForCode(code int) error {
	switch {
	case code == http.StatusBadRequest:
		return ErrBadRequest
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusConflict:
		return ErrConflict
	case code == http.StatusRequestEntityTooLarge:
		return ErrEntityTooLarge
	case code >= http.StatusInternalServerError:
		return ErrServerError
	}
	return nil
}

// CheckResponse decodes a response body and returns the call result, or the
// error the response describes.
func CheckResponse(method string, statusCode int, body []byte) (json.RawMessage, error) {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w (status %d): %v", method, ErrMalformedResponse, statusCode, err)
	}

	if statusCode >= http.StatusOK && statusCode <= http.StatusIMUsed && resp.OK {
		return resp.Result, nil
	}

	code := resp.ErrorCode
	if code == 0 {
		code = statusCode
	}
	apiErr := &APIError{
		Method:      method,
		Code:        code,
		Description: resp.Description,
		kind:        kindForCode(code),
	}

	if resp.Parameters != nil {
		if resp.Parameters.RetryAfter != nil {
			return nil, &RetryAfterError{
				APIError:   apiErr,
				RetryAfter: time.Duration(*resp.Parameters.RetryAfter) * time.Second,
			}
		}
		if resp.Parameters.MigrateToChatID != nil {
			return nil, &MigrateToChatError{
				APIError: apiErr,
				ChatID:   *resp.Parameters.MigrateToChatID,
			}
		}
	}

	return nil, apiErr
}
