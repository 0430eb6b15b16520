package rest

import (
	"fmt"
	"mime"
	"net/http"

	"github.com/buger/jsonparser"
	"github.com/goccy/go-json"
)

const (
	// ErrorCodeUnknown is attached to API errors whose payload carries no
	// extension code.
	ErrorCodeUnknown = "UNKNOWN"

	// DefaultAuthErrorCode is the extension code the API uses to report
	// credential failures.
	DefaultAuthErrorCode = "UNAUTHENTICATED"

	jsonContentType = "application/json"
)

// Classifier maps an HTTP response to either the data section of the GraphQL
// payload or a typed error. The status groups and the auth code are
// configuration data, not logic: callers may swap them out wholesale.
type Classifier struct {
	// RetriableStatuses are statuses the API uses for transient failures.
	RetriableStatuses []int

	// FatalStatuses are client-error statuses that must not be retried.
	FatalStatuses []int

	// AuthErrorCode is the extension code, within the fatal group, that
	// denotes an authentication failure.
	AuthErrorCode string
}

// NewClassifier returns a Classifier with the status groups the API
// documents today.
func NewClassifier() *Classifier {
	return &Classifier{
		RetriableStatuses: []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
		FatalStatuses: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
		},
		AuthErrorCode: DefaultAuthErrorCode,
	}
}

// Classify turns a response into the data section of its payload, or into
// one of RetryableError, FatalError or InvalidCredentialsError. It has no
// side effects; logging the decision is up to the caller.
func (c *Classifier) Classify(status int, contentType string, body []byte) (json.RawMessage, error) {
	if mediaType(contentType) != jsonContentType {
		return nil, &FatalError{APIError{
			Status:  status,
			Code:    ErrorCodeUnknown,
			Message: fmt.Sprintf("unexpected content type: %s", contentType),
		}}
	}

	if status >= http.StatusOK && status < http.StatusMultipleChoices {
		data, dataType, _, err := jsonparser.Get(body, "data")
		if err != nil || dataType == jsonparser.Null {
			// No data section. The caller treats this as "no data".
			return nil, nil
		}
		return json.RawMessage(data), nil
	}

	code, message := errorDetails(body)

	switch {
	case containsStatus(c.RetriableStatuses, status):
		return nil, &RetryableError{APIError{Status: status, Code: code, Message: message}}
	case containsStatus(c.FatalStatuses, status):
		if code == c.AuthErrorCode {
			return nil, &InvalidCredentialsError{FatalError{APIError{Status: status, Code: code, Message: message}}}
		}
		return nil, &FatalError{APIError{Status: status, Code: code, Message: message}}
	default:
		return nil, &FatalError{APIError{
			Status:  status,
			Code:    code,
			Message: fmt.Sprintf("unhandled error: %s", message),
		}}
	}
}

// errorDetails extracts the code and message of the first reported GraphQL
// error without decoding the whole payload.
func errorDetails(body []byte) (code, message string) {
	code = ErrorCodeUnknown
	message = "unknown error"

	if msg, err := jsonparser.GetString(body, "errors", "[0]", "message"); err == nil {
		message = msg
	}
	if c, err := jsonparser.GetString(body, "errors", "[0]", "extensions", "code"); err == nil {
		code = c
	}
	return code, message
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return contentType
	}
	return mt
}

func containsStatus(statuses []int, status int) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
