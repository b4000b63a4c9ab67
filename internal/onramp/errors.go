package onramp

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ErrorKind classifies a flow failure.
type ErrorKind string

const (
	KindNetworkError  ErrorKind = "network-error"
	KindHTTPError     ErrorKind = "http-error"
	KindWidgetLoad    ErrorKind = "widget-load-error"
	KindWidgetRuntime ErrorKind = "widget-runtime-error"
)

// APIError is a typed failure from the order API. Kind is network-error for
// transport failures (including timeouts) and http-error for non-2xx
// responses, in which case Message carries the server-provided error text.
type APIError struct {
	Kind       ErrorKind
	StatusCode int // non-zero for http-error
	Message    string
}

func (e *APIError) Error() string {
	if e.Kind == KindHTTPError {
		return fmt.Sprintf("order API: %s (status %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("order API: %s", e.Message)
}

// WidgetError is a typed failure raised by a widget adapter, either while
// loading the third-party widget module or from the widget's own error event.
type WidgetError struct {
	Kind    ErrorKind
	Message string
}

func (e *WidgetError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// userMessage extracts the human-readable text stored on the Order aggregate
// for a flow failure. Typed errors carry a server- or widget-provided
// message; anything else falls back to Error().
func userMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	var widgetErr *WidgetError
	if errors.As(err, &widgetErr) {
		return widgetErr.Message
	}
	return err.Error()
}
