package commbus

import (
	"context"
)

// =============================================================================
// LOGGING MIDDLEWARE
// =============================================================================

// LoggingMiddleware logs every message that crosses the bus through the
// same BusLogger the bus itself was built with, rather than the
// standard log package, so bus traffic lands in the agent's structured
// log stream alongside everything else.
type LoggingMiddleware struct {
	logger BusLogger
}

// NewLoggingMiddleware creates a LoggingMiddleware that writes through logger.
func NewLoggingMiddleware(logger BusLogger) *LoggingMiddleware {
	if logger == nil {
		logger = NoopBusLogger()
	}
	return &LoggingMiddleware{logger: logger}
}

// Before logs message receipt.
func (m *LoggingMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	m.logger.Debug("commbus: dispatching", "category", message.Category(), "type", GetMessageType(message))
	return message, nil
}

// After logs message completion.
func (m *LoggingMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	if err != nil {
		m.logger.Warn("commbus: handler failed", "type", GetMessageType(message), "err", err.Error())
	} else {
		m.logger.Debug("commbus: handled", "type", GetMessageType(message))
	}
	return result, nil
}

// Ensure LoggingMiddleware implements Middleware.
var _ Middleware = (*LoggingMiddleware)(nil)
