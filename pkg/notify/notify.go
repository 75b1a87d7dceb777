// Package notify delivers party notifications raised by on-chain events.
// Delivery is best effort: callers log failures and carry on.
package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrRateLimited is returned when a destination exceeded its notification budget.
var ErrRateLimited = errors.New("notification rate limited")

// Notification is a single message for a party contact.
type Notification struct {
	PartyID     string
	Destination string
	ProductID   string
	EventTag    string
}

// Body renders the message text.
func (n Notification) Body() string {
	return fmt.Sprintf("Product: %s Event: %s", n.ProductID, n.EventTag)
}

// Sink delivers notifications.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// LogSink writes notifications to the log instead of delivering them.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log-only sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Notify logs the notification.
func (s *LogSink) Notify(_ context.Context, n Notification) error {
	s.logger.Info("Party notification",
		zap.String("party_id", n.PartyID),
		zap.String("destination", n.Destination),
		zap.String("body", n.Body()))
	return nil
}
