package collaborators

import (
	"context"
	"log/slog"
)

// NotificationType discriminates the payload shape sent to a device.
type NotificationType string

// NotificationNewAssignment is the only discriminator the dispatch core
// emits today: a provider has a fresh offer waiting.
const NotificationNewAssignment NotificationType = "new_assignment"

// NotificationData is the structured payload attached to a push
// notification. BookingID and OfferID are always present; Type is always
// NotificationNewAssignment for offers emitted by the dispatch core.
type NotificationData struct {
	BookingID string           `json:"booking_id"`
	OfferID   string           `json:"offer_id"`
	Type      NotificationType `json:"type"`
	Service   string           `json:"service_name,omitempty"`
	Earnings  string           `json:"estimated_earnings,omitempty"`
}

// Notifier delivers a best-effort push notification to a device. Failure is
// logged and never alters dispatch state — see the system's error taxonomy
// for transient infrastructure errors.
type Notifier interface {
	Send(ctx context.Context, deviceToken, title, body string, data NotificationData) error
}

// LoggingNotifier is a Notifier that only logs; it stands in for a real push
// provider (FCM, APNs) until one is wired, and is sufficient for tests and
// environments that should stay offline.
type LoggingNotifier struct {
	logger *slog.Logger
}

// NewLoggingNotifier creates a Notifier that logs instead of delivering.
func NewLoggingNotifier(logger *slog.Logger) *LoggingNotifier {
	return &LoggingNotifier{logger: logger}
}

// Send implements Notifier.
func (n *LoggingNotifier) Send(ctx context.Context, deviceToken, title, body string, data NotificationData) error {
	n.logger.Info("push notification",
		slog.String("title", title),
		slog.String("body", body),
		slog.String("booking_id", data.BookingID),
		slog.String("offer_id", data.OfferID),
		slog.String("type", string(data.Type)),
	)
	return nil
}

var _ Notifier = (*LoggingNotifier)(nil)
