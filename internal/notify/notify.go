// Package notify delivers approved appointment requests to clinic staff.
//
// A Notifier is chosen at startup by channel name. The log channel only records the request;
// the twilio and whatsapp channels forward it as a WhatsApp message to a staff number.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/CarePipe/internal/models"
)

// Channel names accepted by configuration.
const (
	ChannelLog      = "log"
	ChannelTwilio   = "twilio"
	ChannelWhatsApp = "whatsapp"
)

// Error variables for notification failures.
var (
	ErrUnknownChannel  = errors.New("unknown notification channel")
	ErrEmptyRecipient  = errors.New("recipient cannot be empty")
	ErrEmptyBody       = errors.New("message body cannot be empty")
	ErrNotConnected    = errors.New("notifier not connected")
	ErrMissingTwilioID = errors.New("account SID and auth token must be provided")
	ErrMissingSender   = errors.New("sender number must be provided")
)

// Notification is one approved request addressed to clinic staff.
type Notification struct {
	SessionID string
	Intent    models.Intent
	To        string // clinic contact address the patient addressed
	Subject   string
	Body      string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// IsValidChannel reports whether name is a known channel.
func IsValidChannel(name string) bool {
	switch name {
	case ChannelLog, ChannelTwilio, ChannelWhatsApp:
		return true
	default:
		return false
	}
}

// Format renders a notification as plain message text.
func Format(n Notification) string {
	var b strings.Builder
	if n.Subject != "" {
		b.WriteString(n.Subject)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Session: %s\nIntent: %s\n", n.SessionID, n.Intent)
	if n.To != "" {
		fmt.Fprintf(&b, "To: %s\n", n.To)
	}
	b.WriteString("\n")
	b.WriteString(n.Body)
	return b.String()
}

// LogNotifier records notifications in the application log. Patient details in the body are
// not logged.
type LogNotifier struct{}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// Notify logs the notification metadata.
func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	if strings.TrimSpace(n.Body) == "" {
		return ErrEmptyBody
	}
	slog.Info("LogNotifier.Notify: request submitted", "session", n.SessionID, "intent", n.Intent, "to", n.To, "body_length", len(n.Body))
	return nil
}
