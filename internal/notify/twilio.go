package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// messageCreator is the part of the Twilio REST API the notifier uses.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioOpts holds configuration options for the Twilio notifier.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	From       string // WhatsApp sender in "whatsapp:+1234567890" format
	StaffTo    string // staff number in E.164 format
}

// TwilioOption defines a configuration option for the Twilio notifier.
type TwilioOption func(*TwilioOpts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithFrom sets the WhatsApp sender number.
func WithFrom(from string) TwilioOption {
	return func(o *TwilioOpts) { o.From = from }
}

// WithStaffNumber sets the staff recipient.
func WithStaffNumber(to string) TwilioOption {
	return func(o *TwilioOpts) { o.StaffTo = to }
}

// TwilioNotifier sends notifications as WhatsApp messages through the Twilio REST API.
type TwilioNotifier struct {
	api     messageCreator
	from    string
	staffTo string
}

// NewTwilioNotifier creates a Twilio notifier. Unset credentials fall back to TWILIO_ACCOUNT_SID,
// TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
func NewTwilioNotifier(opts ...TwilioOption) (*TwilioNotifier, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("TwilioNotifier.New: config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "",
		"StaffTo_set", cfg.StaffTo != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, ErrMissingTwilioID
	}
	if cfg.From == "" {
		return nil, ErrMissingSender
	}
	if cfg.StaffTo == "" {
		return nil, ErrEmptyRecipient
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioNotifier{api: client.Api, from: whatsAppAddress(cfg.From), staffTo: cfg.StaffTo}, nil
}

func whatsAppAddress(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}

// Notify sends the notification to the staff number.
func (t *TwilioNotifier) Notify(_ context.Context, n Notification) error {
	if t.api == nil {
		return ErrNotConnected
	}
	body := Format(n)
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(whatsAppAddress(t.staffTo))
	params.SetFrom(t.from)
	params.SetBody(body)

	if _, err := t.api.CreateMessage(params); err != nil {
		slog.Error("TwilioNotifier.Notify: send failed", "session", n.SessionID, "error", err)
		return fmt.Errorf("failed to send notification for session %s: %w", n.SessionID, err)
	}
	slog.Debug("TwilioNotifier.Notify: message sent", "session", n.SessionID)
	return nil
}
