package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/CarePipe/internal/util"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

const (
	// DefaultWhatsAppDBPath is the default SQLite path for the linked device store.
	DefaultWhatsAppDBPath = "whatsmeow.db?_foreign_keys=on"
	// JIDSuffix is the WhatsApp JID suffix for regular users.
	JIDSuffix = "s.whatsapp.net"
)

// messageSender is the part of the whatsmeow client the notifier uses.
type messageSender interface {
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
}

// WhatsAppOpts holds configuration options for the WhatsApp notifier.
type WhatsAppOpts struct {
	DBDSN       string    // whatsmeow device store connection string
	StaffNumber string    // staff phone number, digits only with country code
	QROutput    io.Writer // login QR destination, stdout when nil
	NumericCode bool      // print the raw pairing code instead of a QR
}

// WhatsAppOption defines a configuration option for the WhatsApp notifier.
type WhatsAppOption func(*WhatsAppOpts)

// WithDBDSN sets the device store connection string.
func WithDBDSN(dsn string) WhatsAppOption {
	return func(o *WhatsAppOpts) { o.DBDSN = dsn }
}

// WithStaffJID sets the staff phone number.
func WithStaffJID(number string) WhatsAppOption {
	return func(o *WhatsAppOpts) { o.StaffNumber = number }
}

// WithQROutput writes the login QR code to w.
func WithQROutput(w io.Writer) WhatsAppOption {
	return func(o *WhatsAppOpts) { o.QROutput = w }
}

// WithNumericCode prints the pairing code instead of rendering a QR.
func WithNumericCode() WhatsAppOption {
	return func(o *WhatsAppOpts) { o.NumericCode = true }
}

// WhatsAppNotifier sends notifications from a linked WhatsApp device.
type WhatsAppNotifier struct {
	sender messageSender
	client *whatsmeow.Client
	staff  types.JID
}

// staffJID turns a phone number in any common format into a user JID.
func staffJID(number string) (types.JID, error) {
	digits := util.PhoneDigits(number)
	if digits == "" {
		return types.JID{}, ErrEmptyRecipient
	}
	return types.NewJID(digits, JIDSuffix), nil
}

// NewWhatsAppNotifier opens the device store, logs in with a QR code when the device is not yet
// linked, and connects.
func NewWhatsAppNotifier(ctx context.Context, opts ...WhatsAppOption) (*WhatsAppNotifier, error) {
	var cfg WhatsAppOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	staff, err := staffJID(cfg.StaffNumber)
	if err != nil {
		return nil, err
	}
	dsn := cfg.DBDSN
	if dsn == "" {
		dsn = DefaultWhatsAppDBPath
	}

	driver := util.DSNTypeSQLite
	if util.DetectDSNType(dsn) == util.DSNTypePostgres {
		driver = util.DSNTypePostgres
	} else if !strings.Contains(dsn, "foreign_keys") {
		slog.Warn("WhatsAppNotifier.New: SQLite device store does not enable foreign keys, which whatsmeow recommends",
			"dsn_example", "file:"+dsn+"?_foreign_keys=on")
	}
	slog.Debug("WhatsAppNotifier.New: opening device store", "driver", driver)

	container, err := sqlstore.New(ctx, driver, dsn, waLog.Stdout("Database", "WARN", true))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize WhatsApp device store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}
	client := whatsmeow.NewClient(device, waLog.Stdout("Client", "WARN", true))

	if client.Store.ID == nil {
		slog.Info("WhatsAppNotifier.New: login required, starting QR flow")
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to open WhatsApp QR channel: %w", err)
		}
		if err := client.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
		}
		out := cfg.QROutput
		if out == nil {
			out = os.Stdout
		}
		for evt := range qrChan {
			if evt.Event != "code" {
				slog.Debug("WhatsAppNotifier.New: login event", "event", evt.Event)
				continue
			}
			if cfg.NumericCode {
				fmt.Fprintln(out, evt.Code)
			} else {
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, out)
			}
		}
	} else if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
	}
	slog.Info("WhatsAppNotifier.New: connected")
	return &WhatsAppNotifier{sender: client, client: client, staff: staff}, nil
}

// Notify sends the notification to the staff number.
func (w *WhatsAppNotifier) Notify(ctx context.Context, n Notification) error {
	if w.sender == nil {
		return ErrNotConnected
	}
	if strings.TrimSpace(n.Body) == "" {
		return ErrEmptyBody
	}
	msg := &waE2E.Message{Conversation: proto.String(Format(n))}
	if _, err := w.sender.SendMessage(ctx, w.staff, msg); err != nil {
		slog.Error("WhatsAppNotifier.Notify: send failed", "session", n.SessionID, "error", err)
		return fmt.Errorf("failed to send notification for session %s: %w", n.SessionID, err)
	}
	slog.Debug("WhatsAppNotifier.Notify: message sent", "session", n.SessionID)
	return nil
}

// Close disconnects the linked device.
func (w *WhatsAppNotifier) Close() error {
	if w.client != nil {
		w.client.Disconnect()
	}
	return nil
}
