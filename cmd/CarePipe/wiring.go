package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/BTreeMap/CarePipe/internal/appointments"
	"github.com/BTreeMap/CarePipe/internal/config"
	"github.com/BTreeMap/CarePipe/internal/flow"
	"github.com/BTreeMap/CarePipe/internal/notify"
)

// buildNotifier creates the configured staff notification channel. The returned close function
// is always safe to call.
func buildNotifier(ctx context.Context, cfg config.Config, qrOut io.Writer) (flow.Notifier, func(), error) {
	noop := func() {}
	switch cfg.Notifier {
	case notify.ChannelTwilio:
		n, err := notify.NewTwilioNotifier(
			notify.WithAccountSID(cfg.Twilio.AccountSID),
			notify.WithAuthToken(cfg.Twilio.AuthToken),
			notify.WithFrom(cfg.Twilio.From),
			notify.WithStaffNumber(cfg.StaffNumber),
		)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create Twilio notifier: %w", err)
		}
		return n, noop, nil
	case notify.ChannelWhatsApp:
		n, err := notify.NewWhatsAppNotifier(ctx,
			notify.WithDBDSN(cfg.ResolvePath(cfg.WhatsAppDSN)),
			notify.WithStaffJID(cfg.StaffNumber),
			notify.WithQROutput(qrOut),
		)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create WhatsApp notifier: %w", err)
		}
		return n, func() { n.Close() }, nil
	case notify.ChannelLog, "":
		return notify.NewLogNotifier(), noop, nil
	default:
		return nil, noop, fmt.Errorf("%q: %w", cfg.Notifier, notify.ErrUnknownChannel)
	}
}

// openStore opens the configured appointment store, resolving relative paths against the state
// directory.
func openStore(cfg config.Config) (appointments.Store, error) {
	dsn := cfg.ResolvePath(cfg.AppointmentsDSN)
	s, err := appointments.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open appointments store: %w", err)
	}
	if js, ok := s.(*appointments.JSONStore); ok {
		if _, err := os.Stat(js.Path()); err != nil {
			slog.Warn("openStore: appointments file not readable, lookups will fail until it exists", "path", js.Path(), "error", err)
		}
	}
	return s, nil
}

// ensureStateDir creates the state directory.
func ensureStateDir(cfg config.Config) error {
	if cfg.StateDir == "" {
		return nil
	}
	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", cfg.StateDir)
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	return nil
}
