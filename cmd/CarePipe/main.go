// Command carepipe runs the clinic appointment assistant as an interactive console or an HTTP
// server.
package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/BTreeMap/CarePipe/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("CarePipe failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Default()
	root := &cobra.Command{
		Use:   "carepipe",
		Short: "Clinic appointment assistant",
		Long: `carepipe helps patients book, reschedule and cancel clinic appointments.

It runs either as an interactive console conversation (chat) or as an HTTP
server exposing the chat, email and appointment endpoints (serve).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			loaded, err := config.Load(path)
			if err != nil {
				return err
			}
			applyFlags(cmd.Flags(), &loaded)
			cfg = loaded
			slog.SetDefault(newLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr()))
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "path to a YAML config file")
	pf.String("log-level", "", "log level: debug, info, warn or error (overrides $CAREPIPE_LOG_LEVEL)")
	pf.String("log-format", "", "log format: text or json (overrides $CAREPIPE_LOG_FORMAT)")
	pf.String("state-dir", "", "directory for relative data files (overrides $CAREPIPE_STATE_DIR)")
	pf.String("clinic-name", "", "clinic name shown to patients (overrides $CAREPIPE_CLINIC_NAME)")
	pf.String("clinic-email", "", "clinic contact address (overrides $CAREPIPE_CLINIC_EMAIL)")
	pf.String("model", "", "OpenAI chat model (overrides $CAREPIPE_MODEL)")
	pf.String("openai-api-key", "", "OpenAI API key (overrides $OPENAI_API_KEY)")
	pf.String("appointments-dsn", "", "appointments store: JSON file, SQLite path, Postgres DSN or 'memory' (overrides $CAREPIPE_APPOINTMENTS_DSN)")
	pf.String("notifier", "", "staff notification channel: log, twilio or whatsapp (overrides $CAREPIPE_NOTIFIER)")
	pf.String("staff-number", "", "staff phone number for notifications (overrides $CAREPIPE_STAFF_NUMBER)")
	pf.Int("max-calls", 0, "generation call ceiling per conversation (overrides $CAREPIPE_MAX_CALLS)")
	pf.Bool("debug", false, "record every model call under the state directory")

	root.AddCommand(
		newVersionCmd(),
		newChatCmd(&cfg),
		newServeCmd(&cfg),
		newImportCmd(&cfg),
	)
	return root
}

// applyFlags overlays the flags the user actually set.
func applyFlags(fs *pflag.FlagSet, cfg *config.Config) {
	strFlags := map[string]*string{
		"log-level":        &cfg.LogLevel,
		"log-format":       &cfg.LogFormat,
		"state-dir":        &cfg.StateDir,
		"clinic-name":      &cfg.ClinicName,
		"clinic-email":     &cfg.ClinicEmail,
		"model":            &cfg.Model,
		"openai-api-key":   &cfg.OpenAIKey,
		"appointments-dsn": &cfg.AppointmentsDSN,
		"notifier":         &cfg.Notifier,
		"staff-number":     &cfg.StaffNumber,
		"addr":             &cfg.APIAddr,
	}
	for name, dst := range strFlags {
		if fs.Lookup(name) == nil || !fs.Changed(name) {
			continue
		}
		v, _ := fs.GetString(name)
		*dst = v
	}
	if fs.Changed("max-calls") {
		cfg.MaxCalls, _ = fs.GetInt("max-calls")
	}
	if fs.Changed("debug") {
		cfg.Debug, _ = fs.GetBool("debug")
	}
	slog.Debug("flags applied", "state_dir", cfg.StateDir, "notifier", cfg.Notifier, "openai_key_set", cfg.OpenAIKey != "")
}

// newLogger builds the process logger for the given level and format.
func newLogger(levelStr, formatStr string, w io.Writer) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if formatStr == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(handler)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("carepipe version %s\n", version)
		},
	}
}
