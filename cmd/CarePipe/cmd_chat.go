package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/BTreeMap/CarePipe/internal/config"
	"github.com/BTreeMap/CarePipe/internal/console"
	"github.com/BTreeMap/CarePipe/internal/flow"
	"github.com/BTreeMap/CarePipe/internal/genai"
	"github.com/spf13/cobra"
)

func newChatCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive appointment conversation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Keep the terminal for the conversation unless a level was asked for.
			if !cmd.Flags().Changed("log-level") && os.Getenv("CAREPIPE_LOG_LEVEL") == "" {
				slog.SetDefault(newLogger("warn", cfg.LogFormat, cmd.ErrOrStderr()))
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := ensureStateDir(*cfg); err != nil {
				return err
			}
			ctx := cmd.Context()

			client, err := genai.NewClient(cfg.GenAIOptions()...)
			if err != nil {
				return fmt.Errorf("failed to create OpenAI client: %w", err)
			}
			notifier, closeNotifier, err := buildNotifier(ctx, *cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer closeNotifier()

			stages := flow.NewStages(cfg.Settings(), client, notifier)
			g, err := stages.BuildConsoleGraph()
			if err != nil {
				return fmt.Errorf("invalid console graph: %w", err)
			}
			session := flow.NewSession(g)
			slog.Info("chat: session started", "session", session.ID())

			return console.New(session,
				console.WithIO(cmd.InOrStdin(), cmd.OutOrStdout()),
				console.WithBanner(cfg.ClinicName, client.Model()),
				console.WithGreeting(stages.Greeting()),
			).Run(ctx)
		},
	}
}
