package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/BTreeMap/CarePipe/internal/api"
	"github.com/BTreeMap/CarePipe/internal/config"
	"github.com/BTreeMap/CarePipe/internal/flow"
	"github.com/BTreeMap/CarePipe/internal/genai"
	"github.com/BTreeMap/CarePipe/internal/lockfile"
	"github.com/spf13/cobra"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat, email and appointment HTTP endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := ensureStateDir(*cfg); err != nil {
				return err
			}
			lock, err := lockfile.AcquireInstanceLock(cfg.StateDir)
			if err != nil {
				return err
			}
			defer lock.Release()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := genai.NewClient(cfg.GenAIOptions()...)
			if err != nil {
				return fmt.Errorf("failed to create OpenAI client: %w", err)
			}
			store, err := openStore(*cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			settings := cfg.Settings()
			stages := flow.NewStages(settings, client, nil)
			g, err := stages.BuildPipelineGraph()
			if err != nil {
				return fmt.Errorf("invalid pipeline graph: %w", err)
			}
			srv := api.NewServer(
				flow.NewPipeline(g),
				flow.NewEmailDrafter(client, settings, settings.Email),
				store,
				api.WithAddr(cfg.APIAddr),
				api.WithAllowedOrigin(cfg.AllowedOrigin),
			)

			cmd.Printf("%s — Appointment Server\n  Listening on %s\n  Model: %s\n", cfg.ClinicName, cfg.APIAddr, client.Model())
			slog.Info("serve: starting", "addr", cfg.APIAddr, "model", client.Model())
			if err := srv.Run(ctx); err != nil {
				return err
			}
			slog.Info("CarePipe exited successfully")
			return nil
		},
	}
	cmd.Flags().String("addr", "", "HTTP listen address (overrides $CAREPIPE_API_ADDR)")
	return cmd
}
