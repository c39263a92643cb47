package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/casefinder/internal/config"
	"github.com/soyeahso/casefinder/internal/genai"
	"github.com/soyeahso/casefinder/internal/logging"
	"github.com/soyeahso/casefinder/internal/server"
	"github.com/soyeahso/casefinder/internal/store"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the casefinder server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}

			if port != 0 {
				cfg.Server.Port = port
			}
			if bind != "" {
				cfg.Server.Bind = bind
			}

			if err := config.Validate(cfg); err != nil {
				return err
			}

			if err := paths.EnsureDirs(); err != nil {
				return err
			}

			if cfg.Logging.File != "" {
				level := logLevel
				if level == "" {
					level = cfg.Logging.Level
				}
				log = logging.NewWithFile(cfg.Logging.File, level)
			}

			db, err := store.Open(paths.DatabasePath(cfg.Database), log)
			if err != nil {
				return err
			}
			defer db.Close()

			gen := genai.NewClient(genai.Config{
				APIKey:       cfg.Generator.APIKey,
				ChatModel:    cfg.Generator.ChatModel,
				IntroModel:   cfg.Generator.IntroModel,
				ChatEndpoint: cfg.Generator.ChatEndpoint,
				CaseAPIKey:   cfg.Generator.CaseAPIKey,
				CaseEndpoint: cfg.Generator.CaseEndpoint,
				Timeout:      time.Duration(cfg.Generator.TimeoutSeconds) * time.Second,
			}, log)

			if cfg.Generator.APIKey == "" {
				log.Warn().Msg("no generator API key configured, intros and replies will use fallback text")
			}

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := server.New(cfg, db, gen, log)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")

	return cmd
}
