package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/scythe504/drawguess/internal/config"
	"github.com/scythe504/drawguess/internal/discovery"
	"github.com/scythe504/drawguess/internal/game"
	"github.com/scythe504/drawguess/internal/logger"
	"github.com/scythe504/drawguess/internal/registry"
	"github.com/scythe504/drawguess/internal/server"
	"github.com/scythe504/drawguess/internal/storage"
	"github.com/scythe504/drawguess/internal/utils"
)

func newCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "drawguess",
		Short:   "Multiplayer drawing and guessing game server.",
		Args:    cobra.ExactArgs(0),
		Version: releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Load(cmd.Flags()); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	config.RegisterFlags(cmd.Flags(), cfg)

	cmd.AddCommand(newDiscoverCmd(), newWordsCmd())

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("drawguess v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.New(cfg.Verbose)
	log.Info().Str("version", releaseVersion).Msg("[serve] starting drawguess")

	var (
		words    game.WordSource
		archiver game.Archiver
		history  server.History
	)

	if cfg.DatabaseURL != "" {
		store, err := storage.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer store.Close()

		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		if cfg.WordsFile != "" {
			if err := importWords(ctx, store, cfg.WordsFile, log); err != nil {
				return err
			}
		}
		words, archiver, history = store, store, store
	} else if cfg.WordsFile != "" {
		list, err := utils.ReadWordsFile(cfg.WordsFile)
		if err != nil {
			return err
		}
		log.Info().Int("words", len(list)).Str("file", cfg.WordsFile).Msg("[serve] loaded word list")
		words = game.StaticWords(list)
	}

	sessions := registry.New(registry.Options{
		QueueSize:   cfg.QueueSize,
		SendTimeout: cfg.SendTimeout,
		RateLimit:   cfg.Limit(),
		RateBurst:   cfg.RateBurst,
	}, log)
	dispatcher := game.NewDispatcher(sessions, log)
	rooms := game.NewDirectory(sessions, dispatcher, words, archiver, game.Options{
		Defaults:    cfg.RoomDefaults(),
		MaxRooms:    cfg.MaxRooms,
		IdleTimeout: cfg.RoomIdleTimeout,
	}, log)
	sessions.OnLeave(rooms.OnDisconnect)
	defer rooms.Close()

	scheduler := game.NewScheduler(rooms, cfg.TickInterval, cfg.RoomIdleTimeout, log)
	go func() { _ = scheduler.Run(ctx) }()

	if cfg.MDNS {
		adv, err := discovery.Advertise(cfg.TCPPort, "version="+releaseVersion)
		if err != nil {
			log.Warn().Err(err).Msg("[serve] mDNS advertisement disabled")
		} else {
			defer adv.Close()
			log.Info().Int("port", cfg.TCPPort).Str("service", discovery.ServiceType).Msg("[serve] advertising over mDNS")
		}
	}

	return server.New(cfg, sessions, rooms, history, releaseVersion, log).ListenAndServe(ctx)
}

func importWords(ctx context.Context, store *storage.Store, path string, log zerolog.Logger) error {
	list, err := utils.ReadWordsFile(path)
	if err != nil {
		return err
	}
	added, err := store.AddWords(ctx, list)
	if err != nil {
		return fmt.Errorf("import words: %w", err)
	}
	log.Info().Int("read", len(list)).Int("added", added).Str("file", path).Msg("[importWords] word list imported")
	return nil
}

func newDiscoverCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List drawguess servers advertised on the local network.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			peers, err := discovery.Browse(cmd.Context(), timeout)
			if err != nil {
				return err
			}
			if len(peers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no servers found")
				return nil
			}
			for _, p := range peers {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%v\n", p.Addr, p.Name, p.Info)
			}
			return nil
		},
	}
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 2*time.Second, "how long to listen for answers")
	return cmd
}

func newWordsCmd() *cobra.Command {
	var (
		databaseURL string
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "import-words <file>",
		Short: "Load a word list into the database.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Load(cmd.Flags()); err != nil {
				return err
			}
			if databaseURL == "" {
				return errors.New("--database-url is required")
			}
			log := logger.New(verbose)

			store, err := storage.Open(cmd.Context(), databaseURL)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}
			return importWords(cmd.Context(), store, args[0], log)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&databaseURL, "database-url", "", "postgres connection string (env: DRAWGUESS_DATABASE_URL)")
	fs.BoolVarP(&verbose, "verbose", "v", false, "display additional output (env: DRAWGUESS_VERBOSE)")
	return cmd
}
