package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"roomsync/internal/channel"
	"roomsync/internal/config"
	"roomsync/internal/credential"
	"roomsync/internal/media"
	"roomsync/internal/media/pionrtc"
	"roomsync/internal/polls"
	"roomsync/internal/server"
	"roomsync/internal/store"
)

func main() {
	cfg, err := config.Load("roomsync", os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "roomsync: %v\n", err)
		os.Exit(2)
	}
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("roomsync exited")
	}
	log.Info().Msg("shut down cleanly")
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	}
}

func credentialSource(cfg config.AuthConfig) credential.Source {
	switch {
	case cfg.Token != "":
		return credential.Static(cfg.Token)
	case cfg.TokenFile != "":
		return credential.FromFile(cfg.TokenFile)
	default:
		return credential.None()
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	creds := credentialSource(cfg.Auth)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return err
	}
	st, err := store.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	feed := server.NewFeed(server.DefaultFeedSize)
	opts := []server.Option{server.WithDB(st), server.WithFeed(feed)}
	if cfg.CORSOrigin != "" {
		opts = append(opts, server.WithCORSOrigin(cfg.CORSOrigin))
	}

	chCfg := channel.DefaultConfig(cfg.Channel.URL)
	chCfg.PingInterval = cfg.Channel.PingInterval
	chCfg.Backoff = channel.Backoff{
		Delay:      cfg.Channel.ReconnectDelay,
		Multiplier: cfg.Channel.Multiplier,
		MaxDelay:   cfg.Channel.MaxDelay,
		Jitter:     cfg.Channel.Jitter,
	}
	ch, err := channel.Open(ctx, chCfg, channel.WithCredentials(creds))
	if err != nil {
		return fmt.Errorf("opening notification channel: %w", err)
	}
	defer ch.Close()
	unsubscribe := ch.OnEvent(channel.Interest{RelatedID: cfg.Channel.WorkspaceID}, feed.Push)
	defer unsubscribe()
	opts = append(opts, server.WithChannel(ch))

	g, gctx := errgroup.WithContext(ctx)

	if room := cfg.Media.Session; room != "" {
		limit := rate.Limit(cfg.API.RateLimit)
		burst := max(1, int(cfg.API.RateLimit))

		issuer, err := media.NewTokenClient(cfg.API.BaseURL,
			media.WithTokenCredentials(creds),
			media.WithRateLimit(rate.NewLimiter(limit, burst)))
		if err != nil {
			return fmt.Errorf("token client: %w", err)
		}
		transport := pionrtc.New(pionrtc.HTTPSignaler{Path: cfg.Media.SignalPath})
		ctrl := media.NewController(issuer, transport, cfg.Media.ServerURL,
			media.WithSettleDelay(cfg.Media.SettleDelay))
		defer func() {
			if err := ctrl.Leave(); err != nil {
				log.Warn().Err(err).Msg("leaving session")
			}
		}()
		opts = append(opts, server.WithSession(ctrl))

		identity := cfg.Media.Identity
		if identity == "" {
			identity = ch.ID().String()
		}
		g.Go(func() error {
			// Failures surface in the session view; the UI offers a retry.
			if err := ctrl.Join(gctx, room, identity); err != nil {
				log.Warn().Err(err).Str("session", room).Msg("joining session")
			}
			return nil
		})

		pollClient, err := polls.NewClient(cfg.API.BaseURL,
			polls.WithCredentials(creds),
			polls.WithRateLimit(rate.NewLimiter(limit, burst)))
		if err != nil {
			return fmt.Errorf("poll client: %w", err)
		}
		engine := polls.New(pollClient, polls.WithSnapshotStore(st))
		if err := engine.Start(gctx, room, cfg.Polls.Interval); err != nil {
			return fmt.Errorf("starting poll sync: %w", err)
		}
		defer engine.Stop()
		opts = append(opts, server.WithPolls(engine))
	} else {
		log.Info().Msg("no session configured; media and polls disabled")
	}

	srv := server.NewServer(opts...)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		// Event streams end with the process rather than holding Shutdown open.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Msg("roomsync listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
