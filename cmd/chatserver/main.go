// Command chatserver runs the line-oriented chat server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/go-chat/chat"
	"github.com/cyberinferno/go-chat/config"
	"github.com/cyberinferno/go-chat/logger"
	"github.com/cyberinferno/go-chat/loginguard"
	"github.com/cyberinferno/go-chat/tcpserver"
)

const (
	serviceName      = "chatserver"
	guardRedisPrefix = "chat:login-failures:"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if config.IsHelp(err) {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}

		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, nil); err != nil {
		log.Error("server failed", logger.Field{Key: "error", Value: err})
		_ = log.Close()
		os.Exit(1)
	}
}

// run serves until ctx is cancelled. When ready is non-nil it receives the
// bound listener address once the server accepts connections.
func run(ctx context.Context, cfg *config.Config, log logger.Logger, ready chan<- string) error {
	guard, closeGuard := newGuard(cfg)
	defer closeGuard()

	room := chat.NewServer(log,
		chat.WithHistoryReplay(cfg.HistoryReplay),
		chat.WithWriteTimeout(cfg.WriteTimeout),
		chat.WithMaxLineLength(cfg.MaxLine),
		chat.WithRateLimit(cfg.RateMessages, cfg.RatePeriod),
		chat.WithLoginGuard(guard),
	)

	srv := tcpserver.NewTCPServer("chat", cfg.Listen, log, room.NewSession)
	srv.IdleTimeout = cfg.IdleTimeout
	if err := srv.Start(); err != nil {
		return err
	}

	if ready != nil {
		ready <- srv.ListenAddr().String()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down", logger.Field{Key: "sessions", Value: srv.SessionCount()})
		srv.Stop()
		return nil
	})

	return g.Wait()
}

func newLogger(cfg *config.Config) (logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	switch {
	case cfg.LogDir != "":
		return logger.NewZerologFileLogger(serviceName, cfg.LogDir, level)
	case cfg.LogConsole:
		return logger.NewConsoleLogger(os.Stdout, serviceName, level), nil
	default:
		return logger.NewZerologLogger(zerolog.New(os.Stdout), serviceName, level), nil
	}
}

// newGuard picks the Redis guard when an address is configured and the
// in-process one otherwise. The returned func releases its resources.
func newGuard(cfg *config.Config) (loginguard.Guard, func()) {
	if cfg.GuardMaxFailures <= 0 {
		return loginguard.NewNopGuard(), func() {}
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return loginguard.NewRedisGuard(client, cfg.GuardMaxFailures, cfg.GuardWindow, guardRedisPrefix), func() { _ = client.Close() }
	}

	return loginguard.NewMemoryGuard(cfg.GuardMaxFailures, cfg.GuardWindow), func() {}
}
