// groupchat serves real-time group messaging over WebSocket.
//
// Configuration comes from the environment (see internal/server.LoadConfig);
// flags override the most common settings. With --mint-token the binary
// prints a signed token for local testing and exits.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/groupchat/internal/chat"
	"github.com/Tyrowin/groupchat/internal/identity"
	"github.com/Tyrowin/groupchat/internal/server"
	"github.com/Tyrowin/groupchat/internal/store"
	"github.com/Tyrowin/groupchat/internal/store/memory"
	"github.com/Tyrowin/groupchat/internal/store/postgres"
	"github.com/Tyrowin/groupchat/internal/store/redis"
	"github.com/Tyrowin/groupchat/internal/store/sqlite"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := server.LoadConfig()
	if err != nil {
		return err
	}

	var (
		mintUser string
		mintName string
		mintTTL  time.Duration
	)
	flagSet := pflag.NewFlagSet("groupchat", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.Port, "port", cfg.Port, "listen address, e.g. :8080")
	flagSet.StringSliceVar(&cfg.AllowedOrigins, "allowed-origins", cfg.AllowedOrigins, "origins allowed to open a WebSocket (* for any)")
	flagSet.StringVar(&cfg.Store.Driver, "store", cfg.Store.Driver, "document store: memory, sqlite, postgres or redis")
	flagSet.StringVar(&cfg.Store.DSN, "store-dsn", cfg.Store.DSN, "store location: file path, postgres URL or redis URL")
	flagSet.StringVar(&cfg.PublicBaseURL, "public-url", cfg.PublicBaseURL, "base URL used in invite links")
	flagSet.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "debug, info, warn or error")
	flagSet.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "text or json")
	flagSet.StringVar(&mintUser, "mint-token", "", "print a signed token for this user id and exit")
	flagSet.StringVar(&mintName, "mint-name", "", "display name embedded by --mint-token")
	flagSet.DurationVar(&mintTTL, "mint-ttl", 24*time.Hour, "lifetime of the token printed by --mint-token")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg = cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	resolver, err := identity.NewJWTResolver(cfg.Auth.Secret, cfg.Auth.Issuer)
	if err != nil {
		return err
	}
	if mintUser != "" {
		token, err := resolver.Sign(chat.User{ID: mintUser, DisplayName: mintName}, mintTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("closing store", "error", err)
		}
	}()
	logger.Info("store opened", "driver", cfg.Store.Driver)

	srv := server.New(cfg, st, resolver, logger)
	httpServer := srv.HTTPServer()
	srv.StartHub()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.StartServer(httpServer)
	})
	g.Go(func() error {
		<-gctx.Done()
		return srv.Shutdown(httpServer)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg server.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case server.DriverMemory:
		return memory.New(), nil
	case server.DriverSQLite:
		return sqlite.Open(cfg.DSN)
	case server.DriverPostgres:
		return postgres.Open(ctx, cfg.DSN)
	case server.DriverRedis:
		return redis.Open(ctx, cfg.DSN, chat.QueriedFields)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func newLogger(cfg server.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
