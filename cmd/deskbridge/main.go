// deskbridge is the command/event transport for the desktop UI. In client
// mode it connects to a backend, runs a command, and optionally tails
// events; with -serve it runs the stub backend used for development.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codefionn/deskbridge/internal/bootstrap"
	"github.com/codefionn/deskbridge/internal/config"
	"github.com/codefionn/deskbridge/internal/devserver"
	"github.com/codefionn/deskbridge/internal/logger"
	"github.com/codefionn/deskbridge/internal/pidfile"
	"github.com/codefionn/deskbridge/internal/remote"
	"github.com/codefionn/deskbridge/internal/statecache"
	"github.com/codefionn/deskbridge/internal/tokenstore"
	"github.com/codefionn/deskbridge/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		serve      = flag.Bool("serve", false, "run the stub backend instead of connecting")
		addr       = flag.String("addr", "127.0.0.1:8936", "listen address for -serve")
		serverURL  = flag.String("url", "", "backend origin (overrides config)")
		token      = flag.String("token", "", "auth token (persisted on first use)")
		configPath = flag.String("config", "", "config file path")
		event      = flag.String("listen", "", "event name to tail after invoking")
		logLevel   = flag.String("log-level", "", "debug, info, warn, error, none")
		logFile    = flag.String("log-file", "", "log file path (default: state directory)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logFile != "" {
		cfg.LogPath = *logFile
	}
	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return err
	}
	defer logger.Global().Close()

	if *serve {
		return runServer(*addr, *token)
	}
	return runClient(cfg, *token, flag.Args(), *event)
}

// runServer runs the stub backend until interrupted
func runServer(addr, token string) error {
	pf := pidfile.New(pidfile.DefaultPath())
	if err := pf.Acquire(); err != nil {
		return err
	}
	defer pf.Release()

	if token == "" {
		var err error
		token, err = devserver.GenerateToken()
		if err != nil {
			return fmt.Errorf("failed to generate token: %w", err)
		}
	}

	srv := devserver.New(token)
	srv.Handle("ping", func(args map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{"pong": time.Now().UTC().Format(time.RFC3339)}, nil
	})
	srv.Handle("list_projects", func(args map[string]interface{}) (interface{}, error) {
		return []interface{}{}, nil
	})
	srv.SetInitData(func() map[string]interface{} {
		return map[string]interface{}{"projects": []interface{}{}}
	})

	if err := srv.Start(addr); err != nil {
		return err
	}
	defer srv.Stop()

	fmt.Printf("deskbridge stub backend on http://%s/?token=%s\n", srv.Addr(), token)

	// Heartbeat event so tailing clients see pushes.
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.Broadcast("heartbeat", map[string]interface{}{
					"at": time.Now().UTC().Format(time.RFC3339),
				})
			case <-stop:
				return
			}
		}
	}()
	defer close(stop)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	return nil
}

// runClient connects, preloads, invokes the given command, and optionally
// tails an event stream
func runClient(cfg *config.Config, token string, argv []string, event string) error {
	store := tokenstore.New(cfg.ResolvedTokenPath())

	rcfg := cfg.RemoteConfig()
	rcfg.Token = token

	conn := remote.New(rcfg, store)
	defer conn.Close()

	// A terminal auth failure is recovered by a human dropping a fresh
	// token into the slot; the watcher nudges the connection when one
	// lands, no client retry needed.
	stopWatch, err := store.Watch(func(tok string) {
		if tok != "" {
			conn.Connect()
		}
	})
	if err != nil {
		logger.Warn("Failed to watch token slot: %v", err)
	} else {
		defer stopWatch()
	}

	cache := statecache.New()

	facade := transport.New(nil, conn)
	facade.OnStatus(func(st remote.Status) {
		switch st.State {
		case remote.StateReconnectPending:
			fmt.Fprintf(os.Stderr, "reconnecting (attempt %d, next try in %s)\n", st.Attempt, st.Delay)
		case remote.StateAuthFailed:
			fmt.Fprintf(os.Stderr, "authentication failed: %s\n", st.Message)
		case remote.StateConnected:
			fmt.Fprintln(os.Stderr, "connected")
			// Everything not seeded by the preloader may be stale from a
			// previous epoch; the socket path re-delivers it.
			if dropped := cache.Invalidate(); len(dropped) > 0 {
				logger.Debug("Invalidated %d cache entries on connect", len(dropped))
			}
		}
	})

	// Preload the cache in parallel with the socket handshake. A failed
	// preload is not an error; the socket path delivers the same data.
	preToken := token
	if preToken == "" {
		preToken = store.Load()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pre := bootstrap.New(rcfg.BaseURL, preToken, nil, cache)
		if err := pre.Run(ctx); err != nil {
			logger.Debug("Preload failed: %v", err)
		}
	}()

	var unsubscribe func()
	if event != "" {
		var err error
		unsubscribe, err = facade.Listen(event, func(payload json.RawMessage) {
			fmt.Printf("event %s: %s\n", event, payload)
		})
		if err != nil {
			return err
		}
		defer unsubscribe()
	}

	if len(argv) > 0 {
		command := argv[0]
		args := make(map[string]interface{})
		if len(argv) > 1 {
			if err := json.Unmarshal([]byte(argv[1]), &args); err != nil {
				return fmt.Errorf("invalid args JSON: %w", err)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), rcfg.RequestTimeout+rcfg.ReconnectMaxDelay)
		defer cancel()
		data, err := facade.Invoke(ctx, command, args)
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", data)
	}

	if event != "" {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
	}
	return nil
}
