package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"shoplist-sync-server/internal/apiclient"
	"shoplist-sync-server/internal/clientconfig"
	"shoplist-sync-server/internal/durable"
	"shoplist-sync-server/internal/syncengine"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	configPath string
	offline    bool
)

var rootCmd = &cobra.Command{
	Use:   "shopsync",
	Short: "Offline-first shared shopping lists",
	Long: `shopsync edits your shopping lists and the lists shared with you.

Edits apply locally first. They are sent to the server right away when it is
reachable and kept in a local queue otherwise; the next command that can reach
the server replays them in order.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default "+clientconfig.DefaultPath+")")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "queue changes without contacting the server")
	rootCmd.AddGroup(
		&cobra.Group{ID: "lists", Title: "List commands:"},
		&cobra.Group{ID: "sync", Title: "Sync commands:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app is one command's view of the local state and the server.
type app struct {
	cfg     clientconfig.Config
	store   durable.Store
	logFile *lumberjack.Logger
	logger  *log.Logger
	bridge  *syncengine.DirectBridge
	engine  *syncengine.Engine
	client  *apiclient.Client
	agent   *syncengine.BackgroundAgent
	online  bool
	// wakeEvery is set once the queue asks for a background replay.
	wakeEvery time.Duration

	closeStore func() error
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := clientconfig.Load(configPath)
	if err != nil {
		return nil, err
	}

	logFile := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    5,
		MaxBackups: 3,
		MaxAge:     28,
	}
	logger := log.New(logFile, "[sync] ", log.LstdFlags)

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		_ = logFile.Close()
		return nil, err
	}

	bridge := syncengine.NewDirectBridge()
	engine := syncengine.New(store, bridge, &syncengine.Config{
		PollInterval:     cfg.PollInterval,
		DispatchMinDelay: cfg.DispatchMinDelay,
		DispatchMaxDelay: cfg.DispatchMaxDelay,
		RefreshJitter:    cfg.RefreshJitter,
		Logger:           logger,
	})

	a := &app{
		cfg:        cfg,
		store:      store,
		logFile:    logFile,
		logger:     logger,
		bridge:     bridge,
		engine:     engine,
		closeStore: closeStore,
	}

	if cfg.Token == "" || cfg.UserID == "" {
		if err := engine.UseLocalMode(ctx); err != nil {
			logger.Printf("restoring local list: %v", err)
		}
		return a, nil
	}

	a.client, err = apiclient.NewClient(cfg.ServerURL, cfg.Token)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.agent = syncengine.NewBackgroundAgent(cfg.UserID, a.client, store, bridge, logger)
	a.agent.Start()
	bridge.OnWake(func(interval time.Duration) { a.wakeEvery = interval })

	if offline {
		_ = engine.SetOnline(ctx, false)
	}
	if err := engine.SignIn(ctx, cfg.UserID, a.client); err != nil {
		logger.Printf("restoring session: %v", err)
	}
	if offline {
		return a, nil
	}
	if err := engine.Refresh(ctx, nil); err != nil {
		if !apiclient.IsTransient(err) {
			a.close(ctx)
			return nil, fmt.Errorf("fetch lists: %w", err)
		}
		fmt.Fprintln(os.Stderr, warnStyle.Render("server unreachable, working offline"))
		_ = engine.SetOnline(ctx, false)
		return a, nil
	}
	a.online = true
	return a, nil
}

func openStore(ctx context.Context, cfg clientconfig.Config) (durable.Store, func() error, error) {
	if cfg.RedisURL != "" {
		s, err := durable.NewRedisStore(cfg.RedisURL, "shopsync:")
		if err != nil {
			return nil, nil, fmt.Errorf("open redis state: %w", err)
		}
		return s, s.Close, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.StatePath), 0o700); err != nil {
		return nil, nil, fmt.Errorf("create state dir: %w", err)
	}
	s, err := durable.OpenSQLiteStore(ctx, cfg.StatePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open state: %w", err)
	}
	return s, s.Close, nil
}

// commit sends whatever the command changed. A failure leaves the changes
// queued for the next run.
func (a *app) commit(ctx context.Context) {
	snap := a.engine.Snapshot()
	if snap.Guest || !a.online {
		if snap.PendingOps > 0 {
			fmt.Println(mutedStyle.Render(fmt.Sprintf("%d change(s) queued", snap.PendingOps)))
			a.replayHint()
		}
		return
	}
	if err := a.engine.Flush(ctx); err != nil {
		a.logger.Printf("flush: %v", err)
		n := a.engine.Snapshot().PendingOps
		fmt.Println(warnStyle.Render(fmt.Sprintf("%d change(s) queued; they will sync when the server is reachable", n)))
		a.replayHint()
	}
	for _, se := range a.engine.Errors() {
		fmt.Fprintln(os.Stderr, errorStyle.Render("rejected: "+se.Message))
	}
}

func (a *app) replayHint() {
	if a.wakeEvery > 0 {
		fmt.Println(mutedStyle.Render(fmt.Sprintf("schedule `shopsync replay` every %s to sync in the background", a.wakeEvery)))
	}
}

func (a *app) close(ctx context.Context) {
	if a.agent != nil {
		a.agent.Stop()
	}
	if err := a.engine.Close(); err != nil {
		a.logger.Printf("close engine: %v", err)
	}
	if a.closeStore != nil {
		if err := a.closeStore(); err != nil {
			a.logger.Printf("close state: %v", err)
		}
	}
	_ = a.logFile.Close()
}

// withApp runs fn with an open app and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)
	return fn(ctx, a)
}

var errNoChange = errors.New("nothing changed")
