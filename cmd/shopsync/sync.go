package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"shoplist-sync-server/internal/apiclient"
	"shoplist-sync-server/internal/clientconfig"
	"shoplist-sync-server/internal/livefeed"
	"shoplist-sync-server/internal/syncengine"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "sync",
	Short:   "Store server credentials and fetch your lists",
	Long: `Store the server URL, user id and token in the config file.

Tokens are issued by the server operator:
  shoplist-server -issue-token alice`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		token, _ := cmd.Flags().GetString("token")
		user, _ := cmd.Flags().GetString("user")
		if token == "" || user == "" {
			return errors.New("--token and --user are required")
		}

		cfg, err := clientconfig.Load(configPath)
		if err != nil {
			return err
		}
		if server != "" {
			cfg.ServerURL = server
		}
		cfg.Token, cfg.UserID = token, user
		if err := clientconfig.Save(configPath, cfg); err != nil {
			return err
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			fmt.Println(renderSnapshot(a.engine.Snapshot()))
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "sync",
	Short:   "Forget credentials and drop unsynced changes",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		err := withApp(cmd, func(ctx context.Context, a *app) error {
			if n := a.engine.Snapshot().PendingOps; n > 0 {
				fmt.Println(warnStyle.Render(fmt.Sprintf("discarding %d unsynced change(s)", n)))
			}
			return a.engine.SignOut(ctx)
		})
		if err != nil {
			return err
		}
		cfg, err := clientconfig.Load(configPath)
		if err != nil {
			return err
		}
		cfg.Token, cfg.UserID = "", ""
		return clientconfig.Save(configPath, cfg)
	},
}

var flushCmd = &cobra.Command{
	Use:     "flush",
	GroupID: "sync",
	Short:   "Send queued changes now",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if !a.online {
				return syncengine.ErrOffline
			}
			if err := a.engine.Flush(ctx); err != nil {
				return err
			}
			fmt.Println(renderStatus(a.engine.Snapshot()))
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show queued changes, notices and errors",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			snap := a.engine.Snapshot()
			who := snap.Identity
			if snap.Guest {
				who = "guest"
			} else if a.online {
				if me, err := a.client.Me(ctx); err == nil {
					who = fmt.Sprintf("%s (%s)", me.Name(), me.ID)
					if len(me.SharedOwners) > 0 {
						who += fmt.Sprintf(", shared with you: %v", me.SharedOwners)
					}
				}
			}
			fmt.Printf("%s %s\n", titleStyle.Render("signed in as"), who)
			if s := renderStatus(snap); s != "" {
				fmt.Println(s)
			}
			return nil
		})
	},
}

// replayCmd pushes the persisted queue without opening a session, the way a
// scheduled background job would.
var replayCmd = &cobra.Command{
	Use:     "replay",
	GroupID: "sync",
	Short:   "Replay the offline queue without loading lists",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := clientconfig.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.Token == "" || cfg.UserID == "" {
			return syncengine.ErrGuest
		}
		logFile := &lumberjack.Logger{Filename: cfg.LogFile, MaxSize: 5, MaxBackups: 3}
		defer logFile.Close()
		logger := log.New(logFile, "[replay] ", log.LstdFlags)

		store, closeStore, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStore()
		client, err := apiclient.NewClient(cfg.ServerURL, cfg.Token)
		if err != nil {
			return err
		}

		agent := syncengine.NewBackgroundAgent(cfg.UserID, client, store, nil, logger)
		sent, err := agent.Replay(ctx)
		fmt.Printf("sent %d queued change(s)\n", sent)
		return err
	},
}

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "sync",
	Short:   "Follow lists live until interrupted",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		cmd.SetContext(ctx)

		return withApp(cmd, func(ctx context.Context, a *app) error {
			if a.client == nil {
				return syncengine.ErrGuest
			}

			snaps := make(chan syncengine.Snapshot, 1)
			unsubscribe := a.engine.Subscribe(func(s syncengine.Snapshot) {
				select {
				case <-snaps:
				default:
				}
				snaps <- s
			})
			defer unsubscribe()

			feedCfg := livefeed.DefaultConfig(a.client.LiveURL())
			feedCfg.Logger = a.logger
			feed := livefeed.NewSubscriber(feedCfg, a.engine.OnRemoteChange, func(up bool) {
				if err := a.engine.SetOnline(ctx, up); err != nil && !errors.Is(err, context.Canceled) {
					a.logger.Printf("connectivity change: %v", err)
				}
			})
			go func() {
				if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					a.logger.Printf("live feed stopped: %v", err)
				}
			}()

			fmt.Println(renderSnapshot(a.engine.Snapshot()))
			var lastShown uint64
			for {
				select {
				case <-ctx.Done():
					return nil
				case s := <-snaps:
					if s.Version <= lastShown {
						continue
					}
					lastShown = s.Version
					fmt.Print("\033[H\033[2J")
					fmt.Println(renderSnapshot(s))
					for _, n := range s.Notices {
						a.engine.AckNotice(n.OwnerID)
					}
				}
			}
		})
	},
}

func init() {
	loginCmd.Flags().String("server", "", "server URL")
	loginCmd.Flags().String("token", "", "access token")
	loginCmd.Flags().String("user", "", "your user id")

	rootCmd.AddCommand(loginCmd, logoutCmd, flushCmd, statusCmd, replayCmd, watchCmd)
}
