package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mil-ad/mlsctl/internal/bluez"
	"github.com/mil-ad/mlsctl/internal/config"
	"github.com/mil-ad/mlsctl/internal/events"
	"github.com/mil-ad/mlsctl/internal/httpapi"
	"github.com/mil-ad/mlsctl/internal/inventory"
	"github.com/mil-ad/mlsctl/internal/link"
	"github.com/mil-ad/mlsctl/internal/liveness"
	"github.com/mil-ad/mlsctl/internal/tui"
)

var (
	cfgFile      string
	outputFormat string
	logLevel     string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "mlsctl",
	Short: "Moving Light Show remote control over Bluetooth LE",
	Long: `mlsctl connects to a Moving Light Show device over Bluetooth LE, sends
show commands and displays the status it reports back. A daemon keeps the
link up and reconnects after an unexpected loss; the other commands talk to
it over a unix socket.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		return setupLogging(os.Stderr, cfg.Log.Level)
	},
}

func setupLogging(w io.Writer, level string) error {
	lvl := zerolog.InfoLevel
	if level != "" {
		var err error
		if lvl, err = zerolog.ParseLevel(level); err != nil {
			return fmt.Errorf("parse log level: %w", err)
		}
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func ipcCommand(use, short, command string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIPC(cmd.OutOrStdout(), cfg.SocketPath(), IPCRequest{Command: command}, outputFormat)
		},
	}
}

func newDaemonCmd() *cobra.Command {
	var opts daemonOptions
	var listen string
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Own the Bluetooth link and serve the other commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				cfg.HTTP.Listen = listen
			}
			ctx, cancel := signalContext()
			defer cancel()
			return runDaemon(ctx, cfg, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.connect, "connect", false, "connect to the device on start")
	cmd.Flags().StringVar(&listen, "http", "", "serve the HTTP API on this address (overrides http.listen)")
	return cmd
}

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <command>",
		Short: "Send one command to the device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIPC(cmd.OutOrStdout(), cfg.SocketPath(), IPCRequest{Command: "send", Text: args[0]}, outputFormat)
		},
	}
}

func newRemoteCmd() *cobra.Command {
	var logFile, listen string
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Interactive terminal remote with its own Bluetooth link",
		Long: `Run the remote in the terminal without a daemon.

Key bindings:
  c / space   Connect or disconnect
  1-9         Send a preset command
  :           Type a command, enter sends it
  q / Ctrl+C  Quit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logOut := io.Discard
			if logFile != "" {
				f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return fmt.Errorf("open log file: %w", err)
				}
				defer f.Close()
				logOut = f
			}
			if err := setupLogging(logOut, cfg.Log.Level); err != nil {
				return err
			}
			return runRemote(cfg, listen)
		},
	}
	cmd.Flags().StringVar(&logFile, "log-file", "", "write logs to this file instead of discarding them")
	cmd.Flags().StringVar(&listen, "http", "", "also serve the HTTP API and event stream on this address")
	return cmd
}

// runRemote drives the terminal UI from an in-process session. With
// listen set, the same session is also served over HTTP.
func runRemote(cfg *config.Config, listen string) error {
	bz, err := bluez.New(bluezOptions(cfg))
	if err != nil {
		return err
	}
	defer bz.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var bridge tui.Bridge
	var window liveness.Window
	var obs link.Observer = &bridge
	notify := bridge.Liveness

	var adapter *events.Adapter
	var hub *events.Hub
	if listen != "" {
		hub = events.NewHub()
		defer hub.Close()
		adapter = events.NewAdapter(hub)
		obs = events.Tee{&bridge, adapter}
		notify = func(fresh bool) {
			bridge.Liveness(fresh)
			adapter.Liveness(fresh)
		}
	}

	sess := link.New(linkConfig(cfg), bz, obs, &window)
	defer sess.Close()

	if adapter != nil {
		router := httpapi.NewRouter(httpapi.Deps{
			Link:       sess,
			View:       adapter.View,
			Hub:        hub,
			Inventory:  inventory.NewStore(cfg.Inventory.Dir, cfg.Inventory.LatestFirmware),
			DefaultIID: cfg.Inventory.DefaultIID,
		})
		wait := startHTTP(ctx, listen, router)
		defer func() {
			cancel()
			wait()
		}()
	}

	p := tea.NewProgram(tui.New(sess, cfg.Presets), tea.WithAltScreen())
	bridge.Attach(p)

	mon := liveness.NewMonitor(&window, cfg.Liveness.Interval, cfg.Liveness.Threshold, notify)
	go mon.Run(ctx)

	_, err = p.Run()
	bridge.Attach(nil)
	return err
}

func newInventoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inventory [iid]",
		Short: "List devices that checked in for an installation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			iid := cfg.Inventory.DefaultIID
			if len(args) == 1 {
				iid = args[0]
			}
			devices, err := inventory.NewStore(cfg.Inventory.Dir, cfg.Inventory.LatestFirmware).List(iid)
			if err != nil {
				return err
			}
			return inventory.Write(cmd.OutOrStdout(), devices, outputFormat)
		},
	}
}

func newServeCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the device dashboard and check-in endpoint without a Bluetooth link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := listen
			if addr == "" {
				addr = cfg.HTTP.Listen
			}
			if addr == "" {
				addr = ":8080"
			}
			ctx, cancel := signalContext()
			defer cancel()
			router := httpapi.NewRouter(httpapi.Deps{
				Inventory:  inventory.NewStore(cfg.Inventory.Dir, cfg.Inventory.LatestFirmware),
				DefaultIID: cfg.Inventory.DefaultIID,
			})
			startHTTP(ctx, addr, router)()
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "http", "", "listen address (default http.listen or :8080)")
	return cmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $XDG_CONFIG_HOME/mlsctl/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides log.level)")

	rootCmd.AddCommand(
		newDaemonCmd(),
		ipcCommand("status", "Show the link state", "status"),
		ipcCommand("connect", "Connect to the device", "connect"),
		ipcCommand("disconnect", "Disconnect from the device", "disconnect"),
		ipcCommand("toggle", "Connect when disconnected, disconnect when connected", "toggle"),
		newSendCmd(),
		newRemoteCmd(),
		newInventoryCmd(),
		newServeCmd(),
	)
}
