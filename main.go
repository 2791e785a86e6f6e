// Package main provides the entry point for OpenVPN Manager.
// OpenVPN Manager supervises openvpn client processes for Linux desktops
// and offers three front ends over the same connection manager:
//
//   - a system tray indicator (the default)
//   - a full-screen terminal UI (--tui)
//   - one-shot commands for scripting (--list, --connect, ...)
//
// Usage:
//
//	ovpn-manager [options]
//
// Environment:
//
//	The application requires OpenVPN to be installed on the system.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/yllada/ovpn-manager/cli"
	"github.com/yllada/ovpn-manager/common"
	"github.com/yllada/ovpn-manager/config"
	"github.com/yllada/ovpn-manager/history"
	"github.com/yllada/ovpn-manager/keyring"
	"github.com/yllada/ovpn-manager/notify"
	"github.com/yllada/ovpn-manager/tray"
	"github.com/yllada/ovpn-manager/tui"
	"github.com/yllada/ovpn-manager/vpn"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

type options struct {
	configPath  string
	verbose     bool
	showVersion bool
	showHelp    bool

	list         bool
	add          string
	name         string
	username     string
	savePassword bool
	remove       string
	connect      string
	askPassword  bool
	history      string
	logs         string
	limit        int

	tui bool
}

// allProfiles is the --history value meaning "every profile".
const allProfiles = "*"

// drainTimeout bounds how long close waits for observers at exit.
const drainTimeout = 2 * time.Second

func newFlagSet(o *options) *pflag.FlagSet {
	fs := pflag.NewFlagSet("ovpn-manager", pflag.ContinueOnError)
	fs.SortFlags = false

	fs.StringVarP(&o.configPath, "config", "c", "", "path to config.yaml")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "enable debug logging")
	fs.BoolVar(&o.showVersion, "version", false, "show version and exit")
	fs.BoolVarP(&o.showHelp, "help", "h", false, "show this help")

	fs.BoolVarP(&o.list, "list", "l", false, "list VPN profiles")
	fs.StringVar(&o.add, "add", "", "import an .ovpn file as a new profile")
	fs.StringVar(&o.name, "name", "", "profile name for --add (default: file name)")
	fs.StringVar(&o.username, "username", "", "username for --add")
	fs.BoolVar(&o.savePassword, "save-password", false, "prompt for and save the password with --add")
	fs.StringVar(&o.remove, "remove", "", "remove a profile by name or ID")
	fs.StringVar(&o.connect, "connect", "", "connect to a profile and stay in the foreground")
	fs.BoolVar(&o.askPassword, "ask-password", false, "prompt for the password even when one is saved")
	fs.StringVar(&o.history, "history", "", "show past sessions, optionally for one profile")
	fs.Lookup("history").NoOptDefVal = allProfiles
	fs.StringVar(&o.logs, "logs", "", "show the stored log of a profile")
	fs.IntVarP(&o.limit, "limit", "n", 20, "number of entries for --history and --logs")

	fs.BoolVar(&o.tui, "tui", false, "start the terminal UI instead of the tray indicator")
	return fs
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var o options
	fs := newFlagSet(&o)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			cli.PrintHelp(os.Stdout, fs.FlagUsages())
			return nil
		}
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	if o.showHelp {
		cli.PrintHelp(os.Stdout, fs.FlagUsages())
		return nil
	}

	if o.showVersion {
		fmt.Printf("%s v%s\n", common.AppName, appVersion)
		if buildTime != "unknown" {
			fmt.Printf("  Build:  %s\n", buildTime)
			fmt.Printf("  Commit: %s\n", commitSHA)
		}
		return nil
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}

	logLevel := common.ParseLogLevel(cfg.LogLevel)
	if o.verbose {
		logLevel = common.LevelDebug
	}
	if err := common.InitLogger(common.LogConfig{
		Level:      logLevel,
		EnableFile: cfg.LogToFile,
		Quiet:      o.tui,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}
	defer common.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	switch {
	case o.list:
		return a.cli().ListProfiles()
	case o.add != "":
		return a.cli().AddProfile(o.add, o.name, o.username, o.savePassword)
	case o.remove != "":
		return a.cli().RemoveProfile(o.remove)
	case o.history != "":
		ref := o.history
		if ref == allProfiles {
			ref = ""
		}
		return a.cli().History(ref, o.limit)
	case o.logs != "":
		return a.cli().Logs(o.logs, o.limit)
	case o.connect != "":
		if err := checkOpenVPNInstalled(cfg.OpenVPNBinary); err != nil {
			return err
		}
		return a.cli().Connect(ctx, o.connect, o.askPassword)
	}

	if err := checkOpenVPNInstalled(cfg.OpenVPNBinary); err != nil {
		return err
	}
	common.LogInfo("Starting %s v%s", common.AppName, appVersion)
	a.startBackground()

	if o.tui {
		a.autoConnect()
		err = tui.Run(ctx, a.manager, cfg.LogBufferSize)
	} else {
		t := tray.New(a.manager, a.manager.ProfileManager().List(), stop)
		a.subs = append(a.subs, a.manager.Subscribe(t))
		a.autoConnect()
		t.Run(ctx)
	}

	a.shutdown()
	return err
}

// app holds the long-lived services shared by every front end.
type app struct {
	cfg     *config.Config
	creds   common.CredentialStore
	manager *vpn.Manager
	history *history.Store
	health  *vpn.HealthChecker
	subs    []*vpn.Subscription
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	store, err := keyring.New(keyring.Options{})
	if err != nil {
		common.LogWarn("Credential storage unavailable: %v", err)
	} else {
		a.creds = store
	}

	configDir, err := common.GetConfigDir()
	if err != nil {
		return nil, err
	}

	a.manager, err = vpn.NewManager(vpn.ManagerConfig{
		ConfigDir:      configDir,
		OpenVPNBinary:  cfg.OpenVPNBinary,
		UsePkexec:      cfg.UsePkexec,
		ManagementHost: cfg.ManagementHost,
		StopTimeout:    cfg.StopTimeout,
		Credentials:    a.creds,
	})
	if err != nil {
		return nil, err
	}

	if cfg.History.Enabled {
		path, err := cfg.HistoryPath()
		if err == nil {
			a.history, err = history.Open(path, cfg.History.Retention)
		}
		if err != nil {
			common.LogWarn("Session history disabled: %v", err)
		} else {
			a.subs = append(a.subs, a.history.Attach(a.manager.Hub()))
		}
	}

	return a, nil
}

func (a *app) cli() *cli.CLI {
	return cli.New(cli.Options{
		Manager:        a.manager,
		Credentials:    a.creds,
		History:        a.history,
		Out:            os.Stdout,
		ConnectTimeout: common.ConnectionTimeout,
		StopTimeout:    a.cfg.StopTimeout,
	})
}

// startBackground starts notifications and health checks for the
// long-running front ends.
func (a *app) startBackground() {
	if a.cfg.ShowNotifications {
		pm := a.manager.ProfileManager()
		names := func(id string) string {
			if p, err := pm.Get(id); err == nil {
				return p.Name
			}
			return id
		}
		a.subs = append(a.subs, a.manager.Subscribe(notify.NewObserver(notify.New(), names)))
	}

	if a.cfg.Health.Enabled {
		hc := vpn.DefaultHealthConfig()
		hc.CheckInterval = a.cfg.Health.Interval
		hc.FailureThreshold = a.cfg.Health.FailureThreshold
		hc.AutoReconnect = a.cfg.Health.AutoReconnect
		hc.MaxReconnectAttempts = a.cfg.Health.MaxReconnectAttempts
		if len(a.cfg.Health.TestHosts) > 0 {
			hc.TestHosts = a.cfg.Health.TestHosts
		}
		a.health = vpn.NewHealthChecker(a.manager, hc)
		a.health.Start()
	}
}

// autoConnect starts every profile marked for automatic connection.
func (a *app) autoConnect() {
	for _, p := range a.manager.ProfileManager().List() {
		if !p.AutoConnect {
			continue
		}
		common.LogInfo("Auto-connecting %s", p.Name)
		if err := a.manager.Connect(p.ID, ""); err != nil {
			common.LogWarn("Auto-connect %s failed: %v", p.Name, err)
		}
	}
}

// shutdown stops every connection, waiting at most twice the stop
// timeout for the clients to exit.
func (a *app) shutdown() {
	if a.health != nil {
		a.health.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*a.cfg.StopTimeout+time.Second)
	defer cancel()
	if err := a.manager.Shutdown(ctx); err != nil {
		common.LogWarn("Shutdown: %v", err)
	}
}

// close delivers what the observers still have queued, then releases
// the services.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for _, sub := range a.subs {
		if err := sub.Drain(ctx); err != nil {
			common.LogWarn("Dropping queued events: %v", err)
		}
		sub.Close()
	}
	a.manager.Close()
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			common.LogWarn("Closing history: %v", err)
		}
	}
}

// checkOpenVPNInstalled verifies that the configured client is available.
func checkOpenVPNInstalled(binary string) error {
	if binary == "" {
		binary = common.DefaultOpenVPNBinary
	}
	if _, err := exec.LookPath(binary); err != nil {
		common.LogError("OpenVPN is not installed on the system")
		return fmt.Errorf("openvpn client %q not found: %w", binary, err)
	}
	return nil
}
