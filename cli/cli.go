// Package cli provides command-line interface functionality for OpenVPN
// Manager. It manages profiles and runs a connection in the foreground,
// printing the client log as it arrives.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/yllada/ovpn-manager/common"
	"github.com/yllada/ovpn-manager/history"
	"github.com/yllada/ovpn-manager/vpn"
)

// PasswordPrompt asks the user for a secret.
type PasswordPrompt func(prompt string) (string, error)

// Options configures a CLI.
type Options struct {
	Manager *vpn.Manager
	// Credentials is the saved password store. May be nil.
	Credentials common.CredentialStore
	// History is the session database. May be nil.
	History *history.Store
	Out     io.Writer
	// Prompt defaults to reading from the terminal.
	Prompt PasswordPrompt
	// ConnectTimeout bounds the wait for the tunnel.
	ConnectTimeout time.Duration
	// StopTimeout is the grace period the manager gives a client before
	// killing it. Disconnect waits twice as long for the exit.
	StopTimeout time.Duration
}

// CLI represents the command-line interface.
type CLI struct {
	manager     *vpn.Manager
	creds       common.CredentialStore
	history     *history.Store
	out         io.Writer
	prompt      PasswordPrompt
	timeout     time.Duration
	stopTimeout time.Duration
}

// New creates a new CLI instance.
func New(opts Options) *CLI {
	c := &CLI{
		manager:     opts.Manager,
		creds:       opts.Credentials,
		history:     opts.History,
		out:         opts.Out,
		prompt:      opts.Prompt,
		timeout:     opts.ConnectTimeout,
		stopTimeout: opts.StopTimeout,
	}
	if c.out == nil {
		c.out = os.Stdout
	}
	c.out = &syncWriter{w: c.out}
	if c.prompt == nil {
		c.prompt = terminalPrompt
	}
	if c.timeout <= 0 {
		c.timeout = common.ConnectionTimeout
	}
	if c.stopTimeout <= 0 {
		c.stopTimeout = common.StopTimeout
	}
	return c
}

// ListProfiles lists all configured VPN profiles.
func (c *CLI) ListProfiles() error {
	profiles := c.manager.ProfileManager().List()

	if len(profiles) == 0 {
		fmt.Fprintln(c.out, "No VPN profiles configured.")
		fmt.Fprintln(c.out, "Add one with: ovpn-manager --add client.ovpn")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tAUTO-CONNECT\tLAST USED")
	fmt.Fprintln(w, "--\t----\t------\t------------\t---------")

	for _, profile := range profiles {
		status := vpn.StateStopped.Label()
		if sup, exists := c.manager.Supervisor(profile.ID); exists {
			status = sup.State().Label()
		}

		autoConnect := "No"
		if profile.AutoConnect {
			autoConnect = "Yes"
		}

		lastUsed := "never"
		if !profile.LastUsed.IsZero() {
			lastUsed = profile.LastUsed.Format("2006-01-02 15:04")
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			common.ShortID(profile.ID), profile.Name, status, autoConnect, lastUsed)
	}

	return w.Flush()
}

// AddProfile imports an OpenVPN configuration file.
func (c *CLI) AddProfile(configPath, name, username string, savePassword bool) error {
	profile := &vpn.Profile{
		Name:         name,
		ConfigPath:   configPath,
		Username:     username,
		SavePassword: savePassword,
	}
	if err := c.manager.ProfileManager().Add(profile); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "✓ Added %s (%s)\n", profile.Name, common.ShortID(profile.ID))
	return nil
}

// RemoveProfile deletes a profile and its saved password.
func (c *CLI) RemoveProfile(ref string) error {
	profile, err := c.manager.ProfileManager().Find(ref)
	if err != nil {
		return err
	}
	if sup, ok := c.manager.Supervisor(profile.ID); ok && sup.State().Active() {
		return fmt.Errorf("%s is %s: %w", profile.Name, sup.State(), vpn.ErrAlreadyRunning)
	}

	if err := c.manager.ProfileManager().Remove(profile.ID); err != nil {
		return err
	}
	if c.creds != nil {
		if err := c.creds.Delete(profile.ID); err != nil {
			common.LogWarn("Could not delete saved password of %s: %v", profile.Name, err)
		}
	}

	fmt.Fprintf(c.out, "✓ Removed %s\n", profile.Name)
	return nil
}

// Connect connects to a VPN profile by name or ID and stays in the
// foreground until ctx is cancelled or the client exits.
func (c *CLI) Connect(ctx context.Context, ref string, askPassword bool) error {
	profile, err := c.manager.ProfileManager().Find(ref)
	if err != nil {
		return err
	}

	password := ""
	if askPassword || c.needsPassword(profile) {
		password, err = c.prompt(fmt.Sprintf("Password for %s: ", profile.Name))
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
	}

	printer := newLogPrinter(c.out, profile.ID)
	sub := c.manager.Subscribe(printer)
	defer c.closeSubscription(sub)

	fmt.Fprintf(c.out, "Connecting to %s...\n", profile.Name)
	if err := c.manager.Connect(profile.ID, password); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	sup, _ := c.manager.Supervisor(profile.ID)

	waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
	err = sup.WaitConnected(waitCtx)
	cancel()
	if err != nil {
		_ = c.stop(sup)
		return fmt.Errorf("connection failed: %w", err)
	}
	fmt.Fprintf(c.out, "✓ Connected to %s (press Ctrl+C to disconnect)\n", profile.Name)

	// Returns nil when the client exits by itself.
	if err := sup.WaitState(ctx, vpn.StateStopped); err == nil {
		return fmt.Errorf("%s: %w", profile.Name, vpn.ErrUnexpectedExit)
	}

	fmt.Fprintf(c.out, "Disconnecting from %s...\n", profile.Name)
	if err := c.stop(sup); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "✓ Disconnected from %s\n", profile.Name)
	return nil
}

// needsPassword reports whether the profile authenticates with a
// username but has no saved password.
func (c *CLI) needsPassword(profile *vpn.Profile) bool {
	if profile.Username == "" {
		return false
	}
	if !profile.SavePassword || c.creds == nil {
		return true
	}
	_, err := c.creds.Get(profile.ID)
	return err != nil
}

// stop disconnects a supervisor and waits for the client to exit.
func (c *CLI) stop(sup *vpn.Supervisor) error {
	if err := sup.Disconnect(); err != nil && !errors.Is(err, vpn.ErrNotRunning) {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*c.stopTimeout)
	defer cancel()
	return sup.WaitState(ctx, vpn.StateStopped)
}

// closeSubscription prints the log lines still queued for the printer
// before closing it.
func (c *CLI) closeSubscription(sub *vpn.Subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), c.stopTimeout)
	defer cancel()
	if err := sub.Drain(ctx); err != nil {
		common.LogWarn("Dropping queued log lines: %v", err)
	}
	sub.Close()
}

// History prints recent sessions, optionally of one profile.
func (c *CLI) History(ref string, limit int) error {
	if c.history == nil {
		return errors.New("history is disabled in the configuration")
	}

	profileID := ""
	if ref != "" {
		profile, err := c.manager.ProfileManager().Find(ref)
		if err != nil {
			return err
		}
		profileID = profile.ID
	}

	sessions, err := c.history.Sessions(profileID, limit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(c.out, "No sessions recorded.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROFILE\tSTARTED\tDURATION\tRESULT")
	fmt.Fprintln(w, "-------\t-------\t--------\t------")

	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			c.profileName(s.ProfileID),
			s.Started.Format("2006-01-02 15:04:05"),
			formatDuration(s.Duration()),
			sessionResult(s))
	}

	return w.Flush()
}

// Logs prints the stored log of a profile.
func (c *CLI) Logs(ref string, limit int) error {
	if c.history == nil {
		return errors.New("history is disabled in the configuration")
	}

	profile, err := c.manager.ProfileManager().Find(ref)
	if err != nil {
		return err
	}

	records, err := c.history.RecentLogs(profile.ID, limit)
	if err != nil {
		return err
	}
	for _, r := range records {
		fmt.Fprintln(c.out, formatLine(r.Time, r.Category, r.Message))
	}
	return nil
}

func (c *CLI) profileName(id string) string {
	if p, err := c.manager.ProfileManager().Get(id); err == nil {
		return p.Name
	}
	return common.ShortID(id)
}

func sessionResult(s history.Session) string {
	switch {
	case s.Ended.IsZero():
		return "active"
	case s.Crashed:
		return "crashed"
	case s.Connected.IsZero():
		return "cancelled"
	default:
		return "ok"
	}
}

// terminalPrompt reads a password without echo when stdin is a terminal.
func terminalPrompt(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		return string(b), err
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// PrintHelp prints CLI usage help.
func PrintHelp(w io.Writer, flags string) {
	fmt.Fprintf(w, `OpenVPN Manager

Usage:
  ovpn-manager [OPTIONS]

Options:
%s
Examples:
  ovpn-manager --add work.ovpn --name "Work VPN" --username alice --save-password
  ovpn-manager --list
  ovpn-manager --connect "Work VPN"
  ovpn-manager --history
  ovpn-manager --logs "Work VPN"
  ovpn-manager --tui

Notes:
  - --connect stays in the foreground; Ctrl+C disconnects
  - Run without options to start the tray indicator
`, flags)
}
