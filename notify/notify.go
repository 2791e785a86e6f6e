// Package notify shows desktop notifications for connection events.
// Notifications go over the session D-Bus, or through notify-send when no
// bus is reachable.
package notify

import (
	"fmt"
	"os/exec"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/yllada/ovpn-manager/common"
	"github.com/yllada/ovpn-manager/vpn"
)

const (
	dbusDest   = "org.freedesktop.Notifications"
	dbusPath   = dbus.ObjectPath("/org/freedesktop/Notifications")
	dbusMethod = dbusDest + ".Notify"

	expireDefault = int32(-1)
)

// DBusNotifier sends notifications through org.freedesktop.Notifications.
type DBusNotifier struct {
	conn    *dbus.Conn
	obj     dbus.BusObject
	appName string

	mu     sync.Mutex
	lastID uint32
}

// NewDBusNotifier connects to the session bus.
func NewDBusNotifier() (*DBusNotifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &DBusNotifier{
		conn:    conn,
		obj:     conn.Object(dbusDest, dbusPath),
		appName: common.AppName,
	}, nil
}

// Notify sends a notification. Each one replaces the previous, so a
// connect sequence shows as a single bubble.
func (n *DBusNotifier) Notify(title, message, icon string, urgency common.Urgency) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(byte(urgency)),
	}
	call := n.obj.Call(dbusMethod, 0,
		n.appName, n.lastID, icon, title, message, []string{}, hints, expireDefault)
	if call.Err != nil {
		return fmt.Errorf("notify: %w", call.Err)
	}
	return call.Store(&n.lastID)
}

// Close releases the bus connection.
func (n *DBusNotifier) Close() error {
	return n.conn.Close()
}

// CommandNotifier runs notify-send.
type CommandNotifier struct {
	// Command defaults to notify-send.
	Command string
}

// Notify runs the command for one notification.
func (n CommandNotifier) Notify(title, message, icon string, urgency common.Urgency) error {
	command := n.Command
	if command == "" {
		command = "notify-send"
	}

	cmd := exec.Command(command,
		"--app-name="+common.AppName,
		"--icon="+icon,
		"--urgency="+urgencyName(urgency),
		title,
		message,
	)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", command, err)
	}
	return nil
}

func urgencyName(u common.Urgency) string {
	switch u {
	case common.UrgencyLow:
		return "low"
	case common.UrgencyCritical:
		return "critical"
	default:
		return "normal"
	}
}

// New returns the D-Bus notifier, or notify-send when the bus is not
// available.
func New() common.Notifier {
	n, err := NewDBusNotifier()
	if err != nil {
		common.LogDebug("D-Bus notifications unavailable, using notify-send: %v", err)
		return CommandNotifier{}
	}
	return n
}

// notification is one message derived from a state change.
type notification struct {
	title   string
	message string
	icon    string
	urgency common.Urgency
}

// notificationFor maps a transition to what the user sees. Transitions
// into STOPPING produce nothing. detail, if set, explains a crash.
func notificationFor(e vpn.StateEvent, name, detail string) (notification, bool) {
	switch e.To {
	case vpn.StateInitializing:
		return notification{
			title:   "Connecting VPN",
			message: "Connecting to " + name + "...",
			icon:    "network-vpn-acquiring",
			urgency: common.UrgencyLow,
		}, true
	case vpn.StateRunning:
		return notification{
			title:   "VPN Connected",
			message: "Connected to " + name,
			icon:    "network-vpn",
			urgency: common.UrgencyNormal,
		}, true
	case vpn.StateStopped:
		if e.Crashed {
			msg := name + ": connection lost"
			if detail != "" {
				msg = detail
			}
			return notification{
				title:   "Connection Error",
				message: msg,
				icon:    "network-vpn-error",
				urgency: common.UrgencyCritical,
			}, true
		}
		return notification{
			title:   "VPN Disconnected",
			message: "Disconnected from " + name,
			icon:    "network-vpn-disconnected",
			urgency: common.UrgencyLow,
		}, true
	}
	return notification{}, false
}

// Observer turns hub events into notifications.
type Observer struct {
	notifier common.Notifier
	names    func(profileID string) string

	mu     sync.Mutex
	detail map[string]string
}

var _ vpn.Observer = (*Observer)(nil)

// NewObserver creates an observer. names resolves a profile ID to the
// name shown to the user; nil shows the ID.
func NewObserver(n common.Notifier, names func(profileID string) string) *Observer {
	if names == nil {
		names = func(id string) string { return id }
	}
	return &Observer{
		notifier: n,
		names:    names,
		detail:   make(map[string]string),
	}
}

// OnStateChanged sends the notification for a transition.
func (o *Observer) OnStateChanged(e vpn.StateEvent) {
	o.mu.Lock()
	detail := o.detail[e.ProfileID]
	if e.To == vpn.StateStopped || e.To == vpn.StateInitializing {
		delete(o.detail, e.ProfileID)
	}
	o.mu.Unlock()

	n, ok := notificationFor(e, o.names(e.ProfileID), detail)
	if !ok {
		return
	}
	if err := o.notifier.Notify(n.title, n.message, n.icon, n.urgency); err != nil {
		common.LogWarn("Error showing notification: %v", err)
	}
}

// OnLog remembers crash diagnostics, which arrive before the STOPPED
// transition they explain.
func (o *Observer) OnLog(e vpn.LogEvent) {
	if !e.IsCrash() {
		return
	}
	o.mu.Lock()
	o.detail[e.ProfileID()] = e.Message()
	o.mu.Unlock()
}
