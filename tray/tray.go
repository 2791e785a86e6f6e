package tray

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fyne.io/systray"

	"github.com/yllada/ovpn-manager/common"
	"github.com/yllada/ovpn-manager/vpn"
)

// Controller is the part of the Manager the tray drives.
type Controller interface {
	Connect(profileID, password string) error
	Disconnect(profileID string) error
	DisconnectAll() error
}

// entry is the tray's view of one profile.
type entry struct {
	id       string
	name     string
	state    vpn.ConnectionState
	crashed  bool
	since    time.Time
	lastUsed time.Time
}

// view is what the icon and the status line show.
type view struct {
	indicator Indicator
	status    string
	tooltip   string
	// since is when the shown connection came up, zero otherwise.
	since time.Time
}

// summarize folds the profile states into one view. A running
// connection wins over a connecting one, which wins over a stopping one.
func summarize(entries []entry) view {
	find := func(s vpn.ConnectionState) (entry, bool) {
		for _, e := range entries {
			if e.state == s {
				return e, true
			}
		}
		return entry{}, false
	}

	if e, ok := find(vpn.StateRunning); ok {
		return view{
			indicator: IndicatorConnected,
			status:    "●  Connected: " + e.name,
			tooltip:   common.AppName + " - Connected to " + e.name,
			since:     e.since,
		}
	}
	if e, ok := find(vpn.StateInitializing); ok {
		return view{
			indicator: IndicatorConnecting,
			status:    "⟳  Connecting: " + e.name + "...",
			tooltip:   common.AppName + " - Connecting to " + e.name + "...",
		}
	}
	if e, ok := find(vpn.StateStopping); ok {
		return view{
			indicator: IndicatorConnecting,
			status:    "⟳  Disconnecting: " + e.name + "...",
			tooltip:   common.AppName + " - Disconnecting from " + e.name + "...",
		}
	}
	for _, e := range entries {
		if e.crashed {
			return view{
				indicator: IndicatorError,
				status:    "✕  Connection lost: " + e.name,
				tooltip:   common.AppName + " - Connection to " + e.name + " lost",
			}
		}
	}
	return view{
		indicator: IndicatorDisconnected,
		status:    "○  Not Connected",
		tooltip:   common.AppName + " - Disconnected",
	}
}

// itemLabel is the menu title of a profile.
func itemLabel(e entry) string {
	switch e.state {
	case vpn.StateRunning:
		return "●  " + e.name
	case vpn.StateInitializing, vpn.StateStopping:
		return "⟳  " + e.name
	default:
		return "○  " + e.name
	}
}

// formatUptime renders a duration as hh:mm:ss.
func formatUptime(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

// lastUsed returns the most recently used profile, or the first one.
func lastUsed(entries []entry) (entry, bool) {
	if len(entries) == 0 {
		return entry{}, false
	}
	best := entries[0]
	for _, e := range entries[1:] {
		if e.lastUsed.After(best.lastUsed) {
			best = e
		}
	}
	return best, true
}

// Tray manages the system tray icon and menu.
type Tray struct {
	ctrl   Controller
	onQuit func()

	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	errText string

	dirty chan struct{}
	done  chan struct{}

	statusItem       *systray.MenuItem
	uptimeItem       *systray.MenuItem
	errorItem        *systray.MenuItem
	quickConnectItem *systray.MenuItem
	disconnectItem   *systray.MenuItem
	profileItems     map[string]*systray.MenuItem
}

var _ vpn.Observer = (*Tray)(nil)

// New creates a tray for the given profiles. onQuit runs when the user
// picks Quit.
func New(ctrl Controller, profiles []*vpn.Profile, onQuit func()) *Tray {
	t := &Tray{
		ctrl:         ctrl,
		onQuit:       onQuit,
		entries:      make(map[string]*entry),
		dirty:        make(chan struct{}, 1),
		done:         make(chan struct{}),
		profileItems: make(map[string]*systray.MenuItem),
	}
	for _, p := range profiles {
		t.entries[p.ID] = &entry{id: p.ID, name: p.Name, lastUsed: p.LastUsed}
		t.order = append(t.order, p.ID)
	}
	sort.SliceStable(t.order, func(i, j int) bool {
		return t.entries[t.order[i]].name < t.entries[t.order[j]].name
	})
	return t
}

// OnStateChanged records the new state and schedules a redraw.
func (t *Tray) OnStateChanged(e vpn.StateEvent) {
	t.mu.Lock()
	en, ok := t.entries[e.ProfileID]
	if ok {
		en.state = e.To
		en.crashed = e.Crashed
		if e.To == vpn.StateRunning {
			en.since = e.Time
		}
		if e.To == vpn.StateInitializing {
			en.lastUsed = e.Time
			t.errText = ""
		}
	}
	t.mu.Unlock()

	if ok {
		t.markDirty()
	}
}

// OnLog shows crash diagnostics in the menu.
func (t *Tray) OnLog(e vpn.LogEvent) {
	if !e.IsCrash() {
		return
	}
	t.mu.Lock()
	t.errText = e.Message()
	t.mu.Unlock()
	t.markDirty()
}

func (t *Tray) markDirty() {
	select {
	case t.dirty <- struct{}{}:
	default:
	}
}

func (t *Tray) snapshot() ([]entry, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]entry, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.entries[id])
	}
	return out, t.errText
}

// Run shows the tray until Quit is picked or ctx is cancelled. It must
// be called from the main goroutine.
func (t *Tray) Run(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			systray.Quit()
		case <-t.done:
		}
	}()
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(Icon(IndicatorDisconnected))
	systray.SetTitle(common.AppName)
	systray.SetTooltip(common.AppName + " - Disconnected")

	t.statusItem = systray.AddMenuItem("○  Not Connected", "Current VPN status")
	t.statusItem.Disable()

	t.uptimeItem = systray.AddMenuItem("    ⏱ Uptime: --:--:--", "Connection duration")
	t.uptimeItem.Disable()
	t.uptimeItem.Hide()

	t.errorItem = systray.AddMenuItem("", "Last error")
	t.errorItem.Disable()
	t.errorItem.Hide()

	systray.AddSeparator()

	t.quickConnectItem = systray.AddMenuItem("Quick Connect", "Connect to last used profile")
	t.quickConnectItem.Hide()
	go t.onClick(t.quickConnectItem, t.quickConnect)

	t.disconnectItem = systray.AddMenuItem("⏹  Disconnect", "Disconnect from VPN")
	t.disconnectItem.Hide()
	go t.onClick(t.disconnectItem, func() {
		if err := t.ctrl.DisconnectAll(); err != nil {
			t.showError(err)
		}
	})

	systray.AddSeparator()

	header := systray.AddMenuItem("── Profiles ──", "")
	header.Disable()

	entries, _ := t.snapshot()
	for _, e := range entries {
		item := systray.AddMenuItem(itemLabel(e), "Connect or disconnect "+e.name)
		t.profileItems[e.id] = item
		id := e.id
		go t.onClick(item, func() { t.toggle(id) })
	}

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Close "+common.AppName)
	go t.onClick(quitItem, func() {
		if t.onQuit != nil {
			t.onQuit()
		}
		systray.Quit()
	})

	go t.renderLoop()
	t.markDirty()
}

func (t *Tray) onExit() {
	close(t.done)
	common.LogInfo("Tray indicator cleanup completed")
}

func (t *Tray) onClick(item *systray.MenuItem, fn func()) {
	for {
		select {
		case <-item.ClickedCh:
			fn()
		case <-t.done:
			return
		}
	}
}

// renderLoop owns every menu update after onReady.
func (t *Tray) renderLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-t.dirty:
			t.render()
		case <-ticker.C:
			t.renderUptime()
		case <-t.done:
			return
		}
	}
}

func (t *Tray) render() {
	entries, errText := t.snapshot()
	v := summarize(entries)

	systray.SetIcon(Icon(v.indicator))
	systray.SetTooltip(v.tooltip)
	t.statusItem.SetTitle(v.status)

	if errText != "" && v.indicator != IndicatorConnected {
		t.errorItem.SetTitle("    " + errText)
		t.errorItem.Show()
	} else {
		t.errorItem.Hide()
	}

	active := false
	for _, e := range entries {
		if e.state.Active() {
			active = true
		}
		if item, ok := t.profileItems[e.id]; ok {
			item.SetTitle(itemLabel(e))
		}
	}

	if active {
		t.disconnectItem.Show()
		t.quickConnectItem.Hide()
	} else {
		t.disconnectItem.Hide()
		if e, ok := lastUsed(entries); ok {
			t.quickConnectItem.SetTitle("Quick Connect: " + e.name)
			t.quickConnectItem.Show()
		}
	}

	t.renderUptime()
}

func (t *Tray) renderUptime() {
	entries, _ := t.snapshot()
	v := summarize(entries)
	if v.since.IsZero() {
		t.uptimeItem.Hide()
		return
	}
	t.uptimeItem.SetTitle("    ⏱ Uptime: " + formatUptime(time.Since(v.since)))
	t.uptimeItem.Show()
}

func (t *Tray) toggle(id string) {
	t.mu.Lock()
	en, ok := t.entries[id]
	active := ok && en.state.Active()
	t.mu.Unlock()
	if !ok {
		return
	}

	var err error
	if active {
		err = t.ctrl.Disconnect(id)
	} else {
		err = t.ctrl.Connect(id, "")
	}
	if err != nil {
		t.showError(err)
	}
}

func (t *Tray) quickConnect() {
	entries, _ := t.snapshot()
	if e, ok := lastUsed(entries); ok {
		t.toggle(e.id)
	}
}

func (t *Tray) showError(err error) {
	common.LogWarn("Tray: %v", err)
	t.mu.Lock()
	t.errText = err.Error()
	t.mu.Unlock()
	t.markDirty()
}
