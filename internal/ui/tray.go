package ui

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/shotpipe/shotpipe-agent/internal/catalog"
	"github.com/shotpipe/shotpipe-agent/internal/jobs"
	"github.com/shotpipe/shotpipe-agent/internal/shotgrid"
)

const refreshInterval = time.Second

// Controller is the part of the job runner the tray drives.
type Controller interface {
	State() jobs.State
	Pause()
	Resume()
	IsPaused() bool
	CancelActive(ctx context.Context) bool
}

type Tray struct {
	runner  Controller
	client  shotgrid.Client
	logger  *slog.Logger
	onQuit  func()
	project string

	connItem     *systray.MenuItem
	statusItem   *systray.MenuItem
	progressItem *systray.MenuItem
	pauseItem    *systray.MenuItem
	cancelItem   *systray.MenuItem

	mu       sync.Mutex
	lastIcon string
	stop     chan struct{}
	stopOnce sync.Once
}

type TrayConfig struct {
	Runner         Controller
	Shotgrid       shotgrid.Client
	DefaultProject string
	Logger         *slog.Logger
	OnQuit         func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		runner:  cfg.Runner,
		client:  cfg.Shotgrid,
		logger:  cfg.Logger,
		onQuit:  cfg.OnQuit,
		project: cfg.DefaultProject,
		stop:    make(chan struct{}),
	}
}

// Run blocks on the platform event loop.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(dotIcon(colorDisconnected))
	systray.SetTitle("ShotPipe")
	systray.SetTooltip("ShotPipe Agent")

	t.connItem = systray.AddMenuItem("Shotgrid: disconnected", "Shotgrid connection")
	t.connItem.Disable()
	if t.project != "" {
		projectItem := systray.AddMenuItem("Project: "+t.project, "Default Shotgrid project")
		projectItem.Disable()
	}
	t.statusItem = systray.AddMenuItem("Status: Idle", "Current agent status")
	t.statusItem.Disable()
	t.progressItem = systray.AddMenuItem("No active batch", "Active batch progress")
	t.progressItem.Disable()

	systray.AddSeparator()

	t.pauseItem = systray.AddMenuItem("Pause", "Stop picking up queued batches")
	t.cancelItem = systray.AddMenuItem("Cancel Batch", "Cancel the running batch")
	t.cancelItem.Disable()
	testItem := systray.AddMenuItem("Test Connection", "Check the Shotgrid connection")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit ShotPipe Agent")

	t.refresh()

	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.refresh()
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-t.cancelItem.ClickedCh:
				t.cancelActive()
			case <-testItem.ClickedCh:
				go t.testConnection()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			case <-t.stop:
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.runner.State()
	connected := t.client != nil && t.client.IsConnected()

	if connected {
		t.connItem.SetTitle("Shotgrid: connected")
	} else {
		t.connItem.SetTitle("Shotgrid: disconnected")
	}
	t.statusItem.SetTitle("Status: " + st.Label())
	t.progressItem.SetTitle(st.Active.Progress())
	if st.Active != nil && st.Active.Type == catalog.JobTypeProcess {
		t.cancelItem.Enable()
	} else {
		t.cancelItem.Disable()
	}

	icon := "disconnected"
	switch {
	case st.Active != nil:
		icon = "busy"
	case connected:
		icon = "connected"
	}
	if icon != t.lastIcon {
		t.lastIcon = icon
		systray.SetIcon(dotIcon(iconColors[icon]))
	}
}

func (t *Tray) togglePause() {
	if t.runner.IsPaused() {
		t.runner.Resume()
		t.pauseItem.SetTitle("Pause")
	} else {
		t.runner.Pause()
		t.pauseItem.SetTitle("Resume")
	}
	t.refresh()
}

func (t *Tray) cancelActive() {
	if t.runner.CancelActive(context.Background()) {
		t.logger.Info("batch cancel requested from tray")
	}
	t.refresh()
}

func (t *Tray) testConnection() {
	if t.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := t.client.TestConnection(ctx); err != nil {
		t.logger.Warn("shotgrid connection test failed", "error", err)
		t.mu.Lock()
		t.connItem.SetTitle("Shotgrid: error")
		t.mu.Unlock()
		return
	}
	t.logger.Info("shotgrid connection test passed", "server", t.client.ServerURL())
	t.refresh()
}

// Quit stops the refresh loop and the event loop.
func (t *Tray) Quit() {
	t.stopOnce.Do(func() { close(t.stop) })
	systray.Quit()
}
