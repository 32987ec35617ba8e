package systemd

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
)

// Socket names set with FileDescriptorName= in idlewatch.socket.
const (
	AdminSocketName   = "admin"
	MetricsSocketName = "metrics"
)

// Listeners holds all systemd-activated listeners
type Listeners struct {
	Admin     net.Listener
	Metrics   net.Listener
	Activated bool
}

// GetListeners retrieves systemd socket-activated file descriptors.
// Returns nil listeners if not running under socket activation.
func GetListeners() (*Listeners, error) {
	listeners := &Listeners{}

	fds := activation.Files(false) // false = don't unset env vars
	if len(fds) == 0 {
		return listeners, nil
	}
	for _, f := range fds {
		_ = f.Close()
	}

	listeners.Activated = true

	// Named listeners require systemd 227+
	listenersMap, err := activation.ListenersWithNames()
	if err != nil {
		return nil, fmt.Errorf("failed to get systemd listeners: %w", err)
	}

	if lns, ok := listenersMap[AdminSocketName]; ok && len(lns) > 0 {
		listeners.Admin = lns[0]
	}

	if lns, ok := listenersMap[MetricsSocketName]; ok && len(lns) > 0 {
		listeners.Metrics = lns[0]
	}

	return listeners, nil
}

// NotifyReady sends READY=1 notification to systemd
func NotifyReady() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		return fmt.Errorf("failed to send sd_notify: %w", err)
	}
	return nil
}

// NotifyStopping sends STOPPING=1 notification to systemd
func NotifyStopping() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		return fmt.Errorf("failed to send sd_notify stopping: %w", err)
	}
	return nil
}

// NotifyWatchdog sends WATCHDOG=1 notification to systemd
func NotifyWatchdog() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
		return fmt.Errorf("failed to send sd_notify watchdog: %w", err)
	}
	return nil
}

// RunWatchdog pings the systemd watchdog at half its interval until ctx is
// done. It returns immediately when WatchdogSec= is not configured.
func RunWatchdog(ctx context.Context, logger zerolog.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn().Err(err).Msg("Invalid systemd watchdog configuration")
		return
	}
	if interval == 0 {
		return
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	logger.Debug().Dur("interval", interval).Msg("Systemd watchdog enabled")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := NotifyWatchdog(); err != nil {
				logger.Warn().Err(err).Msg("Watchdog notification failed")
			}
		}
	}
}

// IsSystemdService returns true if running as a systemd service
func IsSystemdService() bool {
	return os.Getenv("NOTIFY_SOCKET") != ""
}
