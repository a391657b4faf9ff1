// Package systemd reports service state to systemd over NOTIFY_SOCKET.
// Every call is a no-op when the process is not run by systemd.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// notify is swapped in tests.
var notify = daemon.SdNotify

// Ready tells systemd startup finished (Type=notify units).
func Ready() (bool, error) { return notify(false, daemon.SdNotifyReady) }

// Reloading marks a config reload; call Ready when it is applied.
func Reloading() (bool, error) { return notify(false, daemon.SdNotifyReloading) }

func Stopping() (bool, error) { return notify(false, daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func Status(s string) (bool, error) { return notify(false, "STATUS="+s) }

// WatchdogInterval returns how often to ping, or 0 when WatchdogSec is unset.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	// ping at half the deadline
	return d / 2
}

// Watchdog pings systemd every interval until ctx is done.
func Watchdog(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = notify(false, daemon.SdNotifyWatchdog)
		}
	}
}
