package app

import (
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "schedbot/pkg/logx"
)

// sdNotifier talks to systemd when running as a Type=notify unit. Outside
// systemd every call is a no-op.
type sdNotifier struct {
	log      logx.Logger
	interval time.Duration // watchdog ping interval, 0 = disabled
	last     atomic.Int64
	now      func() time.Time
	notify   func(state string) (bool, error)
}

func newSdNotifier(log logx.Logger) *sdNotifier {
	n := &sdNotifier{
		log:    log,
		now:    time.Now,
		notify: func(state string) (bool, error) { return daemon.SdNotify(false, state) },
	}
	if d, err := daemon.SdWatchdogEnabled(false); err != nil {
		log.Warn("systemd watchdog config invalid", logx.Err(err))
	} else if d > 0 {
		// ping at half the timeout so one slow tick doesn't trip it
		n.interval = d / 2
		log.Info("systemd watchdog enabled", logx.Duration("timeout", d))
	}
	return n
}

func (n *sdNotifier) send(state string) {
	sent, err := n.notify(state)
	if err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Debug("sd_notify", logx.String("state", state))
	}
}

func (n *sdNotifier) Ready()    { n.send(daemon.SdNotifyReady) }
func (n *sdNotifier) Stopping() { n.send(daemon.SdNotifyStopping) }

// Watchdog pings systemd, at most once per interval. Called from every poll tick.
func (n *sdNotifier) Watchdog() {
	if n.interval <= 0 {
		return
	}
	now := n.now().UnixNano()
	last := n.last.Load()
	if last != 0 && time.Duration(now-last) < n.interval {
		return
	}
	if !n.last.CompareAndSwap(last, now) {
		return
	}
	_, _ = n.notify(daemon.SdNotifyWatchdog)
}
