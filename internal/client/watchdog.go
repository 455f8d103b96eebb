package client

import (
	"time"

	"dtltunnel/internal/flog"
)

// watchdog tears down the control connection once no inbound frame has
// been observed for WatchdogTimeout (spec §4.9 step 4). The sleep between
// checks is not a flat poll: it is WatchdogTimeout minus the time already
// elapsed since the last inbound frame (plus 1s slack), clamped to at
// least half of WatchdogTimeout, reproducing the original watchdog's
// backoff math (SPEC_FULL.md supplemented feature #5) instead of busy
// polling every second.
func (t *Tunnel) watchdog(stop <-chan struct{}) {
	for {
		t.mu.Lock()
		elapsed := time.Since(t.lastInbound)
		control := t.control
		t.mu.Unlock()

		if elapsed > WatchdogTimeout {
			flog.Warnf("tunnel: watchdog tripped, no inbound frame for %s", elapsed)
			if control != nil {
				control.Close()
			}
			return
		}

		sleep := WatchdogTimeout - elapsed + time.Second
		if min := WatchdogTimeout / 2; sleep < min {
			sleep = min
		}

		select {
		case <-stop:
			return
		case <-time.After(sleep):
		}
	}
}
