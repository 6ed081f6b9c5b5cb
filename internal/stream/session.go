package stream

import (
	"context"
	"time"
)

// Session loop timing shared by every instantiation.
const (
	PollInterval      = 2 * time.Second
	HeartbeatInterval = 15 * time.Second
)

// Config parameterizes a session: only the maximum duration varies
// between the three flows.
type Config struct {
	MaxDuration       time.Duration
	PollInterval      time.Duration
	HeartbeatInterval time.Duration

	// Wake, when non-nil, ends the poll wait early. Polling stays the
	// correctness mechanism; wake-ups only cut notification latency.
	Wake <-chan struct{}
}

// NewConfig returns a session config with the standard cadence.
func NewConfig(maxDuration time.Duration) Config {
	return Config{
		MaxDuration:       maxDuration,
		PollInterval:      PollInterval,
		HeartbeatInterval: HeartbeatInterval,
	}
}

// StepFunc compares the last-observed version counters to their current
// values and emits events when they differ. Returning done ends the
// session; an error ends it too (the transport is likely gone).
type StepFunc func(ctx context.Context) (done bool, err error)

// Run drives a session until the step reports done, the client
// disconnects, or the maximum duration elapses. Reaching max duration
// simply ends the loop: no cancellation is signaled to the peer, which
// is expected to reconnect carrying its last event id. Disconnection is
// re-checked on every iteration and observed at heartbeat writes, since
// a write is often where a dead transport first shows.
func Run(ctx context.Context, w *Writer, cfg Config, step StepFunc) error {
	start := time.Now()
	lastBeat := start

	// First step runs immediately so connect-time state (snapshots,
	// already-authorized codes) goes out without a poll delay.
	for {
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(start) >= cfg.MaxDuration {
			return nil
		}

		done, err := step(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if time.Since(lastBeat) >= cfg.HeartbeatInterval {
			if err := w.KeepAlive(); err != nil {
				// Write failure is the disconnect signal.
				return nil
			}
			lastBeat = time.Now()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(cfg.PollInterval):
		case <-cfg.Wake:
		}
	}
}
