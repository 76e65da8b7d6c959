package poller

import (
	"math/rand"
	"sync"
	"time"

	"github.com/KevinKickass/OpenCounterCore/internal/types"
)

type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateCooldown     ConnectionState = "cooldown"
)

// Timing bundles the retry parameters shared by all devices.
type Timing struct {
	Cooldown    time.Duration
	BackoffBase time.Duration
}

// ConnectionInfo is a copy of the tracker state for the API surface.
type ConnectionInfo struct {
	State               ConnectionState `json:"state"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	LastAttempt         time.Time       `json:"last_attempt,omitzero"`
	LastSuccess         time.Time       `json:"last_success,omitzero"`
	Parked              bool            `json:"parked"`
}

// ConnTracker is the per-device connection state machine. Every
// decision takes an explicit time so the machine can be driven by a
// simulated clock in tests. The owning poll goroutine is the only
// writer; the mutex exists for API readers.
type ConnTracker struct {
	mu                  sync.Mutex
	state               ConnectionState
	consecutiveFailures int
	lastAttempt         time.Time
	lastSuccess         time.Time
	nextAttempt         time.Time
	parked              bool

	maxRetries   int
	pollInterval time.Duration
	timing       Timing
}

func NewConnTracker(cfg types.DeviceConfig, timing Timing) *ConnTracker {
	return &ConnTracker{
		state:        StateDisconnected,
		maxRetries:   cfg.MaxRetries,
		pollInterval: cfg.PollInterval,
		timing:       timing,
	}
}

// ShouldAttempt decides whether this poll tick may touch the device.
// Leaving cooldown transitions back to Disconnected.
func (t *ConnTracker) ShouldAttempt(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.parked {
		return false
	}

	switch t.state {
	case StateCooldown:
		if now.Before(t.nextAttempt) {
			return false
		}
		t.state = StateDisconnected
		return true
	case StateDisconnected:
		return !now.Before(t.nextAttempt)
	default:
		return true
	}
}

// BeginConnect marks the dial attempt.
func (t *ConnTracker) BeginConnect(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateConnecting
	t.lastAttempt = now
}

// ConnectSucceeded moves Connecting to Connected. Failure counting is
// untouched: only a successful read clears it.
func (t *ConnTracker) ConnectSucceeded() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateConnected
}

// ConnectFailed records a dial failure. Transient failures enter the
// cooldown window, fatal ones park the device for good.
func (t *ConnTracker) ConnectFailed(now time.Time, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.consecutiveFailures++
	t.lastAttempt = now

	if types.IsFatal(err) {
		t.park()
		return
	}

	t.state = StateCooldown
	t.nextAttempt = now.Add(t.timing.Cooldown)
}

// ReadFailed records a failed read on an open session. The session is
// gone; the next attempt is gated by backoff.
func (t *ConnTracker) ReadFailed(now time.Time, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.consecutiveFailures++
	t.lastAttempt = now

	if types.IsFatal(err) {
		t.park()
		return
	}

	t.state = StateDisconnected
	t.nextAttempt = now.Add(t.backoff())
}

// ReadSucceeded resets the failure count.
func (t *ConnTracker) ReadSucceeded(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = StateConnected
	t.consecutiveFailures = 0
	t.lastSuccess = now
	t.nextAttempt = time.Time{}
}

// park shuts the device out until the process restarts. The config is
// immutable, so retrying a configuration mismatch cannot succeed.
func (t *ConnTracker) park() {
	t.parked = true
	t.state = StateDisconnected
}

// backoff grows exponentially with jitter and is capped at the poll
// interval so retries never stack faster than the regular cadence.
func (t *ConnTracker) backoff() time.Duration {
	shift := t.consecutiveFailures - 1
	if shift > 16 {
		shift = 16
	}
	d := t.timing.BackoffBase << shift

	// +/- 20% Jitter
	jittered := time.Duration(float64(d) * (0.8 + 0.4*rand.Float64()))
	if jittered > t.pollInterval {
		jittered = t.pollInterval
	}
	return jittered
}

func (t *ConnTracker) State() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *ConnTracker) ConsecutiveFailures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consecutiveFailures
}

func (t *ConnTracker) Parked() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.parked
}

func (t *ConnTracker) Info() ConnectionInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ConnectionInfo{
		State:               t.state,
		ConsecutiveFailures: t.consecutiveFailures,
		LastAttempt:         t.lastAttempt,
		LastSuccess:         t.lastSuccess,
		Parked:              t.parked,
	}
}
