package oidcrp

import (
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Timer is a named single-shot expiry timer.  Init arms it (re-arming an
// already armed timer replaces the previous shot), Cancel disarms it and is
// idempotent.  The registered callback runs at most once per arm.
type Timer struct {
	name   string
	cb     func()
	logger hclog.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// NewTimer creates a disarmed Timer which will run cb when a shot armed via
// Init expires.
// Supported options: WithLogger
func NewTimer(name string, cb func(), opt ...Option) *Timer {
	opts := getTimerOpts(opt...)
	return &Timer{
		name:   name,
		cb:     cb,
		logger: opts.withLogger,
	}
}

// Init arms the timer to fire once after the given number of seconds,
// replacing any previously armed shot.  Durations below one second are
// floored at one second, so a callback can always observe the state that
// armed it.
func (t *Timer) Init(durationSecs int64) {
	if durationSecs < 1 {
		durationSecs = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	if t.logger != nil {
		t.logger.Debug("timer armed", "name", t.name, "duration_secs", durationSecs)
	}
	t.timer = time.AfterFunc(time.Duration(durationSecs)*time.Second, t.expire)
}

// Cancel disarms the timer.  Canceling a disarmed timer is a no-op.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Timer) expire() {
	t.mu.Lock()
	t.timer = nil
	t.mu.Unlock()
	if t.logger != nil {
		t.logger.Debug("timer expired", "name", t.name)
	}
	t.cb()
}

type timerOptions struct {
	withLogger hclog.Logger
}

func timerDefaults() timerOptions {
	return timerOptions{}
}

func getTimerOpts(opt ...Option) timerOptions {
	opts := timerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
