package oidcrp

import (
	"context"
	"errors"
	"sync"
)

// silentRenewRetrySecs is how long a renewal attempt that timed out waits
// before trying again.
const silentRenewRetrySecs = 5

// SilentRenewService keeps the persisted user's access token fresh: whenever
// a user with a known expiry is loaded it arms one timer for the expiring
// notification and one for the expiry itself, and on the expiring shot it
// attempts a silent signin.  A renewal that fails with a timeout is retried;
// any other failure is surfaced through the SilentRenewError event.
type SilentRenewService struct {
	manager *UserManager

	expiringTimer *Timer
	expiredTimer  *Timer

	mu            sync.Mutex
	started       bool
	unsubLoaded   func()
	unsubUnloaded func()
}

func newSilentRenewService(m *UserManager) *SilentRenewService {
	s := &SilentRenewService{manager: m}
	timerOpts := []Option{WithLogger(m.logger)}
	s.expiringTimer = NewTimer("access-token-expiring", s.onExpiring, timerOpts...)
	s.expiredTimer = NewTimer("access-token-expired", s.onExpired, timerOpts...)
	return s
}

// Start arms renewal for the currently persisted user (if any) and keeps the
// timers in sync with every subsequent user load and unload.  Starting a
// started service is a no-op.
func (s *SilentRenewService) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.unsubLoaded = s.manager.events.UserLoaded.Subscribe(s.armFor)
	s.unsubUnloaded = s.manager.events.UserUnloaded.Subscribe(func(struct{}) {
		s.expiringTimer.Cancel()
		s.expiredTimer.Cancel()
	})
	s.mu.Unlock()

	user, err := s.manager.User(context.Background())
	if err != nil {
		s.manager.logger.Warn("unable to load user for silent renew", "error", err)
		return
	}
	if user != nil {
		s.armFor(user)
	}
}

// Stop disarms the timers and detaches from the user lifecycle.  Stopping a
// stopped service is a no-op.
func (s *SilentRenewService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	s.unsubLoaded()
	s.unsubUnloaded()
	s.unsubLoaded, s.unsubUnloaded = nil, nil
	s.expiringTimer.Cancel()
	s.expiredTimer.Cancel()
}

// armFor schedules the expiring and expired shots for user.  A user with no
// known expiry disarms both timers.
func (s *SilentRenewService) armFor(user *User) {
	if user == nil || user.ExpiresAt == 0 {
		s.expiringTimer.Cancel()
		s.expiredTimer.Cancel()
		return
	}
	expiresIn := user.ExpiresIn(WithNow(s.manager.settings.now))
	notifySecs := int64(s.manager.settings.ExpiringNotificationTime.Seconds())
	s.expiringTimer.Init(expiresIn - notifySecs)
	s.expiredTimer.Init(expiresIn + 1)
}

func (s *SilentRenewService) onExpiring() {
	s.manager.events.AccessTokenExpiring.Raise(struct{}{})
	s.renew()
}

func (s *SilentRenewService) onExpired() {
	s.manager.events.AccessTokenExpired.Raise(struct{}{})
}

// renew runs one silent signin.  Success re-arms the timers through the
// UserLoaded subscription; a timeout schedules a retry on the expiring
// timer.
func (s *SilentRenewService) renew() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}

	_, err := s.manager.SigninSilent(context.Background(), SigninArgs{})
	switch {
	case err == nil:
		s.manager.logger.Debug("silent renew succeeded")
	case errors.Is(err, ErrTimeout):
		s.manager.logger.Debug("silent renew timed out, retrying", "error", err)
		s.expiringTimer.Init(silentRenewRetrySecs)
	default:
		s.manager.logger.Error("silent renew failed", "error", err)
		s.manager.events.SilentRenewError.Raise(err)
	}
}
