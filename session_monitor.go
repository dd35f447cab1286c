package oidcrp

import (
	"context"
	"sync"
	"time"
)

// CheckSessionSignal is one observation reported by a CheckSessionChannel.
type CheckSessionSignal string

const (
	// CheckSessionUnchanged means the provider session is still the one
	// being watched.
	CheckSessionUnchanged CheckSessionSignal = "unchanged"

	// CheckSessionChanged means the provider session differs from the one
	// being watched.
	CheckSessionChanged CheckSessionSignal = "changed"

	// CheckSessionError means the channel could not determine the session
	// state.
	CheckSessionError CheckSessionSignal = "error"
)

// CheckSessionArgs configure one watch on a CheckSessionChannel.
type CheckSessionArgs struct {
	// URL is the provider's check_session_iframe endpoint.
	URL string

	// ClientID identifies this relying party to the endpoint.
	ClientID string

	// SessionState is the session_state value to watch for drift.
	SessionState string

	// Interval is the polling period.
	Interval time.Duration

	// OnSignal receives every observation.  It may be called from the
	// channel's own goroutine.
	OnSignal func(CheckSessionSignal)
}

// CheckSessionChannel polls the provider's check-session endpoint for one
// session_state and reports drift.  Implementations live with the caller,
// since the transport to the provider's frame is host specific; Start and
// Stop must both be idempotent.
type CheckSessionChannel interface {
	Start(ctx context.Context, args CheckSessionArgs) error
	Stop()
}

// SessionMonitor watches the provider session behind the persisted user and
// translates raw check-session signals into UserSignedIn, UserSignedOut and
// UserSessionChanged events.  A "changed" signal is never trusted on its
// own: the monitor re-queries the provider and compares subject and session
// id against what it was watching, so repeated signals for the same session
// collapse into a single event.
type SessionMonitor struct {
	manager *UserManager
	channel CheckSessionChannel

	mu            sync.Mutex
	started       bool
	polling       bool
	subject       string
	sessionID     string
	sessionState  string
	unsubLoaded   func()
	unsubUnloaded func()
}

func newSessionMonitor(m *UserManager, channel CheckSessionChannel) *SessionMonitor {
	return &SessionMonitor{manager: m, channel: channel}
}

// Start begins watching the persisted user's session and keeps the watch in
// sync with user loads and unloads.  With no user stored, monitoring begins
// only when MonitorAnonymousSession is set, by querying the provider for the
// anonymous session first.  Starting a started monitor is a no-op.
func (s *SessionMonitor) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.unsubLoaded = s.manager.events.UserLoaded.Subscribe(s.onUserLoaded)
	s.unsubUnloaded = s.manager.events.UserUnloaded.Subscribe(s.onUserUnloaded)
	s.mu.Unlock()

	user, err := s.manager.User(context.Background())
	if err != nil {
		s.manager.logger.Warn("unable to load user for session monitoring", "error", err)
		return
	}
	switch {
	case user != nil:
		s.onUserLoaded(user)
	case s.manager.settings.MonitorAnonymousSession:
		s.queryAndWatch()
	}
}

// Stop ends the watch and detaches from the user lifecycle.  Stopping a
// stopped monitor is a no-op.
func (s *SessionMonitor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	s.unsubLoaded()
	s.unsubUnloaded()
	s.unsubLoaded, s.unsubUnloaded = nil, nil
	s.stopPollingLocked()
}

func (s *SessionMonitor) onUserLoaded(user *User) {
	if user.SessionState == "" {
		s.manager.logger.Debug("user carries no session_state, session monitoring idle")
		return
	}
	s.watch(user.Profile.Subject(), user.Profile.SessionID(), user.SessionState)
}

func (s *SessionMonitor) onUserUnloaded(struct{}) {
	s.mu.Lock()
	s.stopPollingLocked()
	s.subject, s.sessionID, s.sessionState = "", "", ""
	s.mu.Unlock()

	if s.manager.settings.MonitorAnonymousSession {
		s.queryAndWatch()
	}
}

// queryAndWatch establishes a watch on whatever session the provider
// currently reports, used when no persisted user supplies one.
func (s *SessionMonitor) queryAndWatch() {
	status, err := s.manager.QuerySessionStatus(context.Background())
	if err != nil {
		s.manager.logger.Debug("no provider session to monitor", "error", err)
		return
	}
	s.watch(status.Subject, status.SessionID, status.SessionState)
}

// watch records the session under observation and (re)starts polling.
func (s *SessionMonitor) watch(subject, sessionID, sessionState string) {
	iframeURL, err := s.manager.metadata.CheckSessionIframe(context.Background())
	if err != nil || iframeURL == "" {
		s.manager.logger.Debug("provider exposes no check_session_iframe, session monitoring idle")
		return
	}

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.stopPollingLocked()
	s.subject, s.sessionID, s.sessionState = subject, sessionID, sessionState
	s.polling = true
	s.mu.Unlock()

	err = s.channel.Start(context.Background(), CheckSessionArgs{
		URL:          iframeURL,
		ClientID:     s.manager.settings.ClientID,
		SessionState: sessionState,
		Interval:     s.manager.settings.CheckSessionInterval,
		OnSignal:     s.onSignal,
	})
	if err != nil {
		s.manager.logger.Error("unable to start check-session polling", "error", err)
		s.mu.Lock()
		s.polling = false
		s.mu.Unlock()
	}
}

func (s *SessionMonitor) onSignal(signal CheckSessionSignal) {
	switch signal {
	case CheckSessionUnchanged:
		s.manager.logger.Debug("provider session unchanged")
	case CheckSessionChanged:
		s.onChanged()
	case CheckSessionError:
		s.manager.logger.Warn("check-session channel reported an error")
		if !s.manager.settings.ContinueCheckSessionOnError {
			s.mu.Lock()
			s.stopPollingLocked()
			s.mu.Unlock()
		}
	default:
		s.manager.logger.Warn("unknown check-session signal", "signal", signal)
	}
}

// onChanged resolves a raw "changed" signal: polling stops, the provider is
// re-queried, and the outcome is classified against the watched session.
func (s *SessionMonitor) onChanged() {
	s.mu.Lock()
	s.stopPollingLocked()
	prevSubject, prevSessionID, prevSessionState := s.subject, s.sessionID, s.sessionState
	s.mu.Unlock()

	status, err := s.manager.QuerySessionStatus(context.Background())
	if err != nil {
		s.manager.logger.Debug("session query after change failed", "error", err)
		if prevSubject != "" {
			s.manager.events.UserSignedOut.Raise(struct{}{})
		}
		return
	}

	switch {
	case status.Subject == prevSubject:
		// Same user: keep watching under the new session_state.  The
		// signal was a false alarm unless the session itself moved.
		s.watch(status.Subject, status.SessionID, status.SessionState)
		if status.SessionID != prevSessionID || status.SessionState != prevSessionState {
			s.manager.events.UserSessionChanged.Raise(struct{}{})
		}
	case prevSubject != "":
		s.manager.logger.Debug("provider session belongs to a different subject")
		s.manager.events.UserSignedOut.Raise(struct{}{})
	default:
		s.manager.logger.Debug("provider session established for anonymous watch")
		s.watch(status.Subject, status.SessionID, status.SessionState)
		s.manager.events.UserSignedIn.Raise(struct{}{})
	}
}

func (s *SessionMonitor) stopPollingLocked() {
	if s.polling {
		s.channel.Stop()
		s.polling = false
	}
}
