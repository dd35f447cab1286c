package oidcrp

import (
	"context"
	"fmt"
	"time"
)

// NavigateParams describe one navigation to the provider: the request URL,
// the state id the destination is expected to round-trip, the response mode
// the callback will use, and an optional budget.
type NavigateParams struct {
	URL          string
	StateID      string
	ResponseMode string

	// Timeout bounds the navigation; implementations must surface an
	// exceeded budget as a TimeoutError so the silent-renewal retry policy
	// can recognize it.
	Timeout time.Duration
}

// NavigateResult is the callback URL the destination window reported.
type NavigateResult struct {
	URL string
}

// NavigatorHandle is one prepared navigation.  Navigate resolves once the
// destination reports a callback URL, or fails on abort or timeout.  Close
// releases window resources and triggers any pending abort; it is idempotent
// and must reject an in-flight Navigate exactly once.
type NavigatorHandle interface {
	Navigate(ctx context.Context, params NavigateParams) (*NavigateResult, error)
	Close()
}

// Navigator opens redirect, popup or hidden-frame windows and waits for them
// to report a destination URL.  Implementations live with the caller; this
// package depends only on the interface, so a headless or test strategy
// plugs in without touching protocol logic.
type Navigator interface {
	Prepare(ctx context.Context) (NavigatorHandle, error)
}

// NavigationMessageSource is the fixed marker identifying cross-window
// navigation messages exchanged between a popup or frame and its opener.
const NavigationMessageSource = "oidcrp-navigator"

// NavigationMessage is the cross-window message envelope used by popup and
// frame navigators to report a callback URL to their opener.
type NavigationMessage struct {
	Source   string `json:"source"`
	URL      string `json:"url"`
	KeepOpen bool   `json:"keepOpen"`
}

// ValidateNavigationMessage checks a received envelope before accepting it:
// the source marker must match and the decoded state parameter in the URL
// must equal the expected value.  Origin verification is the receiver's
// responsibility, since only it knows the transport.
func ValidateNavigationMessage(msg NavigationMessage, expectedStateID, responseMode string) error {
	const op = "ValidateNavigationMessage"
	if msg.Source != NavigationMessageSource {
		return fmt.Errorf("%s: unexpected message source %q: %w", op, msg.Source, ErrInvalidParameter)
	}
	values, err := callbackValues(msg.URL, responseMode)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if values.Get("state") != expectedStateID {
		return fmt.Errorf("%s: %w", op, ErrStateMismatch)
	}
	return nil
}
