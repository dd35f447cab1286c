package oidcrp

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		o(opts)
	}
}

// WithNow provides an optional func to determine what the current time it is.
// Valid for: NewState, NewSigninState, ClearStaleState, User expiry checks
// and NewSettings.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if now == nil {
			return
		}
		switch v := o.(type) {
		case *stateOptions:
			v.withNowFunc = now
		case *userOptions:
			v.withNowFunc = now
		case *settingsOptions:
			v.withNowFunc = now
		}
	}
}

// WithExpirySkew provides a tolerated clock difference for one expiry check,
// overriding the skew the user record carries.
// Valid for: User expiry checks
func WithExpirySkew(skew time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*userOptions); ok {
			v.withExpirySkew = &skew
		}
	}
}

// WithLogger provides an optional logger.
// Valid for: NewSettings, NewEvent, NewTimer
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *settingsOptions:
			v.withLogger = l
		case *eventOptions:
			v.withLogger = l
		case *timerOptions:
			v.withLogger = l
		}
	}
}
