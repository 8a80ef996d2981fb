package desk

import (
	"time"

	"github.com/mcuadros/go-defaults"
)

// Options tunes a Session. Zero durations disable the corresponding wait.
type Options struct {
	ConnectTimeout      time.Duration `default:"10s"`
	NotificationTimeout time.Duration `default:"5s"`
	WakeRepeats         int           `default:"3"`
	WakeInterval        time.Duration `default:"100ms"`
	// EventBuffer is the capacity of a Subscription; older events are
	// dropped when the reader falls behind.
	EventBuffer int `default:"64"`
}

// DefaultOptions returns the options used when NewSession gets nil.
func DefaultOptions() *Options {
	opts := &Options{}
	defaults.SetDefaults(opts)
	return opts
}
