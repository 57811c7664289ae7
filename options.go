package metacache

import (
	"errors"
	"fmt"
	"time"
)

// DefaultSweepInterval is the pause between periodic expiry sweeps when
// WithSweepInterval is not given.
const DefaultSweepInterval = 5 * time.Minute

type config struct {
	sweepInterval time.Duration
}

// Option is a function that sets a value in a config.
type Option func(*config) error

// getOpts creates a config and applies Options to it.
func getOpts(opts []Option) (config, error) {
	cfg := config{
		sweepInterval: DefaultSweepInterval,
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	return cfg, nil
}

// WithSweepInterval sets the pause between periodic expiry sweeps. The
// interval is measured from the completion of one sweep to the start of the
// next, so a slow sweep pushes the following one out rather than stacking.
// Zero disables periodic sweeps; Sweep still works when called directly.
func WithSweepInterval(interval time.Duration) Option {
	return func(cfg *config) error {
		if interval < 0 {
			return errors.New("sweep interval cannot be negative")
		}
		cfg.sweepInterval = interval
		return nil
	}
}
