package retry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"apikit/pkg/config"
)

// Policy bounds how often and how slowly an operation is retried
type Policy struct {
	// MaxAttempts is the total number of invocations, including the first
	MaxAttempts int
	// InitialDelay is the backoff base
	InitialDelay time.Duration
	// MaxDelay caps the exponential backoff (server hints are not capped)
	MaxDelay time.Duration
	// JitterFactor is the fraction of the capped delay added as random jitter
	JitterFactor float64
}

// StandardPolicy returns the built-in defaults: 4 attempts, 1s initial, 30s cap, 0.2 jitter
func StandardPolicy() Policy {
	return Policy{
		MaxAttempts:  4,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.2,
	}
}

// Validate reports every violated constraint
func (p Policy) Validate() error {
	var errs []error

	if p.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts))
	}
	if p.InitialDelay <= 0 {
		errs = append(errs, fmt.Errorf("initial delay must be positive, got %s", p.InitialDelay))
	}
	if p.MaxDelay < p.InitialDelay {
		errs = append(errs, fmt.Errorf("max delay (%s) must not be less than initial delay (%s)", p.MaxDelay, p.InitialDelay))
	}
	if p.JitterFactor < 0 || p.JitterFactor > 1 {
		errs = append(errs, fmt.Errorf("jitter factor must be between 0 and 1, got %g", p.JitterFactor))
	}

	return errors.Join(errs...)
}

// PolicyFromConfig converts the retry section of the application config
func PolicyFromConfig(c config.RetryConfig) Policy {
	return Policy{
		MaxAttempts:  c.MaxAttempts,
		InitialDelay: c.InitialDelay,
		MaxDelay:     c.MaxDelay,
		JitterFactor: c.JitterFactor,
	}
}

var (
	defaultPolicyMu sync.RWMutex
	defaultPolicy   = StandardPolicy()
)

// DefaultPolicy returns the process-wide default policy
func DefaultPolicy() Policy {
	defaultPolicyMu.RLock()
	defer defaultPolicyMu.RUnlock()
	return defaultPolicy
}

// SetDefaultPolicy replaces the process-wide default policy after validating it
func SetDefaultPolicy(p Policy) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid retry policy: %w", err)
	}
	defaultPolicyMu.Lock()
	defer defaultPolicyMu.Unlock()
	defaultPolicy = p
	return nil
}
