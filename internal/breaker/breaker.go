// Package breaker wraps calls to downstream systems in a circuit breaker.
package breaker

import (
	"errors"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/config"
	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/metrics"
)

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

// ClientError is implemented by errors that blame the request rather than
// the downstream system. Those are returned to the caller but do not count
// towards tripping the breaker.
type ClientError interface {
	ClientError() bool
}

func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	var ce ClientError
	return errors.As(err, &ce) && ce.ClientError()
}

// Breaker guards one downstream system. A nil *Breaker runs calls directly.
type Breaker struct {
	cb *gobreaker.CircuitBreaker[any]
}

// New returns a breaker named name, or nil when breakers are disabled.
func New(name string, cfg config.BreakerConfig, logger *zap.Logger) *Breaker {
	if !cfg.Enabled {
		return nil
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	settings := gobreaker.Settings{
		Name:         name,
		MaxRequests:  cfg.MaxRequests,
		Interval:     cfg.Interval,
		Timeout:      cfg.Timeout,
		IsSuccessful: countsAsSuccess,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	}
	metrics.BreakerState.WithLabelValues(name).Set(0)
	return &Breaker{cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// Do runs fn through the breaker.
func (b *Breaker) Do(fn func() error) error {
	if b == nil {
		return fn()
	}
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State reports the current state, or "disabled" for a nil breaker.
func (b *Breaker) State() string {
	if b == nil {
		return "disabled"
	}
	return b.cb.State().String()
}
