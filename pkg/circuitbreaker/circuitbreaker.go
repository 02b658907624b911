// Package circuitbreaker wraps sony/gobreaker with the defaults used for
// outbound calls to external services.
package circuitbreaker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrOpen is returned instead of running the call while the breaker is open
// or while the half-open probe budget is spent.
var ErrOpen = errors.New("circuit breaker open")

type Settings struct {
	Name string
	// ConsecutiveFailures trips the breaker. Default 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing. Default 30s.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of probe calls allowed while half-open. Default 1.
	HalfOpenRequests uint32
	// IsSuccessful decides which errors count as failures. Default: only nil is success.
	IsSuccessful func(err error) bool
	// OnStateChange is called with the state names, e.g. "closed" -> "open".
	OnStateChange func(name, from, to string)
}

type Breaker[T any] struct {
	cb *gobreaker.CircuitBreaker[T]
}

func New[T any](s Settings) *Breaker[T] {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.OpenTimeout == 0 {
		s.OpenTimeout = 30 * time.Second
	}
	if s.HalfOpenRequests == 0 {
		s.HalfOpenRequests = 1
	}
	threshold := s.ConsecutiveFailures

	settings := gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.HalfOpenRequests,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: s.IsSuccessful,
	}
	if s.OnStateChange != nil {
		notify := s.OnStateChange
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			notify(name, from.String(), to.String())
		}
	}

	return &Breaker[T]{cb: gobreaker.NewCircuitBreaker[T](settings)}
}

// Execute runs fn unless the breaker rejects it, in which case ErrOpen is returned.
func (b *Breaker[T]) Execute(fn func() (T, error)) (T, error) {
	res, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, ErrOpen
	}
	return res, err
}

func (b *Breaker[T]) State() string {
	return b.cb.State().String()
}
