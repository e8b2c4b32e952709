package health

import (
	"context"
	"fmt"

	"github.com/MrWong99/glasslisten/internal/resilience"
)

// BreakerCheck fails while the breaker returned by current reports
// [resilience.StateOpen]. A nil breaker (nothing running) and a half-open
// breaker count as ready.
func BreakerCheck(name string, current func() *resilience.CircuitBreaker) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			breaker := current()
			if breaker == nil {
				return nil
			}
			if s := breaker.State(); s == resilience.StateOpen {
				return fmt.Errorf("circuit %s", s)
			}
			return nil
		},
	}
}

// ErrCheck adapts a function reporting a sticky failure, such as a session
// that died from a panic, into a [Checker].
func ErrCheck(name string, errFn func() error) Checker {
	return Checker{
		Name:  name,
		Check: func(context.Context) error { return errFn() },
	}
}
