package sampler

import (
	"fmt"
	"time"
)

// ThrottleError сигнализирует, что inference-сервис просит сбавить темп.
// ReliabilityWrapper уважает присланный Retry-After вместо собственного бэкоффа.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("sampler throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }
