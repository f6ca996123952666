package sampler

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottleErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("rate limit exceeded")
	err := fmt.Errorf("sample call: %w", &ThrottleError{RetryAfter: 2 * time.Second, Cause: cause})

	var tErr *ThrottleError
	require.True(t, errors.As(err, &tErr))
	assert.Equal(t, 2*time.Second, tErr.RetryAfter)
	assert.ErrorIs(t, err, cause)
}
