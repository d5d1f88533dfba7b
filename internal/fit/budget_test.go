package fit

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAttemptBudget_WithinLimit tests normal operation within the budget.
func TestAttemptBudget_WithinLimit(t *testing.T) {
	b := NewAttemptBudget(5)

	for i := 0; i < 5; i++ {
		err := b.Check("stm32f407")
		assert.NoError(t, err, "attempt %d should be allowed", i+1)
	}

	assert.Equal(t, 5, b.Current())
	assert.Equal(t, 5, b.Used())
	assert.Equal(t, 5, b.MaxAttempts())
}

// TestAttemptBudget_ExceedsLimit tests the exceeded error.
func TestAttemptBudget_ExceedsLimit(t *testing.T) {
	b := NewAttemptBudget(2)

	require.NoError(t, b.Check("stm32f407"))
	require.NoError(t, b.Check("stm32f407"))

	err := b.Check("stm32f407")
	require.Error(t, err)

	var ae *AttemptsExceededError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "stm32f407", ae.Target)
	assert.Equal(t, 3, ae.Attempts)
	assert.Equal(t, 2, ae.Limit)
	assert.Equal(t, 2, b.Used(), "refused attempts are not used")
}

// TestAttemptsExceededError_Error tests message formatting.
func TestAttemptsExceededError_Error(t *testing.T) {
	err := &AttemptsExceededError{Target: "linux-x86_64", Attempts: 6, Limit: 5}
	assert.Equal(t, "fit for linux-x86_64 exceeded max attempts: 6 attempts > 5 limit", err.Error())
}

// TestIsAttemptsExceededError tests detection through wrapping.
func TestIsAttemptsExceededError(t *testing.T) {
	err := &AttemptsExceededError{Target: "t", Attempts: 2, Limit: 1}

	assert.True(t, IsAttemptsExceededError(err))
	assert.True(t, IsAttemptsExceededError(fmt.Errorf("fit: %w", err)))
	assert.False(t, IsAttemptsExceededError(fmt.Errorf("other")))
	assert.False(t, IsAttemptsExceededError(nil))
}
