package budget

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounter_UnderLimit(t *testing.T) {
	c := NewCounter(5)

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Increment("fetch_issue"))
	}
	assert.Equal(t, 5, c.Count())
	assert.Equal(t, 5, c.Limit())
}

func TestCounter_TripsPastLimit(t *testing.T) {
	c := NewCounter(2)

	require.NoError(t, c.Increment("a"))
	require.NoError(t, c.Increment("b"))

	err := c.Increment("c")
	require.Error(t, err)

	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, 3, exceeded.Count)
	assert.Equal(t, 2, exceeded.Limit)
	assert.Equal(t, "c", exceeded.Label)
}

func TestCounter_NeverResets(t *testing.T) {
	// Once tripped, the counter keeps climbing and every further increment
	// fails. There is no way back inside the budget.
	c := NewCounter(1)
	require.NoError(t, c.Increment("first"))

	for i := 0; i < 10; i++ {
		err := c.Increment(fmt.Sprintf("call-%d", i))
		require.Error(t, err)

		var exceeded *ExceededError
		require.ErrorAs(t, err, &exceeded)
		assert.Equal(t, 2+i, exceeded.Count)
	}
	assert.Equal(t, 11, c.Count())
}

func TestNewCounter_NonPositiveLimitFallsBack(t *testing.T) {
	assert.Equal(t, DefaultLimit, NewCounter(0).Limit())
	assert.Equal(t, DefaultLimit, NewCounter(-7).Limit())
}

func TestExceededError_Message(t *testing.T) {
	err := &ExceededError{Count: 101, Limit: 100, Label: "fetch_diff"}

	assert.Contains(t, err.Error(), "101")
	assert.Contains(t, err.Error(), "100")
	assert.Contains(t, err.Error(), "fetch_diff")
	assert.True(t, errors.As(error(err), new(*ExceededError)))
}
