package forge

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/remedyd/internal/retry"
)

func TestMarker(t *testing.T) {
	t.Run("deterministic per body", func(t *testing.T) {
		assert.Equal(t, marker("same feedback"), marker("same feedback"))
	})

	t.Run("distinct bodies get distinct markers", func(t *testing.T) {
		assert.NotEqual(t, marker("iteration 1 feedback"), marker("iteration 2 feedback"))
	})

	t.Run("renders as a hidden html comment", func(t *testing.T) {
		m := marker("body")
		assert.True(t, strings.HasPrefix(m, "<!-- remedyd:"))
		assert.True(t, strings.HasSuffix(m, " -->"))
	})
}

func TestNewGitHub_RequiresToken(t *testing.T) {
	_, err := NewGitHub(context.Background(), "")
	require.Error(t, err)
}

func ghResponse(status int) *github.Response {
	return &github.Response{Response: &http.Response{StatusCode: status}}
}

func TestAPIError(t *testing.T) {
	t.Run("nil error passes through", func(t *testing.T) {
		assert.NoError(t, apiError("r", ghResponse(200), nil))
	})

	t.Run("carries status code and resource", func(t *testing.T) {
		err := apiError("acme/widgets#1", ghResponse(502), errors.New("bad gateway"))

		var se *retry.StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, 502, se.StatusCode)
		assert.Equal(t, "acme/widgets#1", se.Resource)
		assert.True(t, retry.Retryable(err))
	})

	t.Run("404 is not retryable", func(t *testing.T) {
		err := apiError("r", ghResponse(404), errors.New("not found"))
		assert.False(t, retry.Retryable(err))
	})

	t.Run("primary rate limit carries reset hint", func(t *testing.T) {
		resp := ghResponse(http.StatusTooManyRequests)
		resp.Rate = github.Rate{Limit: 5000, Reset: github.Timestamp{Time: time.Now().Add(time.Minute)}}

		err := apiError("r", resp, errors.New("rate limited"))

		var se *retry.StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
		assert.Greater(t, se.RetryAfter, time.Duration(0))
	})

	t.Run("secondary rate limit 403 is reclassified as 429", func(t *testing.T) {
		resp := ghResponse(http.StatusForbidden)
		resp.Rate = github.Rate{Limit: 5000, Reset: github.Timestamp{Time: time.Now().Add(30 * time.Second)}}

		err := apiError("r", resp, errors.New("secondary limit"))

		var se *retry.StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
		assert.True(t, retry.Retryable(err))
	})

	t.Run("plain 403 stays non-retryable", func(t *testing.T) {
		err := apiError("r", ghResponse(http.StatusForbidden), errors.New("forbidden"))
		assert.False(t, retry.Retryable(err))
	})

	t.Run("abuse error retry-after wins", func(t *testing.T) {
		after := 7 * time.Second
		abuse := &github.AbuseRateLimitError{RetryAfter: &after}
		err := apiError("r", ghResponse(http.StatusForbidden), abuse)

		var se *retry.StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, after, se.RetryAfter)
		assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	})
}
