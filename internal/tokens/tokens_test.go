package tokens

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestIssueAndRedeem(t *testing.T) {
	s := newTestStore(t)
	token, err := s.Issue("kill:1234")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	action, err := s.Redeem(token)
	require.NoError(t, err)
	assert.Equal(t, "kill:1234", action)
}

func TestRedeem_SingleUse(t *testing.T) {
	s := newTestStore(t)
	token, err := s.Issue("cleanup_cache:/tmp/x")
	require.NoError(t, err)

	_, err = s.Redeem(token)
	require.NoError(t, err)

	_, err = s.Redeem(token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedeem_UnknownToken(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Redeem("does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIssue_CapEnforced(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < maxTokens; i++ {
		_, err := s.Issue("action")
		require.NoError(t, err)
	}
	_, err := s.Issue("one_too_many")
	assert.ErrorIs(t, err, ErrSaturated)
}

func TestTTLExpiry(t *testing.T) {
	s := newTestStore(t)
	s.ttl = 50 * time.Millisecond
	token, err := s.Issue("kill:1")
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	_, err = s.Redeem(token)
	assert.ErrorIs(t, err, ErrNotFound)
}
