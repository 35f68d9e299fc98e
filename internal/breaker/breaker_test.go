package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRemote = errors.New("remote down")

func TestBreakerTripsAndRecovers(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New(Config{FailureThreshold: 2, SuccessThreshold: 1, OpenTimeout: time.Minute})
	b.now = func() time.Time { return clock }

	fail := func() error { return errRemote }
	ok := func() error { return nil }

	require.ErrorIs(t, b.Execute(fail, nil), errRemote)
	require.ErrorIs(t, b.Execute(fail, nil), errRemote)
	assert.Equal(t, Open, b.State())

	calls := 0
	err := b.Execute(func() error { calls++; return nil }, nil)
	require.ErrorIs(t, err, ErrOpen)
	assert.Zero(t, calls)

	clock = clock.Add(time.Minute)
	assert.Equal(t, HalfOpen, b.State())

	require.NoError(t, b.Execute(ok, nil))
	assert.Equal(t, Closed, b.State())
}

func TestBreakerIgnoresUncountedErrors(t *testing.T) {
	b := New(Config{FailureThreshold: 1})
	errBusiness := errors.New("not found")

	err := b.Execute(func() error { return errBusiness }, func(err error) bool { return !errors.Is(err, errBusiness) })
	require.ErrorIs(t, err, errBusiness)
	assert.Equal(t, Closed, b.State())
}

func TestUncountedErrorDoesNotCloseHalfOpen(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Second})
	b.now = func() time.Time { return clock }

	_ = b.Execute(func() error { return errRemote }, nil)
	clock = clock.Add(time.Second)
	require.Equal(t, HalfOpen, b.State())

	errBusiness := errors.New("canceled by caller")
	_ = b.Execute(func() error { return errBusiness }, func(err error) bool { return !errors.Is(err, errBusiness) })
	assert.Equal(t, HalfOpen, b.State())
}

func TestHalfOpenTrialFailureReopens(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New(Config{FailureThreshold: 1, OpenTimeout: time.Second})
	b.now = func() time.Time { return clock }

	_ = b.Execute(func() error { return errRemote }, nil)
	clock = clock.Add(time.Second)
	require.Equal(t, HalfOpen, b.State())

	_ = b.Execute(func() error { return errRemote }, nil)
	assert.Equal(t, Open, b.State())
}
