package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestBreaker_OpensAndRecovers(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)}

	var transitions []string
	cb := SourceAPIBreaker(2, time.Minute, func(_ string, from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}, WithClock(clock.Now))

	boom := errors.New("boom")
	fail := func(context.Context) error { return boom }
	ok := func(context.Context) error { return nil }
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, fail), boom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, fail), boom)
	assert.True(t, cb.IsOpen())

	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)

	clock.Advance(time.Minute)
	assert.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
	assert.Equal(t, "schedule-source", cb.Snapshot().Name)
	assert.Equal(t, 3, cb.Counts().Requests)
}

func TestBreaker_IsFailureFilter(t *testing.T) {
	ignored := errors.New("client error")
	cb := New("test",
		WithFailureThreshold(1),
		WithIsFailure(func(err error) bool { return !errors.Is(err, ignored) }),
	)

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(context.Background(), func(context.Context) error { return ignored }), ignored)
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 3, cb.Counts().TotalSuccesses)

	cb.Reset()
	assert.Equal(t, Counts{}, cb.Counts())
}

func TestBreaker_HalfOpenProbeLimit(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)}
	cb := NewWithSettings(Settings{
		Name:             "probe",
		FailureThreshold: 1,
		Cooldown:         time.Second,
		HalfOpenProbes:   1,
		Now:              clock.Now,
	})
	ctx := context.Background()
	boom := errors.New("boom")

	assert.ErrorIs(t, cb.Execute(ctx, func(context.Context) error { return boom }), boom)
	assert.True(t, cb.IsOpen())
	clock.Advance(time.Second)

	// the probe is in flight: a second caller is turned away
	err := cb.Execute(ctx, func(context.Context) error {
		assert.Equal(t, StateHalfOpen, cb.State())
		assert.ErrorIs(t, cb.Execute(ctx, func(context.Context) error { return nil }), ErrTooManyRequests)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, cb.IsOpen(), "failed probe re-opens")
}

func TestBreaker_StaleResultIgnored(t *testing.T) {
	cb := New("stale", WithFailureThreshold(1))
	ctx := context.Background()
	boom := errors.New("boom")

	err := cb.Execute(ctx, func(context.Context) error {
		cb.Reset()
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 1, cb.Counts().TotalFailures)
	assert.Equal(t, 0, cb.Counts().ConsecutiveFailures)
	assert.Equal(t, "closed", cb.Snapshot().State)
}
