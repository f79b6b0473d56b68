package route

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/DrC0ns0le/clickctl/pkg/logging"
)

type recorder struct {
	mu     sync.Mutex
	writes []string
}

func (r *recorder) apply(f Flap, nextHop string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, f.Router+" "+f.Prefix+" "+nextHop)
	return nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.writes...)
}

var flaps = []Flap{
	{Prefix: "10.0.5.0/24", Router: "router1", NextHopA: "10.0.1.2", NextHopB: "10.0.2.2"},
	{Prefix: "10.0.6.0/24", Router: "router2", NextHopA: "10.0.3.2", NextHopB: "10.0.4.2"},
}

func TestFlapperAlternates(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &recorder{}
	f := NewFlapper(rec.apply, logging.Discard())
	require.NoError(t, f.Start(flaps, 10*time.Millisecond, 0))
	assert.True(t, f.Active())

	require.Eventually(t, func() bool { return len(rec.snapshot()) >= 6 }, time.Second, 5*time.Millisecond)
	assert.True(t, f.Stop())
	assert.False(t, f.Active())

	writes := rec.snapshot()
	assert.Equal(t, []string{
		"router1 10.0.5.0/24 10.0.1.2",
		"router2 10.0.6.0/24 10.0.3.2",
		"router1 10.0.5.0/24 10.0.2.2",
		"router2 10.0.6.0/24 10.0.4.2",
		"router1 10.0.5.0/24 10.0.1.2",
		"router2 10.0.6.0/24 10.0.3.2",
	}, writes[:6])

	// stopped tasks stay stopped
	n := len(writes)
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, rec.snapshot(), n)
	assert.False(t, f.Stop())
}

func TestFlapperRestart(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &recorder{}
	f := NewFlapper(rec.apply, logging.Discard())
	require.NoError(t, f.Start(flaps, time.Hour, 0))
	require.NoError(t, f.Start(flaps[:1], time.Hour, 0))

	s, ok := f.Schedule()
	require.True(t, ok)
	assert.Len(t, s.Flaps, 1)
	assert.Equal(t, time.Hour, s.Period)

	// the long sleep is interrupted
	assert.True(t, f.Stop())
	_, ok = f.Schedule()
	assert.False(t, ok)
}

func TestFlapperDuration(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &recorder{}
	f := NewFlapper(rec.apply, logging.Discard())
	require.NoError(t, f.Start(flaps, 5*time.Millisecond, 40*time.Millisecond))
	require.Eventually(t, func() bool { return !f.Active() }, time.Second, 5*time.Millisecond)
	assert.NotEmpty(t, rec.snapshot())
	assert.False(t, f.Stop())
}

func TestFlapperInvalid(t *testing.T) {
	f := NewFlapper((&recorder{}).apply, logging.Discard())
	assert.ErrorIs(t, f.Start(nil, time.Second, 0), ErrInvalidSchedule)
	assert.ErrorIs(t, f.Start(flaps, 0, 0), ErrInvalidSchedule)
	assert.False(t, f.Active())
}
