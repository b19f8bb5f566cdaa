package fiberloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNowSecondsReadsLiveWhenCacheDisabled(t *testing.T) {
	s := newTestScheduler(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cur := base
	s.SetTimeSource(func() time.Time { return cur })

	assert.InDelta(t, float64(base.Unix()), s.NowSeconds(), 0.001)
	cur = cur.Add(5 * time.Second)
	assert.InDelta(t, float64(base.Unix())+5, s.NowSeconds(), 0.001)
}

func TestNowSecondsReadsCoarseCacheWhenEnabled(t *testing.T) {
	s := newTestScheduler(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cur := base
	s.SetTimeSource(func() time.Time { return cur })
	s.SetTimeCache(true)

	s.checkClock()
	assert.InDelta(t, float64(base.Unix()), s.NowSeconds(), 0.001)

	// Advance the live clock without another checkClock pass: the cached
	// value must not move.
	cur = cur.Add(500 * time.Millisecond)
	assert.InDelta(t, float64(base.Unix()), s.NowSeconds(), 0.001)

	// Below the refresh interval, a second checkClock pass still must
	// not move the cache.
	s.checkClock()
	assert.InDelta(t, float64(base.Unix()), s.NowSeconds(), 0.001)

	// Past the refresh interval, checkClock updates the cache.
	cur = cur.Add(600 * time.Millisecond)
	s.checkClock()
	assert.InDelta(t, float64(base.Unix())+1.1, s.NowSeconds(), 0.01)
}

func TestLastClockUSTracksMostRecentCheck(t *testing.T) {
	s := newTestScheduler(t)
	assert.Zero(t, s.LastClockUS()) // nothing has called now() yet
	s.checkClock()
	assert.Equal(t, s.NowUS()/1000, s.LastClockUS()/1000)
}
