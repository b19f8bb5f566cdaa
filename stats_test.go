package fiberloop

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPSquareQuantileApproximatesSortedReference(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const n = 5000
	values := make([]float64, n)
	est := newPSquareQuantile(0.5)
	for i := range values {
		v := rng.Float64() * 1000
		values[i] = v
		est.Update(v)
	}

	sorted := append([]float64(nil), values...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	want := sorted[n/2]
	got := est.Quantile()
	assert.InDelta(t, want, got, want*0.1+5)
}

func TestPSquareMultiQuantileTracksCountSumMeanMax(t *testing.T) {
	m := newPSquareMultiQuantile(0.5, 0.9, 0.99)
	require.Equal(t, 0, m.Count())
	require.Equal(t, 0.0, m.Mean())

	for i := 1; i <= 10; i++ {
		m.Update(float64(i))
	}
	assert.Equal(t, 10, m.Count())
	assert.Equal(t, 55.0, m.Sum())
	assert.Equal(t, 5.5, m.Mean())
	assert.Equal(t, 10.0, m.Max())
}

func TestPSquareQuantileHandlesFewerThanFiveSamples(t *testing.T) {
	est := newPSquareQuantile(0.5)
	assert.Equal(t, 0.0, est.Quantile())
	est.Update(3)
	est.Update(1)
	est.Update(2)
	assert.Equal(t, 2.0, est.Quantile())
	assert.Equal(t, 3.0, est.Max())
}

func TestSchedulerStatsSnapshotReflectsQueues(t *testing.T) {
	s := newTestScheduler(t)
	var snap Stats

	_, err := s.Create(func(any) any {
		require.NoError(t, s.USleep(20000))
		return nil
	}, nil, false, 0)
	require.NoError(t, err)

	_, err = s.Create(func(any) any {
		snap = s.Stats()
		return nil
	}, nil, false, 0)
	require.NoError(t, err)

	s.Run()
	assert.GreaterOrEqual(t, snap.ActiveFibers, 1)
	assert.Equal(t, 1, snap.Sleeping)
}
