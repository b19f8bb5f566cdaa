package fiberloop

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyCreateExhaustsLimit(t *testing.T) {
	s := newTestScheduler(t)
	for i := 0; i < keyLimit; i++ {
		_, err := s.KeyCreate(nil)
		require.NoError(t, err)
	}
	_, err := s.KeyCreate(nil)
	assert.True(t, errors.Is(err, ErrNoMemory))
}

func TestGetUnsetKeyReturnsNil(t *testing.T) {
	s := newTestScheduler(t)
	key, err := s.KeyCreate(nil)
	require.NoError(t, err)

	var got any = "sentinel"
	_, err = s.Create(func(any) any {
		got = s.Self().Get(key)
		return nil
	}, nil, false, 0)
	require.NoError(t, err)

	s.Run()
	assert.Nil(t, got)
}

func TestSetInvalidKeyIsInvalidArg(t *testing.T) {
	s := newTestScheduler(t)
	var setErr error
	_, err := s.Create(func(any) any {
		setErr = s.Self().Set(-1, "x")
		return nil
	}, nil, false, 0)
	require.NoError(t, err)

	s.Run()
	assert.True(t, errors.Is(setErr, ErrInvalidArg))
}

func TestMultipleKeysDestroyedIndependently(t *testing.T) {
	s := newTestScheduler(t)
	var a, b any
	keyA, err := s.KeyCreate(func(v any) { a = v })
	require.NoError(t, err)
	keyB, err := s.KeyCreate(func(v any) { b = v })
	require.NoError(t, err)

	_, err = s.Create(func(any) any {
		self := s.Self()
		require.NoError(t, self.Set(keyA, "A"))
		require.NoError(t, self.Set(keyB, "B"))
		return nil
	}, nil, false, 0)
	require.NoError(t, err)

	s.Run()
	assert.Equal(t, "A", a)
	assert.Equal(t, "B", b)
}
