//go:build linux || darwin

package fiberloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newNonblockingPipe(t *testing.T) (r, w int) {
	t.Helper()
	fds, err := unix.Pipe2(unix.O_NONBLOCK | unix.O_CLOEXEC)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestPollWakesOnReadiness(t *testing.T) {
	s := newTestScheduler(t)
	rfd, wfd := newNonblockingPipe(t)

	var got []pollFD
	var pollErr error
	_, err := s.Create(func(any) any {
		got, pollErr = s.Poll([]pollFD{{fd: rfd, events: ioRead}}, -1)
		return nil
	}, nil, false, 0)
	require.NoError(t, err)

	_, err = s.Create(func(any) any {
		require.NoError(t, s.USleep(5000))
		_, werr := writeFD(wfd, []byte("hi"))
		require.NoError(t, werr)
		return nil
	}, nil, false, 0)
	require.NoError(t, err)

	s.Run()
	require.NoError(t, pollErr)
	require.Len(t, got, 1)
	assert.Equal(t, rfd, got[0].fd)
	assert.True(t, got[0].events.has(ioRead))
}

func TestPollTimesOutWithoutReadiness(t *testing.T) {
	s := newTestScheduler(t)
	rfd, _ := newNonblockingPipe(t)

	var got []pollFD
	var pollErr error
	_, err := s.Create(func(any) any {
		got, pollErr = s.Poll([]pollFD{{fd: rfd, events: ioRead}}, 10*time.Millisecond)
		return nil
	}, nil, false, 0)
	require.NoError(t, err)

	s.Run()
	assert.NoError(t, pollErr)
	assert.Empty(t, got)
}

func TestReadWrapperRetriesUntilData(t *testing.T) {
	s := newTestScheduler(t)
	rfd, wfd := newNonblockingPipe(t)

	var n int
	var readErr error
	buf := make([]byte, 16)
	_, err := s.Create(func(any) any {
		n, readErr = s.Read(rfd, buf, -1)
		return nil
	}, nil, false, 0)
	require.NoError(t, err)

	_, err = s.Create(func(any) any {
		require.NoError(t, s.USleep(5000))
		_, werr := writeFD(wfd, []byte("payload"))
		require.NoError(t, werr)
		return nil
	}, nil, false, 0)
	require.NoError(t, err)

	s.Run()
	require.NoError(t, readErr)
	assert.Equal(t, "payload", string(buf[:n]))
}

func TestWriteWrapperDrainsFullBuffer(t *testing.T) {
	s := newTestScheduler(t)
	rfd, wfd := newNonblockingPipe(t)

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i)
	}

	var writeErr error
	_, err := s.Create(func(any) any {
		_, writeErr = s.Write(wfd, payload, -1)
		return nil
	}, nil, false, 0)
	require.NoError(t, err)

	drained := make([]byte, 0, len(payload))
	_, err = s.Create(func(any) any {
		buf := make([]byte, 512)
		for len(drained) < len(payload) {
			n, rerr := s.Read(rfd, buf, -1)
			require.NoError(t, rerr)
			drained = append(drained, buf[:n]...)
		}
		return nil
	}, nil, false, 0)
	require.NoError(t, err)

	s.Run()
	require.NoError(t, writeErr)
	assert.Equal(t, payload, drained)
}

func TestWouldBlockRecognizesEAGAIN(t *testing.T) {
	assert.True(t, wouldBlock(unix.EAGAIN))
	assert.True(t, wouldBlock(unix.EWOULDBLOCK))
	assert.False(t, wouldBlock(unix.EINVAL))
}
