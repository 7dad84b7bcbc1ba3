package status

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferRoundTrip(t *testing.T) {
	raw := make([]byte, Size)
	s := New(raw)

	s.Reset(Searching)
	require.Equal(t, Searching, s.Phase())
	require.False(t, s.CancelRequested())

	s.SetPointersFound(1 << 40)
	require.Equal(t, int64(1<<40), s.PointersFound())

	s.SetChainsFound(12345)
	require.Equal(t, int64(12345), s.ChainsFound())

	hb := s.Heartbeat()
	s.Publish(50, 3)
	require.Equal(t, uint32(50), s.Progress())
	require.Equal(t, uint32(3), s.RegionsDone())
	require.Greater(t, s.Heartbeat(), hb)

	s.RequestCancel()
	require.True(t, s.CancelRequested())
}

func TestBufferTooShortPanics(t *testing.T) {
	require.Panics(t, func() { New(make([]byte, Size-1)) })
}

func TestBufferErrorCode(t *testing.T) {
	raw := make([]byte, Size)
	s := New(raw)
	s.SetPhase(Error)
	s.SetErrorCode(MemoryReadFailed)
	require.Equal(t, Error, s.Phase())
	require.Equal(t, MemoryReadFailed, s.ErrorCode())
}
