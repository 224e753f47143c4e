package pfresolved

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextBackoffMonotonicallyIncreasesThenCaps(t *testing.T) {
	s := &RefreshState{Family: AddressFamilyV4}
	prev := 0
	for i := 0; i < 40; i++ {
		next := s.nextBackoff()
		require.GreaterOrEqual(t, next, prev)
		require.LessOrEqual(t, next, retryTimeoutMax)
		prev = next
	}
	require.Equal(t, retryTimeoutMax, prev)
}

func TestNextBackoffFirstValue(t *testing.T) {
	s := &RefreshState{}
	require.Equal(t, retryTimeoutBase+1, s.nextBackoff())
	require.Equal(t, 1, s.Tries)
}

func TestNextRefreshClampsToMinAndMax(t *testing.T) {
	s := &RefreshState{Tries: 5}
	require.Equal(t, 10, s.nextRefresh(1, 10, 86400))
	require.Equal(t, 0, s.Tries)

	s = &RefreshState{}
	require.Equal(t, 86400, s.nextRefresh(1000000, 10, 86400))
}

func TestNextRefreshAddsOneSecond(t *testing.T) {
	s := &RefreshState{}
	require.Equal(t, 301, s.nextRefresh(300, 10, 86400))
}
