package timestamp_test

import (
	"testing"
	"time"

	"github.com/Senhnn/shlnet/tools/timestamp"
	"github.com/stretchr/testify/require"
)

func TestNow(t *testing.T) {
	before := time.Now().UnixMicro()
	ts := timestamp.Now()
	after := time.Now().UnixMicro()
	require.True(t, ts.Valid())
	require.GreaterOrEqual(t, ts.UnixMicro(), before)
	require.LessOrEqual(t, ts.UnixMicro(), after)
}

func TestString(t *testing.T) {
	tm := time.Date(2023, 5, 8, 13, 4, 5, 0, time.Local)
	ts := timestamp.Timestamp(tm.UnixMicro())
	require.Equal(t, "2023/05/08 13:04:05", ts.String())
}

func TestZeroInvalid(t *testing.T) {
	require.False(t, timestamp.Timestamp(0).Valid())
}
