package throttle

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestShouldNotifyScenarioMinutes(t *testing.T) {
	th := New()
	at := func(minute int) time.Time {
		return time.Date(2020, 4, 14, 12, minute, 30, 0, time.UTC)
	}
	require.True(t, th.ShouldNotify(at(0)))
	require.True(t, th.ShouldNotify(at(10)))
	require.False(t, th.ShouldNotify(at(11)))
	require.True(t, th.ShouldNotify(at(55)))
	require.False(t, th.ShouldNotify(at(59)))
}

func TestShouldNotifyReadsUTCMinute(t *testing.T) {
	// +05:30 shifts the minute by 30, which keeps divisibility by five; +05:45 does not.
	nepal := time.FixedZone("NPT", 5*3600+45*60)
	local := time.Date(2020, 4, 14, 18, 0, 0, 0, nepal)
	require.Equal(t, 15, local.UTC().Minute())
	require.True(t, New().ShouldNotify(local))

	local = time.Date(2020, 4, 14, 18, 2, 0, 0, nepal)
	require.False(t, New().ShouldNotify(local))
}

func TestZeroPeriodFallsBackToDefault(t *testing.T) {
	th := Throttle{}
	require.True(t, th.ShouldNotify(time.Date(2020, 1, 1, 0, 20, 0, 0, time.UTC)))
	require.False(t, th.ShouldNotify(time.Date(2020, 1, 1, 0, 21, 0, 0, time.UTC)))
}

func TestShouldNotifyProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 500
	properties := gopter.NewProperties(params)
	th := New()

	properties.Property("fires iff minute mod 5 == 0", prop.ForAll(
		func(sec int64) bool {
			now := time.Unix(sec, 0)
			return th.ShouldNotify(now) == (now.UTC().Minute()%5 == 0)
		},
		gen.Int64Range(0, 1<<40),
	))

	properties.TestingRun(t)
}
