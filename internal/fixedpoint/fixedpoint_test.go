package fixedpoint_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mlj-hub/pintosim/internal/fixedpoint"
)

func TestFromIntRoundTrip(t *testing.T) {
	v := fixedpoint.FromInt(59)
	assert.Equal(t, 59, fixedpoint.ToIntTrunc(v))
	assert.Equal(t, 59, fixedpoint.ToIntRound(v))
}

func TestRoundingTowardNearest(t *testing.T) {
	half := fixedpoint.Div(fixedpoint.FromInt(1), fixedpoint.FromInt(2))
	assert.Equal(t, 1, fixedpoint.ToIntRound(half))
	assert.Equal(t, 0, fixedpoint.ToIntTrunc(half))

	negHalf := fixedpoint.Sub(fixedpoint.FromInt(0), half)
	assert.Equal(t, -1, fixedpoint.ToIntRound(negHalf))
}

func TestLoadAvgDecay(t *testing.T) {
	// load_avg = (59/60)*load_avg + (1/60)*ready_threads, starting at 0
	// with one ready thread, is 1/60 after one step: positive, but it
	// rounds to 0.
	load := fixedpoint.FromInt(0)
	fiftyNine := fixedpoint.Div(fixedpoint.FromInt(59), fixedpoint.FromInt(60))
	oneSixtieth := fixedpoint.Div(fixedpoint.FromInt(1), fixedpoint.FromInt(60))

	load = fixedpoint.Add(fixedpoint.Mul(fiftyNine, load), fixedpoint.MulInt(oneSixtieth, 1))

	assert.Equal(t, 0, fixedpoint.ToIntRound(load))
	assert.Greater(t, int64(load), int64(0))
}

func TestRecentCpuFormula(t *testing.T) {
	// recent_cpu = (2*load_avg)/(2*load_avg+1) * recent_cpu + nice
	loadAvg := fixedpoint.FromInt(1)
	recentCPU := fixedpoint.FromInt(10)
	nice := 2

	twoLoad := fixedpoint.MulInt(loadAvg, 2)
	coeff := fixedpoint.Div(twoLoad, fixedpoint.AddInt(twoLoad, 1))
	result := fixedpoint.AddInt(fixedpoint.Mul(coeff, recentCPU), nice)

	// (2/3)*10 + 2 = 8.67, which rounds to 9.
	assert.InDelta(t, 9, fixedpoint.ToIntRound(result), 1)
}
