package profiler

import (
	"bytes"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebuildStats(t *testing.T) {
	p := NewProfiler()
	assert.Equal(t, RebuildStats{}, p.Rebuilds())

	for _, ms := range []int{4, 1, 3, 2, 10} {
		p.RecordRebuild(time.Duration(ms) * time.Millisecond)
	}
	rb := p.Rebuilds()
	assert.Equal(t, 5, rb.Count)
	assert.Equal(t, time.Millisecond, rb.Min)
	assert.Equal(t, 10*time.Millisecond, rb.Max)
	assert.Equal(t, 4*time.Millisecond, rb.Mean)
	assert.Equal(t, 10*time.Millisecond, rb.P95)
}

func TestTickAndFrames(t *testing.T) {
	p := NewProfiler(WithUpdateInterval(time.Hour))
	assert.False(t, p.Tick())
	p.SkipFrame()
	assert.False(t, p.Tick())

	presented, skipped := p.Frames()
	assert.EqualValues(t, 2, presented)
	assert.EqualValues(t, 1, skipped)

	fast := NewProfiler(WithUpdateInterval(time.Nanosecond))
	time.Sleep(time.Millisecond)
	assert.True(t, fast.Tick())
}

func TestReport(t *testing.T) {
	p := NewProfiler()
	p.RecordRebuild(2 * time.Millisecond)
	p.Tick()

	var buf bytes.Buffer
	p.Report(&buf, device.Stats{Buffers: 7, AllocatedBytes: 2048, Dispatches: 3})
	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, "Rebuilds")
	assert.Contains(t, out, "2.0 kb")
	assert.Contains(t, out, "2ms")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "12 bytes", FormatBytes(12))
	assert.Equal(t, "1.5 kb", FormatBytes(1500))
	assert.Equal(t, "3.0 mb", FormatBytes(3e6))
}
