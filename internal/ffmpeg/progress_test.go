package ffmpeg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressParserProgressBlock(t *testing.T) {
	p := NewProgressParser()

	lines := []string{
		"frame=120",
		"fps=24.00",
		"bitrate=1200.0kbits/s",
		"total_size=1048576",
		"out_time_us=5000000",
		"out_time_ms=5000000",
		"out_time=00:00:05.000000",
		"speed=1.25x",
		"progress=continue",
	}

	var update ProgressUpdate
	for _, line := range lines {
		update = p.ParseLine(line)
	}

	assert.Equal(t, KindProgress, update.Kind)
	assert.Equal(t, 5*time.Second, update.OutTime)
	assert.InDelta(t, 1.25, update.Speed, 0.001)
}

func TestProgressParserEnd(t *testing.T) {
	p := NewProgressParser()

	p.ParseLine("out_time_us=60000000")
	update := p.ParseLine("progress=end")

	assert.Equal(t, KindEnd, update.Kind)
	assert.Equal(t, time.Minute, update.OutTime)
}

func TestProgressParserOutTimeMsIsMicroseconds(t *testing.T) {
	p := NewProgressParser()

	// out_time_ms carries microseconds despite its name.
	p.ParseLine("out_time_ms=2500000")
	update := p.ParseLine("progress=continue")

	assert.Equal(t, 2500*time.Millisecond, update.OutTime)
}

func TestProgressParserPrefersOutTimeUS(t *testing.T) {
	p := NewProgressParser()

	p.ParseLine("out_time_us=3000000")
	p.ParseLine("out_time=99:00:00.000000")
	update := p.ParseLine("progress=continue")

	assert.Equal(t, 3*time.Second, update.OutTime)
}

func TestProgressParserDiagnosticLines(t *testing.T) {
	p := NewProgressParser()

	update := p.ParseLine("[libx264 @ 0x7f8] using cpu capabilities: MMX2 SSE2")
	assert.Equal(t, KindLog, update.Kind)
	assert.Contains(t, update.Line, "libx264")

	// Diagnostic lines containing '=' are still logs, not progress keys.
	update = p.ParseLine("Stream mapping: profile=high")
	assert.Equal(t, KindLog, update.Kind)

	// Interleaved diagnostics must not disturb the running record.
	p.ParseLine("out_time_us=1000000")
	p.ParseLine("[warning] something transient")
	update = p.ParseLine("progress=continue")
	assert.Equal(t, KindProgress, update.Kind)
	assert.Equal(t, time.Second, update.OutTime)
}

func TestProgressParserNAValues(t *testing.T) {
	p := NewProgressParser()

	p.ParseLine("out_time=N/A")
	p.ParseLine("speed=N/A")
	update := p.ParseLine("progress=continue")

	assert.Equal(t, KindProgress, update.Kind)
	assert.Equal(t, time.Duration(0), update.OutTime)
	assert.Equal(t, 0.0, update.Speed)
}

func TestParseOutTime(t *testing.T) {
	d, err := parseOutTime("01:02:03.500000")
	require.NoError(t, err)
	assert.Equal(t, time.Hour+2*time.Minute+3*time.Second+500*time.Millisecond, d)

	_, err = parseOutTime("not-a-time")
	assert.Error(t, err)
}

func TestScanLinesCR(t *testing.T) {
	data := []byte("line1\rline2\nline3\r\nline4")

	var lines []string
	for len(data) > 0 {
		advance, token, err := ScanLinesCR(data, true)
		require.NoError(t, err)
		if advance == 0 {
			break
		}
		lines = append(lines, string(token))
		data = data[advance:]
	}

	assert.Equal(t, []string{"line1", "line2", "line3", "line4"}, lines)
}
