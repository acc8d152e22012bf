package collector

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseLines_WellFormed(t *testing.T) {
	out := "abc123\tcycles\t_\t1000\nabc123\tinstructions\t_\t500\n"
	samples := ParseLines(out)
	require.Len(t, samples, 2)
	assert.Equal(t, Sample{CID: "abc123", Metric: "cycles", Value: 1000}, samples[0])
	assert.Equal(t, Sample{CID: "abc123", Metric: "instructions", Value: 500}, samples[1])
}

func TestParseLines_SkipsShortLines(t *testing.T) {
	out := "too\tfew\tfields\nabc123\tcycles\t_\t1000\n"
	samples := ParseLines(out)
	require.Len(t, samples, 1)
	assert.Equal(t, "cycles", samples[0].Metric)
}

func TestParseLines_SkipsUnparsableValue(t *testing.T) {
	out := "abc123\tcycles\t_\tnot-a-number\n"
	assert.Empty(t, ParseLines(out))
}

func TestParseLines_Empty(t *testing.T) {
	assert.Empty(t, ParseLines(""))
}

func TestCollect_EmptyPathsIsNoop(t *testing.T) {
	r := &Runner{Binary: "false", Log: discardLogger()}
	samples, err := r.Collect(context.Background(), nil, 18, 18, 1, 4)
	require.NoError(t, err)
	assert.Nil(t, samples)
}

func TestCollect_PropagatesFailure(t *testing.T) {
	r := &Runner{Binary: "false", Log: discardLogger()}
	_, err := r.Collect(context.Background(), []string{"/sys/fs/cgroup/perf_event/docker/c1"}, 18, 18, 1, 4)
	assert.Error(t, err)
}

func TestNewRunner_DefaultsBinary(t *testing.T) {
	r := NewRunner(discardLogger())
	assert.Equal(t, "./pgos", r.binary())
}
