package resource

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ja7ad/nodeguard/pkg/container"
)

type fakeCgroup struct {
	periods map[string]int
	quotas  map[string]int
	shares  map[string]int
}

func newFakeCgroup() *fakeCgroup {
	return &fakeCgroup{periods: map[string]int{}, quotas: map[string]int{}, shares: map[string]int{}}
}

func (f *fakeCgroup) ReadPeriod(cid string) int { return f.periods[cid] }
func (f *fakeCgroup) WriteQuota(cid string, quota int) error {
	f.quotas[cid] = quota
	return nil
}
func (f *fakeCgroup) WriteShares(cid string, shares int) error {
	f.shares[cid] = shares
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCPUQuota_LevelTransitions(t *testing.T) {
	q := NewCPUQuota(400, 0.5, newFakeCgroup(), testLogger())
	assert.True(t, q.IsMinLevel())

	q.IncreaseLevel()
	assert.False(t, q.IsMinLevel())
	assert.False(t, q.IsFullLevel())

	q.SetLevel(LevelFull)
	assert.True(t, q.IsFullLevel())
}

func TestCPUQuota_IncreaseLevelWrapsToFull(t *testing.T) {
	q := NewCPUQuota(400, 0.5, newFakeCgroup(), testLogger())
	q.SetLevel(LevelMax - 1)
	q.IncreaseLevel()
	assert.True(t, q.IsFullLevel())
}

func TestCPUQuota_Budgeting_MinLevelUsesFloorQuota(t *testing.T) {
	cg := newFakeCgroup()
	cg.periods["c1"] = 100000
	q := NewCPUQuota(400, 0.5, cg, testLogger())

	con := container.NewRecord("c1", "be-1", container.BE, nil, nil, nil)
	require.NoError(t, q.Budgeting([]*container.Record{con}))

	assert.Equal(t, QuotaMin, cg.quotas["c1"])
}

func TestCPUQuota_Budgeting_SplitsAcrossContainers(t *testing.T) {
	cg := newFakeCgroup()
	cg.periods["c1"] = 100000
	cg.periods["c2"] = 100000
	q := NewCPUQuota(400, 0.5, cg, testLogger())
	q.SetLevel(10)

	c1 := container.NewRecord("c1", "be-1", container.BE, nil, nil, nil)
	c2 := container.NewRecord("c2", "be-2", container.BE, nil, nil, nil)
	require.NoError(t, q.Budgeting([]*container.Record{c1, c2}))

	assert.Equal(t, cg.quotas["c1"], cg.quotas["c2"])
}

func TestCPUQuota_DetectMarginExceed_ZeroLCUtilsAlwaysExceeds(t *testing.T) {
	q := NewCPUQuota(400, 0.5, newFakeCgroup(), testLogger())
	exceed, _ := q.DetectMarginExceed(0, 50)
	assert.True(t, exceed)
}

func TestCPUQuota_DetectMarginExceed_WellBelowMarginDoesNotExceed(t *testing.T) {
	q := NewCPUQuota(10000, 0.1, newFakeCgroup(), testLogger())
	exceed, hold := q.DetectMarginExceed(10, 10)
	assert.False(t, exceed)
	assert.False(t, hold)
}

func TestCPUQuota_SetShare(t *testing.T) {
	cg := newFakeCgroup()
	q := NewCPUQuota(400, 0.5, cg, testLogger())
	con := container.NewRecord("c1", "be-1", container.BE, nil, nil, nil)

	require.NoError(t, q.SetShare(con, ShareBE))
	assert.Equal(t, ShareBE, cg.shares["c1"])
}
