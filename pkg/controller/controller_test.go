package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ja7ad/nodeguard/pkg/container"
	"github.com/ja7ad/nodeguard/pkg/resource"
)

type fakeResource struct {
	level        int
	budgetCalls  int
	budgetErr    error
	lastBudgeted []*container.Record
}

func (f *fakeResource) IsMinLevel() bool  { return resource.IsMinLevel(f.level) }
func (f *fakeResource) IsFullLevel() bool { return resource.IsFullLevel(f.level) }
func (f *fakeResource) SetLevel(level int) { f.level = level }
func (f *fakeResource) IncreaseLevel()     { f.level = resource.NextLevel(f.level) }
func (f *fakeResource) Budgeting(containers []*container.Record) error {
	f.budgetCalls++
	f.lastBudgeted = containers
	return f.budgetErr
}

func TestUpdate_DetectedResetsToMinLevel(t *testing.T) {
	res := &fakeResource{level: 10}
	c := New(res, 3)

	require.NoError(t, c.Update(nil, true, false))
	assert.True(t, res.IsMinLevel())
	assert.Equal(t, 1, res.budgetCalls)
}

func TestUpdate_DetectedAlreadyAtMinIsNoop(t *testing.T) {
	res := &fakeResource{level: resource.LevelMin}
	c := New(res, 3)

	require.NoError(t, c.Update(nil, true, false))
	assert.Equal(t, 0, res.budgetCalls)
}

func TestUpdate_HoldDoesNotRelax(t *testing.T) {
	res := &fakeResource{level: 5}
	c := New(res, 1)

	require.NoError(t, c.Update(nil, false, true))
	assert.Equal(t, 5, res.level)
	assert.Equal(t, 0, res.budgetCalls)
}

func TestUpdate_FullLevelNeverRelaxesFurther(t *testing.T) {
	res := &fakeResource{level: resource.LevelFull}
	c := New(res, 1)

	require.NoError(t, c.Update(nil, false, false))
	assert.Equal(t, 0, res.budgetCalls)
}

func TestUpdate_QuietCyclesRelaxAtThreshold(t *testing.T) {
	res := &fakeResource{level: 0}
	c := New(res, 3)
	be := []*container.Record{container.NewRecord("c1", "be-1", container.BE, nil, nil, nil)}

	require.NoError(t, c.Update(be, false, false))
	require.NoError(t, c.Update(be, false, false))
	assert.Equal(t, 0, res.budgetCalls, "should not relax before threshold")

	require.NoError(t, c.Update(be, false, false))
	assert.Equal(t, 1, res.budgetCalls, "should relax exactly at threshold")
	assert.Equal(t, 1, res.level)
	assert.Equal(t, be, res.lastBudgeted)
}

func TestUpdate_CounterResetsAfterRelax(t *testing.T) {
	res := &fakeResource{level: 0}
	c := New(res, 2)

	require.NoError(t, c.Update(nil, false, false))
	require.NoError(t, c.Update(nil, false, false))
	assert.Equal(t, 1, res.budgetCalls)

	require.NoError(t, c.Update(nil, false, false))
	assert.Equal(t, 1, res.budgetCalls, "counter should have reset, not relax again immediately")
}

func TestUpdate_PropagatesBudgetingError(t *testing.T) {
	res := &fakeResource{level: 5, budgetErr: assert.AnError}
	c := New(res, 1)
	err := c.Update(nil, true, false)
	assert.ErrorIs(t, err, assert.AnError)
}
