package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ja7ad/nodeguard/pkg/container"
)

type fakeCAT struct {
	assigned map[int][]int
	masks    map[int]string
}

func newFakeCAT() *fakeCAT {
	return &fakeCAT{assigned: map[int][]int{}, masks: map[int]string{}}
}

func (f *fakeCAT) AssignPIDs(clos int, pids []int) error {
	f.assigned[clos] = pids
	return nil
}

func (f *fakeCAT) SetMask(clos int, mask string) error {
	f.masks[clos] = mask
	return nil
}

func TestLLCMask_BudgetingAtMinLevelUsesNarrowestMask(t *testing.T) {
	cat := newFakeCAT()
	l := NewLLCMask(LevelMin, cat, testLogger())

	con := container.NewRecord("c1", "be-1", container.BE, []int{100, 101}, nil, nil)
	require.NoError(t, l.Budgeting([]*container.Record{con}))

	assert.Equal(t, llcBitmasks[0], cat.masks[llcCLOS])
	assert.ElementsMatch(t, []int{100, 101}, cat.assigned[llcCLOS])
}

func TestLLCMask_BudgetingAtFullLevelUsesWidestMask(t *testing.T) {
	cat := newFakeCAT()
	l := NewLLCMask(LevelFull, cat, testLogger())

	con := container.NewRecord("c1", "be-1", container.BE, []int{100}, nil, nil)
	require.NoError(t, l.Budgeting([]*container.Record{con}))

	assert.Equal(t, llcBitmasks[len(llcBitmasks)-1], cat.masks[llcCLOS])
}

func TestLLCMask_IncreaseLevelWidensMask(t *testing.T) {
	cat := newFakeCAT()
	l := NewLLCMask(LevelMin, cat, testLogger())
	l.IncreaseLevel()

	con := container.NewRecord("c1", "be-1", container.BE, nil, nil, nil)
	require.NoError(t, l.Budgeting([]*container.Record{con}))
	assert.Equal(t, llcBitmasks[1], cat.masks[llcCLOS])
}

func TestLLCMask_LevelBeyondTableUsesWidestMask(t *testing.T) {
	cat := newFakeCAT()
	l := NewLLCMask(len(llcBitmasks)+5, cat, testLogger())

	con := container.NewRecord("c1", "be-1", container.BE, nil, nil, nil)
	require.NoError(t, l.Budgeting([]*container.Record{con}))
	assert.Equal(t, llcBitmasks[len(llcBitmasks)-1], cat.masks[llcCLOS])
}
