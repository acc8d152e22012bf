package cat

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAssignPIDs_EmptyIsNoop(t *testing.T) {
	c := &Controller{Binary: "false", Log: discardLogger()}
	require.NoError(t, c.AssignPIDs(1, nil))
}

func TestAssignPIDs_InvokesBinary(t *testing.T) {
	c := &Controller{Binary: "true", Log: discardLogger()}
	require.NoError(t, c.AssignPIDs(1, []int{100, 101}))
}

func TestSetMask_InvokesBinary(t *testing.T) {
	c := &Controller{Binary: "true", Log: discardLogger()}
	require.NoError(t, c.SetMask(1, "0x3"))
}

func TestRun_PropagatesFailure(t *testing.T) {
	c := &Controller{Binary: "false", Log: discardLogger()}
	err := c.SetMask(1, "0x3")
	assert.Error(t, err)
}

func TestNewController_DefaultsBinary(t *testing.T) {
	c := NewController(discardLogger())
	assert.Equal(t, "pqos", c.binary())
}
