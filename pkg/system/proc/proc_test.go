//go:build linux

package proc

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExists(t *testing.T) {
	assert.True(t, Exists(os.Getpid()), "current process should exist")

	// PID 1 always exists on a running Linux system (init or container PID 1).
	assert.True(t, Exists(1))

	// An implausibly large PID should not exist.
	assert.False(t, Exists(1 << 30))
}
