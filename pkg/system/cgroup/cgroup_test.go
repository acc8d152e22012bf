//go:build linux

package cgroup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Detect(t *testing.T) {
	ver, str, err := Detect()
	require.NoError(t, err)

	assert.NotEmpty(t, str)
	assert.NotEqual(t, ver, Unsupported)

	t.Logf("detected %s: %s", ver, str)
}

func Test_MustDetect(t *testing.T) {
	ver := MustDetect()
	assert.NotEqual(t, ver, Unsupported)

	t.Logf("detected %s", ver)
}

func Test_CheckV1Compatible(t *testing.T) {
	ver, detail, err := CheckV1Compatible()
	// Outcome depends on the test host's cgroup layout; only assert the
	// function is consistent with Detect's own classification.
	switch ver {
	case V1, Hybrid:
		assert.NoError(t, err)
	case V2, Unsupported:
		assert.Error(t, err)
	}
	assert.NotEmpty(t, detail)
}
