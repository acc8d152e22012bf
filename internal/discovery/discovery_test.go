package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstOrEmpty(t *testing.T) {
	assert.Equal(t, "", firstOrEmpty(nil))
	assert.Equal(t, "/app-1", firstOrEmpty([]string{"/app-1", "/app-1-alias"}))
}

func TestFake_List(t *testing.T) {
	f := &Fake{Containers: []Container{{ID: "c1", Name: "app", PIDs: []int{10, 11}}}}
	got, err := f.List(nil)
	assert.NoError(t, err)
	assert.Equal(t, []Container{{ID: "c1", Name: "app", PIDs: []int{10, 11}}}, got)
}

func TestFake_ListPropagatesError(t *testing.T) {
	wantErr := assert.AnError
	f := &Fake{Err: wantErr}
	_, err := f.List(nil)
	assert.ErrorIs(t, err, wantErr)
}
