package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParentIDIsDeterministic(t *testing.T) {
	bytes := []byte("the same submission, twice")

	first := ParentID(bytes)
	second := ParentID(bytes)

	assert.Equal(t, first, second)
	assert.Len(t, first, 12)
}

func TestParentIDDiffersOnDifferentBytes(t *testing.T) {
	a := ParentID([]byte("submission a"))
	b := ParentID([]byte("submission b"))

	assert.NotEqual(t, a, b)
}

func TestPageChildIDFormat(t *testing.T) {
	assert.Equal(t, "abc123_p0", PageChildID("abc123", 0))
	assert.Equal(t, "abc123_p7", PageChildID("abc123", 7))
}

func TestEntryChildIDFormat(t *testing.T) {
	assert.Equal(t, "abc123_e0", EntryChildID("abc123", 0))
	assert.Equal(t, "abc123_e3", EntryChildID("abc123", 3))
}

func TestChildIDsNeverCollideAcrossKinds(t *testing.T) {
	assert.NotEqual(t, PageChildID("abc123", 1), EntryChildID("abc123", 1))
}
