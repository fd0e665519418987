package redis

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreamName(t *testing.T) {
	assert.Equal(t, "inbox:abc", StreamName("abc"))
}

func TestDedupGuardScopedPerGroup(t *testing.T) {
	a := dedupGuard("s1", "deadbeef")
	b := dedupGuard("s2", "deadbeef")

	assert.NotEqual(t, a, b)
	assert.Equal(t, "inboxdedup:s1:deadbeef", a)
}

func TestIsBusyGroup(t *testing.T) {
	assert.True(t, isBusyGroup(errors.New("BUSYGROUP Consumer Group name already exists")))
	assert.False(t, isBusyGroup(errors.New("ERR no such key")))
	assert.False(t, isBusyGroup(nil))
}
