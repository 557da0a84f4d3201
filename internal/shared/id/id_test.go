package id

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUnique(t *testing.T) {
	g := NewGenerator()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		s := g.GenerateString()
		require.False(t, seen[s], "duplicate ULID generated")
		seen[s] = true
	}
}

func TestTypedPrefixes(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewActorID().String(), "act_"))
	assert.True(t, strings.HasPrefix(NewRequestID().String(), "req_"))
	assert.True(t, strings.HasPrefix(NewRecordID().String(), "rec_"))
}

func TestSortability(t *testing.T) {
	g := NewGenerator()
	first := g.GenerateString()
	time.Sleep(2 * time.Millisecond)
	second := g.GenerateString()
	assert.Less(t, first, second, "later ULIDs sort after earlier ones")
}

func TestIsValid(t *testing.T) {
	g := NewGenerator()
	assert.True(t, IsValid(g.GenerateString()))
	assert.False(t, IsValid("not-a-ulid"))
	assert.False(t, IsValid(""))
}

func TestTimestamp(t *testing.T) {
	g := NewGenerator()
	before := time.Now().Add(-time.Second)
	s := g.GenerateString()
	ts, err := Timestamp(s)
	require.NoError(t, err)
	assert.True(t, ts.After(before))
	assert.True(t, ts.Before(time.Now().Add(time.Second)))
}
