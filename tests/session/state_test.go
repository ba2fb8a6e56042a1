package session_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/recall-go/pkg/core"
	"github.com/recallhq/recall-go/pkg/session"
)

func TestNewStateStartsIdle(t *testing.T) {
	state := session.NewState(core.Scope{OwnerID: "user_001"})
	assert.NotEmpty(t, state.ThreadID)
	assert.Equal(t, session.StatusIdle, state.Status)
	assert.Empty(t, state.Messages)
	assert.NotNil(t, state.WorkingMemory)
}

func TestMessagesAreAppendOnlyOrdered(t *testing.T) {
	state := session.NewState(core.Scope{OwnerID: "user_001"})
	state.AppendMessage(session.RoleUser, "hello")
	state.AppendMessage(session.RoleAssistant, "hi there")

	require.Len(t, state.Messages, 2)
	assert.Equal(t, session.RoleUser, state.Messages[0].Role)
	assert.Equal(t, session.RoleAssistant, state.Messages[1].Role)
	assert.Equal(t, "hi there", state.LastMessage().Content)
}

func TestWorkingMemoryEvictsLowestAccessCountFirst(t *testing.T) {
	state := session.NewState(core.Scope{OwnerID: "user_001"})

	for i := 0; i < session.MaxWorkingMemory; i++ {
		state.Remember(fmt.Sprintf("key%02d", i), "value", 1)
	}
	require.Len(t, state.WorkingMemory, session.MaxWorkingMemory)

	// Touch everything except key00, making it the unique coldest entry.
	for i := 1; i < session.MaxWorkingMemory; i++ {
		_, ok := state.Access(fmt.Sprintf("key%02d", i))
		require.True(t, ok)
	}

	state.Remember("overflow", "value", 1)

	assert.Len(t, state.WorkingMemory, session.MaxWorkingMemory)
	_, exists := state.WorkingMemory["key00"]
	assert.False(t, exists, "the least-accessed entry goes first")
	_, exists = state.WorkingMemory["overflow"]
	assert.True(t, exists)
}

func TestWorkingMemoryTieBreaksOnLastAccess(t *testing.T) {
	state := session.NewState(core.Scope{OwnerID: "user_001"})

	state.Remember("old", "value", 1)
	time.Sleep(2 * time.Millisecond)
	for i := 0; i < session.MaxWorkingMemory-1; i++ {
		state.Remember(fmt.Sprintf("key%02d", i), "value", 1)
		time.Sleep(time.Millisecond)
	}

	// All entries share accessCount 1; "old" has the earliest access
	// time and must be evicted on overflow.
	state.Remember("overflow", "value", 1)
	_, exists := state.WorkingMemory["old"]
	assert.False(t, exists)
}

func TestRememberExistingKeyUpdatesInPlace(t *testing.T) {
	state := session.NewState(core.Scope{OwnerID: "user_001"})
	state.Remember("key", "first", 1)
	state.Remember("key", "second", 2)

	require.Len(t, state.WorkingMemory, 1)
	entry := state.WorkingMemory["key"]
	assert.Equal(t, "second", entry.Value)
	assert.Equal(t, 2, entry.AccessCount)
}

func TestRecentDocsIsFIFOBounded(t *testing.T) {
	state := session.NewState(core.Scope{OwnerID: "user_001"})

	for i := 0; i < session.MaxRecentDocs+3; i++ {
		state.RecordDoc(fmt.Sprintf("doc%02d", i))
	}

	require.Len(t, state.RecentDocs, session.MaxRecentDocs)
	assert.Equal(t, "doc03", state.RecentDocs[0])
	assert.Equal(t, "doc12", state.RecentDocs[len(state.RecentDocs)-1])
}
