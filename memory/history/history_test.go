package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcveil/conduit/llm"
)

func TestCreateSessionIsGetOrCreate(t *testing.T) {
	r := NewRepo()
	first := r.CreateSession("s1", "user-1")
	second := r.CreateSession("s1", "user-2")
	assert.Equal(t, first, second)
	assert.Equal(t, "user-1", second.UserID)
}

func TestGetSessionUnknownIDReturnsFalse(t *testing.T) {
	r := NewRepo()
	_, ok := r.GetSession("nope")
	assert.False(t, ok)
}

func TestSaveMessageCreatesSessionImplicitly(t *testing.T) {
	r := NewRepo()
	r.SaveMessage("s1", llm.Message{Role: llm.RoleUser, Content: "hello"})

	_, ok := r.GetSession("s1")
	require.True(t, ok)

	msgs := r.GetMessages("s1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestGetMessagesOrderedByAppend(t *testing.T) {
	r := NewRepo()
	r.SaveMessage("s1", llm.Message{Role: llm.RoleUser, Content: "one"})
	r.SaveMessage("s1", llm.Message{Role: llm.RoleAssistant, Content: "two"})
	r.SaveMessage("s1", llm.Message{Role: llm.RoleUser, Content: "three"})

	msgs := r.GetMessages("s1")
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "two", msgs[1].Content)
	assert.Equal(t, "three", msgs[2].Content)
}

func TestGetMessagesUnknownSessionReturnsNil(t *testing.T) {
	r := NewRepo()
	assert.Nil(t, r.GetMessages("nope"))
}

func TestSetTitleUpdatesSession(t *testing.T) {
	r := NewRepo()
	r.CreateSession("s1", "user-1")
	require.NoError(t, r.SetTitle("s1", "Trip planning"))

	s, ok := r.GetSession("s1")
	require.True(t, ok)
	assert.Equal(t, "Trip planning", s.Title)
}

func TestSetTitleUnknownSessionFails(t *testing.T) {
	r := NewRepo()
	assert.Error(t, r.SetTitle("nope", "x"))
}

func TestSetPinnedTogglesFlag(t *testing.T) {
	r := NewRepo()
	r.CreateSession("s1", "user-1")

	require.NoError(t, r.SetPinned("s1", true))
	s, _ := r.GetSession("s1")
	assert.True(t, s.Pinned)

	require.NoError(t, r.SetPinned("s1", false))
	s, _ = r.GetSession("s1")
	assert.False(t, s.Pinned)
}

func TestSetPinnedUnknownSessionFails(t *testing.T) {
	r := NewRepo()
	assert.Error(t, r.SetPinned("nope", true))
}

func TestDeleteSessionRemovesMessages(t *testing.T) {
	r := NewRepo()
	r.SaveMessage("s1", llm.Message{Role: llm.RoleUser, Content: "hi"})
	require.NoError(t, r.DeleteSession("s1"))

	_, ok := r.GetSession("s1")
	assert.False(t, ok)
	assert.Nil(t, r.GetMessages("s1"))
}

func TestDeleteSessionUnknownFails(t *testing.T) {
	r := NewRepo()
	assert.Error(t, r.DeleteSession("nope"))
}

func TestListSessionsMostRecentlyUpdatedFirst(t *testing.T) {
	r := NewRepo()
	r.CreateSession("old", "u")
	r.CreateSession("new", "u")
	require.NoError(t, r.SetTitle("new", "bump"))

	sessions := r.ListSessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "new", sessions[0].ID)
}
