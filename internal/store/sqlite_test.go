// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers file creation, pragma setup, and constraint-violation mapping

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chat-core/internal/model"
)

func TestNewSQLiteStore_CreatesParentDirAndFile(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "gateway.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, &model.User{ID: "u-1", Handle: "carol", CreatedAt: time.Now()}))
	got, err := s.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "carol", got.Handle)
}

func TestSQLiteStore_MessageOrderingAndLimit(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.CreateConversation(ctx, &model.Conversation{
		ID: "c-1", Kind: model.ConversationGroup, Participants: []string{"u-1"},
		CreatedAt: time.Now(), LastActivityAt: time.Now(),
	}))

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveMessage(ctx, &model.Message{
			ID: "m-" + string(rune('a'+i)), ConversationID: "c-1", SenderID: "u-1",
			Payload: "msg", CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	msgs, err := s.ListMessages(ctx, "c-1", time.Now(), 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	// newest-first
	assert.True(t, msgs[0].CreatedAt.After(msgs[1].CreatedAt))
	assert.True(t, msgs[1].CreatedAt.After(msgs[2].CreatedAt))
}

func TestSQLiteStore_DuplicateUserHandleIsConstraintViolation(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, &model.User{ID: "u-1", Handle: "dupe", CreatedAt: time.Now()}))
	err = s.CreateUser(ctx, &model.User{ID: "u-2", Handle: "dupe", CreatedAt: time.Now()})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestSQLiteStore_DirectConversationUniqueness(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	conv := &model.Conversation{
		ID: "c-1", Kind: model.ConversationDirect, Participants: []string{"u-a", "u-b"},
		CreatedAt: time.Now(), LastActivityAt: time.Now(),
	}
	require.NoError(t, s.CreateConversation(ctx, conv))

	dup := &model.Conversation{
		ID: "c-2", Kind: model.ConversationDirect, Participants: []string{"u-b", "u-a"},
		CreatedAt: time.Now(), LastActivityAt: time.Now(),
	}
	err = s.CreateConversation(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicateConversation)
}

func TestSQLiteStore_DeleteMessageTombstones(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.CreateConversation(ctx, &model.Conversation{
		ID: "c-1", Kind: model.ConversationGroup, Participants: []string{"u-1"},
		CreatedAt: time.Now(), LastActivityAt: time.Now(),
	}))
	require.NoError(t, s.SaveMessage(ctx, &model.Message{ID: "m-1", ConversationID: "c-1", SenderID: "u-1", Payload: "hi", CreatedAt: time.Now()}))

	require.NoError(t, s.DeleteMessage(ctx, "m-1", time.Now()))
	got, err := s.GetMessage(ctx, "m-1")
	require.NoError(t, err)
	assert.NotNil(t, got.DeletedAt)

	err = s.DeleteMessage(ctx, "m-1", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}
