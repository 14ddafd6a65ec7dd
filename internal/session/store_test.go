package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/gencode/internal/engine"
)

func TestFromConversation(t *testing.T) {
	conv := engine.NewConversation(context.Background(), engine.ConversationConfig{SystemPrompt: "sys"})
	defer conv.Close()

	conv.Transcript.Append(
		engine.Message{Role: engine.RoleUser, Text: "Add a   health\nendpoint", Images: []engine.ImageAttachment{
			{Path: "/tmp/mock.png", MediaType: "image/png", Base64: "aGVsbG8="},
		}},
		engine.Message{Role: engine.RoleAssistant, Text: "On it"},
		engine.Message{Role: engine.RoleUser, Text: "Provider p1 is rate limited", Notice: true},
		engine.Message{Role: engine.RoleUser, Text: strings.Repeat("long request ", 10)},
	)

	created := time.Now().Add(-time.Minute)
	s := FromConversation(conv, "/work/app", created)
	assert.Equal(t, conv.ID, s.ID)
	assert.Equal(t, "Add a health endpoint", s.Title)
	assert.Equal(t, 2, s.Requests)
	assert.Equal(t, created, s.CreatedAt)
	require.Len(t, s.History, 5)
	assert.Empty(t, s.History[1].Images[0].Base64)
	assert.Equal(t, "/tmp/mock.png", s.History[1].Images[0].Path)

	// The transcript itself keeps the image payload.
	assert.Equal(t, "aGVsbG8=", conv.Transcript.Messages()[1].Images[0].Base64)

	assert.Len(t, []rune(title(strings.Repeat("x", 100))), titleLimit)
}

func TestStore(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewStore(tmpDir)
	repoPath := "/path/to/my/project"

	older := &Session{
		ID:        "older",
		RepoPath:  repoPath,
		Title:     "First",
		Requests:  1,
		CreatedAt: time.Now().Add(-2 * time.Hour),
		UpdatedAt: time.Now().Add(-time.Hour),
		History: []engine.Message{
			{Role: engine.RoleUser, Text: "Hello"},
			{Role: engine.RoleAssistant, Text: "Hi there"},
		},
	}
	newer := &Session{ID: "newer", RepoPath: repoPath, Title: "Second", Requests: 3, UpdatedAt: time.Now()}
	empty := &Session{ID: "empty", RepoPath: repoPath}

	for _, s := range []*Session{older, newer, empty} {
		require.NoError(t, store.Save(s))
	}

	expectedPath := filepath.Join(tmpDir, "sessions", store.RepoHash(repoPath), "older.json")
	_, err := os.Stat(expectedPath)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(filepath.Dir(expectedPath), "empty.json"))
	assert.True(t, os.IsNotExist(err), "sessions without requests are not saved")

	loaded, err := store.Load("older", repoPath)
	require.NoError(t, err)
	assert.Equal(t, "First", loaded.Title)
	require.Len(t, loaded.History, 2)
	assert.Equal(t, engine.RoleAssistant, loaded.History[1].Role)

	list, err := store.List(repoPath)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "newer", list[0].ID)
	assert.Equal(t, 3, list[0].Requests)
	assert.Equal(t, "older", list[1].ID)

	removed, err := store.Prune(repoPath, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	list, err = store.List(repoPath)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "newer", list[0].ID)

	removed, err = store.Prune(repoPath, 5)
	require.NoError(t, err)
	assert.Zero(t, removed)

	list, err = store.List("/another/project")
	require.NoError(t, err)
	assert.Empty(t, list)
}
