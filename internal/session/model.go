// Package session archives finished conversations per project.
package session

import (
	"strings"
	"time"

	"github.com/ChamsBouzaiene/gencode/internal/engine"
)

// titleLimit caps titles derived from the first request.
const titleLimit = 60

// Session is an archived conversation.
type Session struct {
	ID        string           `json:"id"`
	RepoPath  string           `json:"repo_path"`
	RepoHash  string           `json:"repo_hash"` // Used for directory scoping
	Title     string           `json:"title"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	Requests  int              `json:"requests"`
	History   []engine.Message `json:"history"`
}

// SessionMeta is a lightweight representation for listing.
type SessionMeta struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Requests  int       `json:"requests"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FromConversation captures the transcript of conv. Image payloads are
// dropped; their paths are kept.
func FromConversation(conv *engine.Conversation, repoPath string, createdAt time.Time) *Session {
	msgs := conv.Transcript.Messages()
	s := &Session{
		ID:        conv.ID,
		RepoPath:  repoPath,
		CreatedAt: createdAt,
		UpdatedAt: time.Now(),
		History:   make([]engine.Message, 0, len(msgs)),
	}
	for _, m := range msgs {
		if len(m.Images) > 0 {
			imgs := make([]engine.ImageAttachment, len(m.Images))
			for i, img := range m.Images {
				imgs[i] = engine.ImageAttachment{Path: img.Path, MediaType: img.MediaType}
			}
			m.Images = imgs
		}
		if isRequest(m) {
			s.Requests++
			if s.Title == "" {
				s.Title = title(m.Text)
			}
		}
		s.History = append(s.History, m)
	}
	return s
}

func isRequest(m engine.Message) bool {
	return m.Role == engine.RoleUser && !m.Notice && len(m.FunctionResponses) == 0 && strings.TrimSpace(m.Text) != ""
}

func title(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > titleLimit {
		return string(r[:titleLimit-3]) + "..."
	}
	return text
}
