package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Store keeps one JSON file per session under basePath/<repo hash>/.
type Store struct {
	basePath string
}

// NewStore creates a new session store under configPath/sessions.
func NewStore(configPath string) *Store {
	return &Store{basePath: filepath.Join(configPath, "sessions")}
}

// RepoHash scopes sessions to a repository path.
func (s *Store) RepoHash(repoPath string) string {
	hash := sha256.Sum256([]byte(filepath.Clean(repoPath)))
	return hex.EncodeToString(hash[:])[:12]
}

func (s *Store) repoDir(repoPath string) string {
	return filepath.Join(s.basePath, s.RepoHash(repoPath))
}

// Save persists a session to disk. Sessions without requests are skipped.
func (s *Store) Save(session *Session) error {
	if session.Requests == 0 {
		return nil
	}
	if session.RepoHash == "" {
		session.RepoHash = s.RepoHash(session.RepoPath)
	}

	dir := filepath.Join(s.basePath, session.RepoHash)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	tmp := filepath.Join(dir, "."+session.ID+".json.tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, session.ID+".json")); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

// Load retrieves a specific session.
func (s *Store) Load(id string, repoPath string) (*Session, error) {
	return readSession(filepath.Join(s.repoDir(repoPath), id+".json"))
}

func readSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", filepath.Base(path), err)
	}
	return &session, nil
}

// List returns the sessions of a repository, newest first. Unreadable files
// are skipped.
func (s *Store) List(repoPath string) ([]SessionMeta, error) {
	dir := s.repoDir(repoPath)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []SessionMeta{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list session directory: %w", err)
	}

	sessions := make([]SessionMeta, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		sess, err := readSession(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		sessions = append(sessions, SessionMeta{
			ID:        sess.ID,
			Title:     sess.Title,
			Requests:  sess.Requests,
			CreatedAt: sess.CreatedAt,
			UpdatedAt: sess.UpdatedAt,
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

// Prune deletes all but the keep newest sessions of a repository and returns
// how many were removed.
func (s *Store) Prune(repoPath string, keep int) (int, error) {
	metas, err := s.List(repoPath)
	if err != nil || len(metas) <= keep {
		return 0, err
	}
	removed := 0
	for _, m := range metas[max(keep, 0):] {
		if err := os.Remove(filepath.Join(s.repoDir(repoPath), m.ID+".json")); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove session %s: %w", m.ID, err)
		}
		removed++
	}
	return removed, nil
}
