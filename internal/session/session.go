// Package session persists the mapping from group folder to agent session.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	currentFile  = "sessions.json"
	archivedFile = "archived_sessions.json"
)

// ArchivedSession is one retired session kept for reference.
type ArchivedSession struct {
	GroupFolder string    `json:"group_folder"`
	SessionID   string    `json:"session_id"`
	ArchivedAt  time.Time `json:"archived_at"`
}

// Store maps group folders to their active agent session id. The mapping is
// mirrored to disk on every change so a restart resumes conversations.
type Store struct {
	dir string

	mu       sync.Mutex
	sessions map[string]string
}

// NewStore loads (or initializes) the session mapping under dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("session dir: %w", err)
	}
	s := &Store{dir: dir, sessions: make(map[string]string)}

	data, err := os.ReadFile(filepath.Join(dir, currentFile))
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read sessions: %w", err)
	}
	if err := json.Unmarshal(data, &s.sessions); err != nil {
		return nil, fmt.Errorf("parse sessions: %w", err)
	}
	return s, nil
}

// Get returns the active session id for a group folder.
func (s *Store) Get(folder string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.sessions[folder]
	return id, ok
}

// Set records the active session id for a group folder and persists.
func (s *Store) Set(folder, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[folder] = id
	return s.flush()
}

// Clear archives the group's current session and removes the mapping.
// Clearing a folder with no session is a no-op.
func (s *Store) Clear(folder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.sessions[folder]
	if !ok {
		return nil
	}
	if err := s.appendArchive(ArchivedSession{
		GroupFolder: folder,
		SessionID:   id,
		ArchivedAt:  time.Now(),
	}); err != nil {
		return err
	}
	delete(s.sessions, folder)
	return s.flush()
}

// Archived returns all archived sessions, oldest first.
func (s *Store) Archived() ([]ArchivedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readArchive()
}

// flush atomically rewrites the current mapping. Callers hold s.mu.
func (s *Store) flush() error {
	data, err := json.MarshalIndent(s.sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}
	path := filepath.Join(s.dir, currentFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write sessions: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish sessions: %w", err)
	}
	return nil
}

func (s *Store) readArchive() ([]ArchivedSession, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, archivedFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read archive: %w", err)
	}
	var archived []ArchivedSession
	if err := json.Unmarshal(data, &archived); err != nil {
		return nil, fmt.Errorf("parse archive: %w", err)
	}
	return archived, nil
}

func (s *Store) appendArchive(entry ArchivedSession) error {
	archived, err := s.readArchive()
	if err != nil {
		return err
	}
	archived = append(archived, entry)

	data, err := json.MarshalIndent(archived, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal archive: %w", err)
	}
	path := filepath.Join(s.dir, archivedFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish archive: %w", err)
	}
	return nil
}
