// Package storage archives finished conversations as JSON transcripts,
// one directory per persona and one file per history.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xiaoai/assistant/internal/conversation"
)

const roleMetadata = "metadata"

var (
	ErrInvalidName     = errors.New("invalid history name")
	ErrHistoryNotFound = errors.New("history not found")
)

// Entry is one line of a transcript file.
type Entry struct {
	ID        string `json:"id,omitempty"`
	Role      string `json:"role"`
	Timestamp string `json:"timestamp"`
	Content   string `json:"content,omitempty"`
	ImageRef  string `json:"image_ref,omitempty"`
	VideoRef  string `json:"video_ref,omitempty"`
}

// Info summarizes a transcript for listings.
type Info struct {
	UID           string `json:"uid"`
	LatestMessage Entry  `json:"latest_message"`
	Timestamp     string `json:"timestamp"`
}

var safeNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-\.]+$`)

// Archive stores transcripts for one persona.
type Archive struct {
	dir string
	mu  sync.Mutex
}

// NewArchive prepares baseDir/personaUID.
func NewArchive(baseDir string, personaUID string) (*Archive, error) {
	if baseDir == "" {
		return nil, errors.New("chat history base dir is empty")
	}
	if !safeNamePattern.MatchString(personaUID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, personaUID)
	}
	dir := filepath.Join(baseDir, personaUID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &Archive{dir: dir}, nil
}

// Create starts an empty transcript and returns its uid.
func (a *Archive) Create() (string, error) {
	uid := time.Now().Format("2006-01-02_15-04-05") + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	meta := []Entry{{Role: roleMetadata, Timestamp: time.Now().Format(time.RFC3339)}}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := writeEntries(filepath.Join(a.dir, uid+".json"), meta); err != nil {
		return "", err
	}
	return uid, nil
}

// Append adds finalized messages to a transcript. Pending placeholders are
// skipped.
func (a *Archive) Append(historyUID string, messages ...conversation.Message) error {
	path, err := a.path(historyUID)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	entries, err := readEntries(path)
	if err != nil {
		return err
	}
	for _, msg := range messages {
		if msg.Pending {
			continue
		}
		entries = append(entries, entryFrom(msg))
	}
	return writeEntries(path, entries)
}

// Get returns the messages of a transcript, oldest first.
func (a *Archive) Get(historyUID string) ([]conversation.Message, error) {
	path, err := a.path(historyUID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	entries, err := readEntries(path)
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	messages := []conversation.Message{}
	for _, entry := range entries {
		if entry.Role == roleMetadata {
			continue
		}
		messages = append(messages, entry.message())
	}
	return messages, nil
}

// Delete removes a transcript. It reports whether a file was removed.
func (a *Archive) Delete(historyUID string) bool {
	path, err := a.path(historyUID)
	if err != nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return os.Remove(path) == nil
}

// List returns non-empty transcripts, newest first.
func (a *Archive) List() []Info {
	list := []Info{}
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return list
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, dirEntry := range entries {
		if dirEntry.IsDir() || !strings.HasSuffix(dirEntry.Name(), ".json") {
			continue
		}
		transcript, err := readEntries(filepath.Join(a.dir, dirEntry.Name()))
		if err != nil {
			continue
		}
		var latest *Entry
		for i := len(transcript) - 1; i >= 0; i-- {
			if transcript[i].Role != roleMetadata {
				latest = &transcript[i]
				break
			}
		}
		if latest == nil {
			continue
		}
		list = append(list, Info{
			UID:           strings.TrimSuffix(dirEntry.Name(), ".json"),
			LatestMessage: *latest,
			Timestamp:     latest.Timestamp,
		})
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].Timestamp > list[j].Timestamp
	})
	return list
}

func (a *Archive) path(historyUID string) (string, error) {
	if !safeNamePattern.MatchString(historyUID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, historyUID)
	}
	return filepath.Join(a.dir, historyUID+".json"), nil
}

func entryFrom(msg conversation.Message) Entry {
	return Entry{
		ID:        msg.ID,
		Role:      string(msg.Author),
		Timestamp: msg.CreatedAt.Format(time.RFC3339Nano),
		Content:   msg.Content,
		ImageRef:  msg.ImageRef,
		VideoRef:  msg.VideoRef,
	}
}

func (e Entry) message() conversation.Message {
	created, _ := time.Parse(time.RFC3339Nano, e.Timestamp)
	id := e.ID
	if id == "" {
		id = uuid.NewString()
	}
	return conversation.Message{
		ID:        id,
		Content:   e.Content,
		Author:    conversation.Author(e.Role),
		CreatedAt: created,
		ImageRef:  e.ImageRef,
		VideoRef:  e.VideoRef,
	}
}

func readEntries(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrHistoryNotFound, filepath.Base(path))
	}
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return entries, nil
}

func writeEntries(path string, entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
