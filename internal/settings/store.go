// Package settings persists the user preferences that survive restarts:
// the model credential, voice output, and onboarding flags.
package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Settings is the persisted preference set.
type Settings struct {
	GeminiAPIKey        string `yaml:"gemini_api_key" json:"gemini_api_key"`
	VoiceEnabled        bool   `yaml:"voice_enabled" json:"voice_enabled"`
	OnboardingCompleted bool   `yaml:"onboarding_completed" json:"onboarding_completed"`
	DefaultAssistantSet bool   `yaml:"default_assistant_set" json:"default_assistant_set"`
}

// Defaults returns the values used for keys missing from the file.
func Defaults() Settings {
	return Settings{VoiceEnabled: true}
}

// Store is a YAML-file backed settings store. Writes are last-write-wins.
type Store struct {
	path       string
	defaultKey string
	logger     *zap.Logger

	mu          sync.RWMutex
	current     Settings
	subscribers map[int]chan Settings
	nextSubID   int

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// Open loads the settings file. A missing file yields defaults.
// defaultKey is the credential used while the user has not stored one.
func Open(path string, defaultKey string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		path:        filepath.Clean(path),
		defaultKey:  strings.TrimSpace(defaultKey),
		logger:      logger,
		subscribers: make(map[int]chan Settings),
	}
	current, err := s.read()
	if err != nil {
		return nil, err
	}
	s.current = current
	return s, nil
}

func (s *Store) read() (Settings, error) {
	out := Defaults()
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return Defaults(), fmt.Errorf("parse settings %s: %w", s.path, err)
	}
	return out, nil
}

func (s *Store) write(value Settings) error {
	data, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

// Snapshot returns the current settings.
func (s *Store) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// APIKey returns the stored credential, or the configured default.
func (s *Store) APIKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if key := strings.TrimSpace(s.current.GeminiAPIKey); key != "" {
		return key
	}
	return s.defaultKey
}

// HasAPIKey reports whether any credential is usable.
func (s *Store) HasAPIKey() bool {
	return s.APIKey() != ""
}

// Update applies fn, persists, and notifies subscribers.
func (s *Store) Update(fn func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	fn(&next)
	if err := s.write(next); err != nil {
		return err
	}
	s.setLocked(next)
	return nil
}

func (s *Store) SetAPIKey(key string) error {
	return s.Update(func(v *Settings) { v.GeminiAPIKey = strings.TrimSpace(key) })
}

func (s *Store) SetVoiceEnabled(enabled bool) error {
	return s.Update(func(v *Settings) { v.VoiceEnabled = enabled })
}

func (s *Store) SetOnboardingCompleted(done bool) error {
	return s.Update(func(v *Settings) { v.OnboardingCompleted = done })
}

func (s *Store) SetDefaultAssistantSet(set bool) error {
	return s.Update(func(v *Settings) { v.DefaultAssistantSet = set })
}

// Subscribe streams settings, starting with the current value. Only the
// latest value is buffered.
func (s *Store) Subscribe() (<-chan Settings, func()) {
	ch := make(chan Settings, 1)

	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	ch <- s.current
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			close(ch)
			s.mu.Unlock()
		})
	}
}

func (s *Store) setLocked(next Settings) {
	if next == s.current {
		return
	}
	s.current = next
	for _, ch := range s.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
}

// Watch reloads the file when it is edited outside the process. It
// returns once the watcher is running; ctx or Close stops it.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		watcher.Close()
		return fmt.Errorf("create settings dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	s.mu.Lock()
	s.watcher = watcher
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.watchLoop(ctx, watcher)
	}()
	return nil
}

func (s *Store) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			s.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("settings watcher error", zap.Error(err))
		}
	}
}

func (s *Store) reload() {
	next, err := s.read()
	if err != nil {
		s.logger.Warn("settings reload failed", zap.String("path", s.path), zap.Error(err))
		return
	}
	s.mu.Lock()
	s.setLocked(next)
	s.mu.Unlock()
}

// Close stops the watcher.
func (s *Store) Close() error {
	s.mu.Lock()
	watcher := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	if watcher == nil {
		return nil
	}
	err := watcher.Close()
	s.wg.Wait()
	return err
}
