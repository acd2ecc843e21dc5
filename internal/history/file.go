package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"herald/internal/announce"
	logx "herald/pkg/logx"
)

// fileStore keeps the whole history as one JSON array.
//
// Writes go to a temp file in the same directory and are renamed into place,
// so a crash mid-write leaves the previous document intact.
type fileStore struct {
	log  logx.Logger
	path string

	mu  sync.Mutex
	now func() time.Time
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("history.path is required for file driver")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	s := &fileStore{log: log, path: path, now: time.Now}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.writeLocked(nil); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) ReadAll(ctx context.Context) ([]announce.Announcement, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(), nil
}

func (s *fileStore) WriteAll(ctx context.Context, items []announce.Announcement) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(items)
}

func (s *fileStore) Append(ctx context.Context, a announce.Announcement) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.readLocked()
	items = append(items, a)
	return s.writeLocked(items)
}

func (s *fileStore) Get(ctx context.Context, id string) (announce.Announcement, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.readLocked() {
		if a.ID == id {
			return a, nil
		}
	}
	return announce.Announcement{}, ErrNotFound
}

func (s *fileStore) Update(ctx context.Context, id string, fn func(*announce.Announcement) error) (announce.Announcement, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.readLocked()
	for i := range items {
		if items[i].ID != id {
			continue
		}
		if err := fn(&items[i]); err != nil {
			return items[i], err
		}
		if err := s.writeLocked(items); err != nil {
			return items[i], err
		}
		return items[i], nil
	}
	return announce.Announcement{}, ErrNotFound
}

// readLocked never fails: a missing file is an empty history, and an
// unreadable or corrupt one is moved aside and treated as empty.
func (s *fileStore) readLocked() []announce.Announcement {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("history unreadable; treating as empty", logx.String("path", s.path), logx.Err(err))
		}
		return []announce.Announcement{}
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return []announce.Announcement{}
	}
	var items []announce.Announcement
	if err := json.Unmarshal(data, &items); err != nil {
		s.quarantineLocked(err)
		return []announce.Announcement{}
	}
	if items == nil {
		items = []announce.Announcement{}
	}
	return items
}

func (s *fileStore) quarantineLocked(cause error) {
	aside := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
	if err := os.Rename(s.path, aside); err != nil {
		s.log.Warn("history corrupt; move aside failed", logx.String("path", s.path), logx.Err(err))
	} else {
		s.log.Warn("history corrupt; moved aside", logx.String("path", s.path), logx.String("aside", aside), logx.Err(cause))
	}
	if err := s.writeLocked(nil); err != nil {
		s.log.Warn("history recreate failed", logx.String("path", s.path), logx.Err(err))
	}
}

func (s *fileStore) writeLocked(items []announce.Announcement) error {
	if items == nil {
		items = []announce.Announcement{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write history: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write history: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace history: %w", err)
	}
	return nil
}
