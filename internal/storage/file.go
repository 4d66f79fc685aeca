package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "pushgw/pkg/logx"
)

const (
	fileRecentCap  = 1000    // rows kept in memory for Recent
	fileMaxLines   = 200_000 // compact when the journal grows past this
	fileKeepLines  = 50_000  // rows kept by compaction
	fileCheckEvery = 1000
)

// fileStore appends JSON Lines to <prefix>.journal.jsonl. Recent is served
// from an in-memory tail loaded at open.
type fileStore struct {
	log  logx.Logger
	path string

	mu     sync.Mutex
	f      *os.File
	lines  int
	recent []DeliveryRecord // ring, oldest first
	writes int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	journal := filepath.Join(dir, base+".journal.jsonl")

	s := &fileStore{log: log, path: journal}
	if err := s.replay(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("journal replay failed", logx.String("path", journal), logx.Err(err))
	}
	f, err := os.OpenFile(journal, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.f = f
	return s, nil
}

func (s *fileStore) replay() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		s.lines++
		var r DeliveryRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		s.remember(r)
	}
	return sc.Err()
}

func (s *fileStore) remember(r DeliveryRecord) {
	if len(s.recent) == fileRecentCap {
		copy(s.recent, s.recent[1:])
		s.recent = s.recent[:fileRecentCap-1]
	}
	s.recent = append(s.recent, r)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) Append(_ context.Context, r DeliveryRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.f).Encode(r); err != nil {
		return err
	}
	s.lines++
	s.remember(r)
	s.writes++
	if s.writes%fileCheckEvery == 0 && s.lines > fileMaxLines {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Recent(_ context.Context, q Query) ([]DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}
	limit := q.limit()
	var out []DeliveryRecord
	for i := len(s.recent) - 1; i >= 0 && len(out) < limit; i-- {
		if q.match(s.recent[i]) {
			out = append(out, s.recent[i])
		}
	}
	return out, nil
}

// compactLocked rewrites the journal keeping its last fileKeepLines lines.
func (s *fileStore) compactLocked() error {
	src, err := os.Open(s.path)
	if err != nil {
		return err
	}
	tail := make([]string, 0, fileKeepLines)
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		if len(tail) == fileKeepLines {
			tail = tail[1:]
		}
		tail = append(tail, sc.Text())
	}
	_ = src.Close()
	if err := sc.Err(); err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, line := range tail {
		_, _ = io.WriteString(w, line)
		_ = w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := s.f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	s.f, err = os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	s.lines = len(tail)
	return nil
}
