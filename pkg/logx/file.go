package logx

import (
	"bufio"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

var ErrNoFile = errors.New("file logging disabled")

// fileSink is an append-only log file that can be rewritten in place.
type fileSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func openFileSink(path string) (*fileSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &fileSink{path: path, f: f}, nil
}

func (s *fileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return len(p), nil
	}
	return s.f.Write(p)
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// compact filters the file through keep via a temp file + rename, then reopens it.
func (s *fileSink) compact(keep func(line []byte) bool) (kept, removed int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return 0, 0, ErrNoFile
	}

	in, err := os.Open(s.path)
	if err != nil {
		return 0, 0, err
	}
	defer in.Close()

	tmp := s.path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, 0, err
	}
	w := bufio.NewWriter(out)

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if keep != nil && !keep(bytes.TrimSpace(line)) {
			removed++
			continue
		}
		kept++
		_, _ = w.Write(line)
		_ = w.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return 0, 0, err
	}
	if err := w.Flush(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return 0, 0, err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, 0, err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return 0, 0, err
	}

	// The old descriptor points at the replaced inode; reopen.
	_ = s.f.Close()
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		s.f = nil
		return kept, removed, err
	}
	s.f = f
	return kept, removed, nil
}
