package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrMissingKey is returned when an item has no usable key field
var ErrMissingKey = errors.New("item has no key")

// maxLineSize bounds a single JSONL record when scanning an existing file
const maxLineSize = 16 << 20

// Sink appends JSON items to a JSON Lines file and skips keys it already holds.
// Keys already in the file are loaded when the sink is opened, so a resumed
// sync does not write duplicates.
type Sink struct {
	path     string
	keyField string
	file     *os.File
	w        *bufio.Writer
	keys     map[string]bool
	written  int
	skipped  int
	mu       sync.Mutex
}

// OpenSink opens or creates the file at path. keyField names the item
// field used for duplicate detection.
func OpenSink(path, keyField string) (*Sink, error) {
	if keyField == "" {
		keyField = "id"
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	s := &Sink{path: path, keyField: keyField, keys: make(map[string]bool)}
	needsNewline, err := s.scanExisting()
	if err != nil {
		return nil, fmt.Errorf("failed to scan existing items: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}
	s.file = file
	s.w = bufio.NewWriter(file)

	// an interrupted run may have left a partial last line
	if needsNewline {
		if err := s.w.WriteByte('\n'); err != nil {
			file.Close()
			return nil, err
		}
	}
	return s, nil
}

// scanExisting loads the keys of items already in the file and reports
// whether the file ends without a newline
func (s *Sink) scanExisting() (bool, error) {
	file, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if key, err := KeyOf(line, s.keyField); err == nil {
			s.keys[key] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return false, err
	}

	info, err := file.Stat()
	if err != nil || info.Size() == 0 {
		return false, err
	}
	last := make([]byte, 1)
	if _, err := file.ReadAt(last, info.Size()-1); err != nil && err != io.EOF {
		return false, err
	}
	return last[0] != '\n', nil
}

// KeyOf extracts field from a JSON object as a string. Numbers keep their
// JSON spelling.
func KeyOf(item []byte, field string) (string, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(item, &doc); err != nil {
		return "", fmt.Errorf("item is not a JSON object: %w", err)
	}
	raw, ok := doc[field]
	if !ok || string(raw) == "null" {
		return "", fmt.Errorf("%w: field %q", ErrMissingKey, field)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return "", fmt.Errorf("%w: field %q is empty", ErrMissingKey, field)
		}
		return s, nil
	}
	return string(raw), nil
}

// Has reports whether key was already written
func (s *Sink) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[key]
}

// Write appends item under key. It returns false without writing when the
// key is already present.
func (s *Sink) Write(key string, item json.RawMessage) (bool, error) {
	var line bytes.Buffer
	if err := json.Compact(&line, item); err != nil {
		return false, fmt.Errorf("invalid item JSON: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.w == nil {
		return false, errors.New("sink is closed")
	}
	if s.keys[key] {
		s.skipped++
		return false, nil
	}

	line.WriteByte('\n')
	if _, err := s.w.Write(line.Bytes()); err != nil {
		return false, fmt.Errorf("failed to write item: %w", err)
	}
	s.keys[key] = true
	s.written++
	return true, nil
}

// WriteItem appends item keyed by the sink's key field
func (s *Sink) WriteItem(item json.RawMessage) (bool, error) {
	key, err := KeyOf(item, s.keyField)
	if err != nil {
		return false, err
	}
	return s.Write(key, item)
}

// Flush pushes buffered items to the file and syncs it
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.w == nil {
		return nil
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush items: %w", err)
	}
	return s.file.Sync()
}

// Close flushes and closes the file
func (s *Sink) Close() error {
	flushErr := s.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return flushErr
	}
	closeErr := s.file.Close()
	s.file, s.w = nil, nil
	return errors.Join(flushErr, closeErr)
}

// Path returns the output file path
func (s *Sink) Path() string {
	return s.path
}

// Count returns the number of distinct keys in the file
func (s *Sink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// Written returns how many items this sink appended
func (s *Sink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Skipped returns how many duplicate items this sink declined
func (s *Sink) Skipped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}
