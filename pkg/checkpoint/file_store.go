package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"apikit/pkg/logger"
)

// FileStore keeps one JSON file per stream in a directory
type FileStore struct {
	dir    string
	logger logger.Logger
}

// NewFileStore creates dir if needed
func NewFileStore(dir string, log logger.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("checkpoint directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}
	return &FileStore{dir: dir, logger: logger.OrNop(log)}, nil
}

// Path returns the file a stream's checkpoint lives in
func (s *FileStore) Path(stream string) string {
	return filepath.Join(s.dir, StreamKey(stream)+".checkpoint.json")
}

func (s *FileStore) Load(ctx context.Context, stream string) (*Checkpoint, error) {
	file, err := os.Open(s.Path(stream))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var cp Checkpoint
	if err := json.NewDecoder(file).Decode(&cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}

	s.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"stream":     cp.Stream,
		"pages":      cp.Pages,
		"cursor":     cp.Cursor,
		"updated_at": cp.UpdatedAt,
	})
	return &cp, nil
}

// Save writes the checkpoint atomically through a synced temp file
func (s *FileStore) Save(ctx context.Context, cp *Checkpoint) error {
	cp.UpdatedAt = time.Now()
	target := s.Path(cp.Stream)
	tempPath := target + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(cp); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}
	if err := os.Rename(tempPath, target); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	s.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"stream": cp.Stream,
		"pages":  cp.Pages,
		"cursor": cp.Cursor,
	})
	return nil
}

func (s *FileStore) Delete(ctx context.Context, stream string) error {
	if err := os.Remove(s.Path(stream)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	s.logger.WithField("stream", stream).Info("Checkpoint deleted")
	return nil
}

// Backup copies the stream's checkpoint to a .backup file beside it
func (s *FileStore) Backup(stream string) error {
	src, err := os.Open(s.Path(stream))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open checkpoint for backup: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(s.Path(stream) + ".backup")
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy checkpoint to backup: %w", err)
	}
	return nil
}
