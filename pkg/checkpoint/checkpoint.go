package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"apikit/pkg/config"
	"apikit/pkg/logger"
	"apikit/pkg/paginate"
)

// Version of the checkpoint format
const Version = 1

// ErrCheckpointNotFound is returned by Load when a stream has no checkpoint
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// Checkpoint records how far a sync of one stream got
type Checkpoint struct {
	Stream string `json:"stream"`
	// Cursor is the stream's resume cursor; empty restarts the listing
	Cursor    string    `json:"cursor"`
	Pages     int       `json:"pages"`
	Items     int       `json:"items"`
	Written   int       `json:"written"`
	RunID     string    `json:"run_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// New starts an empty checkpoint for stream
func New(stream, runID string) *Checkpoint {
	now := time.Now()
	return &Checkpoint{
		Stream:    stream,
		RunID:     runID,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   Version,
	}
}

// ResumeCursor returns the cursor a resumed listing starts from
func (c *Checkpoint) ResumeCursor() paginate.Cursor {
	return paginate.CursorOrNone(c.Cursor)
}

// Advance records progress after a page
func (c *Checkpoint) Advance(stats paginate.Stats, written int) {
	c.Cursor = stats.ResumeCursor.String()
	c.Pages = stats.Pages
	c.Items = stats.Items
	c.Written = written
}

// Info summarises the checkpoint for display
func (c *Checkpoint) Info() map[string]interface{} {
	return map[string]interface{}{
		"stream":     c.Stream,
		"pages":      c.Pages,
		"items":      c.Items,
		"written":    c.Written,
		"cursor":     c.Cursor,
		"created_at": c.CreatedAt,
		"updated_at": c.UpdatedAt,
		"age":        time.Since(c.UpdatedAt).Round(time.Second).String(),
	}
}

// Store persists checkpoints keyed by stream
type Store interface {
	// Load returns ErrCheckpointNotFound when nothing is stored for stream
	Load(ctx context.Context, stream string) (*Checkpoint, error)
	Save(ctx context.Context, cp *Checkpoint) error
	// Delete succeeds when nothing is stored
	Delete(ctx context.Context, stream string) error
}

// Exists reports whether a checkpoint is stored for stream
func Exists(ctx context.Context, s Store, stream string) (bool, error) {
	_, err := s.Load(ctx, stream)
	if errors.Is(err, ErrCheckpointNotFound) {
		return false, nil
	}
	return err == nil, err
}

// FromConfig opens the store selected by the checkpoint config section
func FromConfig(ctx context.Context, cfg config.CheckpointConfig, log logger.Logger) (Store, error) {
	switch cfg.Backend {
	case "", config.BackendFile:
		return NewFileStore(cfg.Directory, log)
	case config.BackendRedis:
		return NewRedisStore(ctx, cfg.RedisURL, cfg.KeyPrefix, log)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

// StreamKey turns a stream name into a string safe for file names and
// redis keys. Distinct streams get distinct keys.
func StreamKey(stream string) string {
	var b strings.Builder
	for _, r := range strings.Trim(stream, "/") {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	sum := sha256.Sum256([]byte(stream))
	readable := b.String()
	if len(readable) > 64 {
		readable = readable[:64]
	}
	return readable + "-" + hex.EncodeToString(sum[:4])
}
