// Package checkpoint saves how far a paginated sync got so it can resume.
//
// A Checkpoint stores the stream's resume cursor together with page and item
// counts. Resuming from it re-lists at most the page that was in progress,
// so delivery is at-least-once and sinks are expected to skip duplicates.
//
// Two stores are provided: FileStore writes one JSON file per stream
// atomically (temp file, fsync, rename) and RedisStore keeps the same JSON
// under a prefixed key. FromConfig picks one from the checkpoint config section.
package checkpoint
