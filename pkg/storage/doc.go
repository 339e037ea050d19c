// Package storage writes synced items to a JSON Lines file.
//
// A Sink keeps an in-memory set of item keys, seeded by scanning the file
// when it is opened, and skips any item whose key it has already written.
// Checkpointed syncs replay at most one page after a restart; the sink is
// what keeps that replay from producing duplicate lines.
//
//	sink, err := storage.OpenSink("items.jsonl", "id")
//	if err != nil {
//	    return err
//	}
//	defer sink.Close()
//
//	written, err := sink.WriteItem(raw)
package storage
