package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "items.jsonl")

	sink, err := OpenSink(path, "id")
	if err != nil {
		t.Fatalf("Failed to open sink: %v", err)
	}

	if sink.Count() != 0 {
		t.Error("Expected an empty sink")
	}

	written, err := sink.WriteItem(json.RawMessage(`{ "id": "a", "n": 1 }`))
	if err != nil || !written {
		t.Fatalf("WriteItem() = %v, %v", written, err)
	}
	written, err = sink.WriteItem(json.RawMessage(`{"id":"a","n":2}`))
	if err != nil || written {
		t.Errorf("Expected duplicate key to be skipped, got %v, %v", written, err)
	}
	if _, err := sink.WriteItem(json.RawMessage(`{"id":7}`)); err != nil {
		t.Errorf("Numeric keys should be accepted: %v", err)
	}
	if !sink.Has("7") {
		t.Error("Expected numeric key to be recorded by its JSON spelling")
	}

	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d: %q", len(lines), content)
	}
	if lines[0] != `{"id":"a","n":1}` {
		t.Errorf("Expected compacted JSON, got %s", lines[0])
	}
	if sink.Written() != 2 || sink.Skipped() != 1 {
		t.Errorf("Written=%d Skipped=%d", sink.Written(), sink.Skipped())
	}

	if _, err := sink.Write("z", json.RawMessage(`{}`)); err == nil {
		t.Error("Expected error writing to a closed sink")
	}
}

func TestSinkReopenSkipsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.jsonl")
	// a crash left the last line unterminated
	if err := os.WriteFile(path, []byte("{\"id\":\"a\"}\n{\"id\":\"b\"}"), 0644); err != nil {
		t.Fatal(err)
	}

	sink, err := OpenSink(path, "id")
	if err != nil {
		t.Fatal(err)
	}
	if sink.Count() != 2 || !sink.Has("b") {
		t.Errorf("Expected existing keys to be loaded, count=%d", sink.Count())
	}

	if written, _ := sink.WriteItem(json.RawMessage(`{"id":"b"}`)); written {
		t.Error("Expected existing key to be skipped after reopen")
	}
	if written, _ := sink.WriteItem(json.RawMessage(`{"id":"c"}`)); !written {
		t.Error("Expected new key to be written")
	}
	sink.Close()

	content, _ := os.ReadFile(path)
	if string(content) != "{\"id\":\"a\"}\n{\"id\":\"b\"}\n{\"id\":\"c\"}\n" {
		t.Errorf("Unexpected file content: %q", content)
	}
}

func TestKeyOf(t *testing.T) {
	tests := []struct {
		item    string
		want    string
		wantErr bool
	}{
		{`{"id":"x1"}`, "x1", false},
		{`{"id":42}`, "42", false},
		{`{"id":null}`, "", true},
		{`{"id":""}`, "", true},
		{`{"name":"no id"}`, "", true},
		{`[1,2]`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.item, func(t *testing.T) {
			got, err := KeyOf([]byte(tt.item), "id")
			if (err != nil) != tt.wantErr {
				t.Fatalf("KeyOf() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("KeyOf() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := KeyOf([]byte(`{}`), "id"); !errors.Is(err, ErrMissingKey) {
		t.Errorf("Expected ErrMissingKey, got %v", err)
	}
}

func TestSinkConcurrentWrites(t *testing.T) {
	sink, err := OpenSink(filepath.Join(t.TempDir(), "items.jsonl"), "id")
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				item, _ := json.Marshal(map[string]int{"id": i})
				sink.WriteItem(item)
			}
		}()
	}
	wg.Wait()

	if sink.Written() != 50 || sink.Skipped() != 150 {
		t.Errorf("Written=%d Skipped=%d, want 50 and 150", sink.Written(), sink.Skipped())
	}
}

func TestSinkRejectsInvalidJSON(t *testing.T) {
	sink, err := OpenSink(filepath.Join(t.TempDir(), "items.jsonl"), "")
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	if _, err := sink.Write("k", json.RawMessage(`{broken`)); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}
