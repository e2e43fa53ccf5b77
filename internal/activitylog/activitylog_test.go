package activitylog

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

func TestActivityConstructors(t *testing.T) {
	id := uuid.New()

	a := URLActivity("Console", id, "Profiler", "https://flare.example.org/abc")
	if a.DataType != DataTypeURL {
		t.Fatalf("data type = %q, want %q", a.DataType, DataTypeURL)
	}
	if a.Actor != "Console" || a.ActorID != id {
		t.Fatalf("actor = %q/%v", a.Actor, a.ActorID)
	}
	if a.Data != "https://flare.example.org/abc" {
		t.Fatalf("data = %q", a.Data)
	}

	a = FileActivity("Console", id, "Profiler", "/tmp/profile.flareprofile")
	if a.DataType != DataTypeFile {
		t.Fatalf("data type = %q, want %q", a.DataType, DataTypeFile)
	}
	if a.Data != "/tmp/profile.flareprofile" {
		t.Fatalf("data = %q", a.Data)
	}
}

func TestFileLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.jsonl")
	l := NewFileLog(path)

	id := uuid.New()
	l.Add(context.Background(), URLActivity("Console", id, "Profiler", "https://flare.example.org/abc"))
	l.Add(context.Background(), FileActivity("ops", uuid.Nil, "Profiler", "profile-2023-01-01.flareprofile"))

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var entries []Activity
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var a Activity
		if err := json.Unmarshal(scanner.Bytes(), &a); err != nil {
			t.Fatalf("line is not valid json: %v", err)
		}
		entries = append(entries, a)
	}
	if err := scanner.Err(); err != nil {
		t.Fatal(err)
	}

	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].ActorID != id || entries[0].DataType != DataTypeURL {
		t.Fatalf("first entry mismatch: %+v", entries[0])
	}
	if entries[1].Actor != "ops" || entries[1].Data != "profile-2023-01-01.flareprofile" {
		t.Fatalf("second entry mismatch: %+v", entries[1])
	}
}

func TestNop(t *testing.T) {
	// Must not panic.
	Nop.Add(context.Background(), Activity{})
}
