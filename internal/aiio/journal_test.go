package aiio_test

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"

	"github.com/aldenvane/skein/internal/aiio"
)

func TestAppendWritesJSONLines(t *testing.T) {
	t.Parallel()

	j := aiio.NewJournal(t.TempDir(), "renderer")
	records := []aiio.Record{
		{EnvelopeID: "msg_1", Prompt: "narrate the attack", Response: "The arrow flies.", DurationMS: 1200},
		{EnvelopeID: "msg_2", Prompt: "narrate the miss", Response: "", Error: "model offline"},
	}
	for _, rec := range records {
		if err := j.Append(rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	f, err := os.Open(j.Path())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer f.Close()

	var got []aiio.Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec aiio.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", len(got)+1, err)
		}
		got = append(got, rec)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("journal holds %d lines, want 2", len(got))
	}
	if got[0].EnvelopeID != "msg_1" || got[0].Response != "The arrow flies." {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].Error != "model offline" {
		t.Errorf("got[1].Error = %q", got[1].Error)
	}
	if got[0].Timestamp.IsZero() {
		t.Error("timestamp not stamped on append")
	}
}

func TestAppendCreatesDirectory(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	j := aiio.NewJournal(root, "interpreter")
	if err := j.Append(aiio.Record{Prompt: "p", Response: "r"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := os.Stat(j.Path()); err != nil {
		t.Fatalf("journal file missing: %v", err)
	}
}
