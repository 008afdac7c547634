package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestJournalWritesDatedLines(t *testing.T) {
	dir := t.TempDir()
	j := NewJournal(dir, "www.nseindia.com_option-chain", "snapshots", 8, 1)
	j.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }

	for i := 0; i < 3; i++ {
		if err := j.Write(map[string]int{"seq": i}); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	path := filepath.Join(dir, "2026-03-02", "www.nseindia.com_option-chain", "snapshots.jsonl")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("os.Open(%s) failed: %v", path, err)
	}
	defer f.Close()

	var seqs []int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec map[string]int
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("line %q is not JSON: %v", sc.Text(), err)
		}
		seqs = append(seqs, rec["seq"])
	}
	if len(seqs) != 3 || seqs[0] != 0 || seqs[2] != 2 {
		t.Fatalf("journal lines = %v; want [0 1 2]", seqs)
	}
}

func TestJournalRejectsWritesAfterClose(t *testing.T) {
	j := NewJournal(t.TempDir(), "scope", "snapshots", 1, 1)
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := j.Write("late"); !errors.Is(err, ErrJournalClosed) {
		t.Fatalf("Write() after Close = %v; want ErrJournalClosed", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("second Close() = %v; want nil", err)
	}
}
