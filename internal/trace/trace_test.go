package trace

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var events []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("bad trace line %q: %v", sc.Text(), err)
		}
		events = append(events, ev)
	}
	return events
}

func TestEmitAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	l := NewLogger(path, "run_1")
	if err := l.Emit("ingest", StatusOK, 12, []string{"a"}, []string{"b"}, nil); err != nil {
		t.Fatal(err)
	}
	if err := l.Emit("route", StatusWarn, 0, nil, nil, nil); err != nil {
		t.Fatal(err)
	}

	events := readEvents(t, path)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Step != "ingest" || events[0].Status != StatusOK || events[0].DurationMS != 12 {
		t.Errorf("event 0 = %+v", events[0])
	}
	if events[1].InputsRef == nil || len(events[1].InputsRef) != 0 {
		t.Errorf("nil refs should serialize as empty array: %+v", events[1])
	}
	if events[0].RunID != "run_1" {
		t.Errorf("run_id = %q", events[0].RunID)
	}
}

func TestTimestampFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	l := NewLogger(path, "run_1")
	l.now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 30, 45, 123456000, time.UTC)
	}
	if err := l.Emit("step", StatusOK, 0, nil, nil, nil); err != nil {
		t.Fatal(err)
	}
	events := readEvents(t, path)
	if events[0].TS != "2025-06-01T12:30:45.123456Z" {
		t.Errorf("ts = %q", events[0].TS)
	}
	if !regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{6}Z$`).MatchString(events[0].TS) {
		t.Errorf("ts format mismatch: %q", events[0].TS)
	}
}

func TestStepEmitsErrorAndReturnsIt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	l := NewLogger(path, "run_1")
	boom := errors.New("boom")
	err := l.Step("extract", []string{"in"}, nil, func() error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("Step should return fn error, got %v", err)
	}
	events := readEvents(t, path)
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	ev := events[0]
	if ev.Status != StatusError || ev.Error == nil || !strings.Contains(ev.Error.Message, "boom") {
		t.Errorf("event = %+v", ev)
	}
}

func TestStepOK(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	l := NewLogger(path, "run_1")
	if err := l.Step("extract", nil, []string{"out"}, func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	events := readEvents(t, path)
	if events[0].Status != StatusOK || events[0].Error != nil {
		t.Errorf("event = %+v", events[0])
	}
}
