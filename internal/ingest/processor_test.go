package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/ryabkov82/target-notion/internal/job"
	"github.com/ryabkov82/target-notion/internal/sink"
)

// recordingSink remembers batches and the output length at the time each batch was written
type recordingSink struct {
	out     *bytes.Buffer
	batches [][]sink.Record
	seenOut []int
	err     error
}

func (s *recordingSink) ProcessBatch(_ context.Context, records []sink.Record) error {
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, append([]sink.Record(nil), records...))
	s.seenOut = append(s.seenOut, s.out.Len())
	return nil
}

type harness struct {
	out     *bytes.Buffer
	store   *job.Store
	runID   string
	sinks   map[string][]*recordingSink
	keys    map[string][]string
	sinkErr error
}

func newHarness() *harness {
	store := job.NewStore()
	return &harness{
		out:   &bytes.Buffer{},
		store: store,
		runID: store.Start(true),
		sinks: make(map[string][]*recordingSink),
		keys:  make(map[string][]string),
	}
}

func (h *harness) factory(_ context.Context, stream string, keyProperties []string) (sink.Sink, error) {
	s := &recordingSink{out: h.out, err: h.sinkErr}
	h.sinks[stream] = append(h.sinks[stream], s)
	h.keys[stream] = keyProperties
	return s, nil
}

func (h *harness) run(t *testing.T, input string, batchSize int) error {
	t.Helper()
	p := NewProcessor(h.runID, h.store, nil, NewParser(strings.NewReader(input)), h.out, h.factory, batchSize)
	return p.Process(context.Background())
}

func TestProcessorBatchesBySize(t *testing.T) {
	h := newHarness()
	input := strings.Join([]string{
		`{"type":"SCHEMA","stream":"users","schema":{},"key_properties":["email"]}`,
		`{"type":"RECORD","stream":"users","record":{"email":"a"}}`,
		`{"type":"RECORD","stream":"users","record":{"email":"b"}}`,
		`{"type":"RECORD","stream":"users","record":{"email":"c"}}`,
	}, "\n")

	if err := h.run(t, input, 2); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	s := h.sinks["users"][0]
	if len(s.batches) != 2 || len(s.batches[0]) != 2 || len(s.batches[1]) != 1 {
		t.Fatalf("unexpected batches: %v", s.batches)
	}
	if s.batches[1][0]["email"] != "c" {
		t.Errorf("records out of order: %v", s.batches)
	}

	r, _ := h.store.Get(h.runID)
	st := r.Streams["users"]
	if st.RecordsRead != 3 || st.BatchesSent != 2 {
		t.Errorf("unexpected stream stats: %+v", st)
	}
}

func TestProcessorStateAfterFlush(t *testing.T) {
	h := newHarness()
	input := strings.Join([]string{
		`{"type":"SCHEMA","stream":"users","schema":{},"key_properties":["email"]}`,
		`{"type":"SCHEMA","stream":"orders","schema":{},"key_properties":[]}`,
		`{"type":"RECORD","stream":"users","record":{"email":"a"}}`,
		`{"type":"RECORD","stream":"orders","record":{"id":1}}`,
		`{"type":"STATE","value":{"bookmarks":{"users":"a"}}}`,
		`{"type":"ACTIVATE_VERSION","stream":"users","version":1}`,
		`{"type":"RECORD","stream":"users","record":{"email":"b"}}`,
	}, "\n")

	if err := h.run(t, input, 100); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if got := h.out.String(); got != "{\"bookmarks\":{\"users\":\"a\"}}\n" {
		t.Errorf("state output = %q", got)
	}

	users := h.sinks["users"][0]
	if len(users.batches) != 2 {
		t.Fatalf("users batches = %d, want 2", len(users.batches))
	}
	// First batch flushed before the state was written
	if users.seenOut[0] != 0 {
		t.Error("state emitted before its records were written")
	}
	if len(h.sinks["orders"][0].batches) != 1 {
		t.Error("orders should be flushed on state")
	}

	r, _ := h.store.Get(h.runID)
	if r.StatesEmitted != 1 {
		t.Errorf("StatesEmitted = %d, want 1", r.StatesEmitted)
	}
}

func TestProcessorSchemaChangeRecreatesSink(t *testing.T) {
	h := newHarness()
	input := strings.Join([]string{
		`{"type":"SCHEMA","stream":"users","schema":{},"key_properties":["email"]}`,
		`{"type":"RECORD","stream":"users","record":{"email":"a"}}`,
		`{"type":"SCHEMA","stream":"users","schema":{},"key_properties":["email"]}`,
		`{"type":"RECORD","stream":"users","record":{"email":"b"}}`,
		`{"type":"SCHEMA","stream":"users","schema":{},"key_properties":["id"]}`,
		`{"type":"RECORD","stream":"users","record":{"id":"c"}}`,
	}, "\n")

	if err := h.run(t, input, 100); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	sinks := h.sinks["users"]
	if len(sinks) != 2 {
		t.Fatalf("sinks created = %d, want 2", len(sinks))
	}
	if len(sinks[0].batches) != 1 || len(sinks[0].batches[0]) != 2 {
		t.Errorf("old sink should receive the pending records: %v", sinks[0].batches)
	}
	if len(sinks[1].batches) != 1 || sinks[1].batches[0][0]["id"] != "c" {
		t.Errorf("new sink batches: %v", sinks[1].batches)
	}
	if h.keys["users"][0] != "id" {
		t.Errorf("key properties = %v", h.keys["users"])
	}
}

func TestProcessorRecordBeforeSchema(t *testing.T) {
	h := newHarness()
	err := h.run(t, `{"type":"RECORD","stream":"users","record":{"email":"a"}}`, 10)
	if err == nil || !strings.Contains(err.Error(), "before its schema") {
		t.Errorf("expected schema ordering error, got %v", err)
	}
}

func TestProcessorUnknownMessageType(t *testing.T) {
	h := newHarness()
	if err := h.run(t, `{"type":"BATCH","stream":"users"}`, 10); err == nil {
		t.Error("expected error for unsupported message type")
	}
}

func TestProcessorSinkError(t *testing.T) {
	h := newHarness()
	h.sinkErr = errors.New("create failed")
	input := strings.Join([]string{
		`{"type":"SCHEMA","stream":"users","schema":{},"key_properties":["email"]}`,
		`{"type":"RECORD","stream":"users","record":{"email":"a"}}`,
		`{"type":"STATE","value":{"n":1}}`,
	}, "\n")

	err := h.run(t, input, 10)
	if !errors.Is(err, h.sinkErr) {
		t.Fatalf("expected sink error, got %v", err)
	}
	if h.out.Len() != 0 {
		t.Error("state must not be emitted when its records failed")
	}
}

func TestRunObserver(t *testing.T) {
	store := job.NewStore()
	id := store.Start(true)

	o := &RunObserver{RunID: id, Store: store}
	o.PagesWritten("users", 2, 1)

	r, _ := store.Get(id)
	if st := r.Streams["users"]; st.PagesCreated != 2 || st.PagesSkipped != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestTimingsString(t *testing.T) {
	tm := NewTimings()
	if tm.String() != "No timings recorded" {
		t.Errorf("unexpected empty summary: %s", tm.String())
	}
	tm.ObserveBatch(10)
	if !strings.HasPrefix(tm.String(), "Batch: total=") {
		t.Errorf("unexpected summary: %s", tm.String())
	}
}

func TestProcessorCancelOnIdleInput(t *testing.T) {
	h := newHarness()
	pr, pw := io.Pipe()
	defer pw.Close()

	go func() {
		pw.Write([]byte(`{"type":"SCHEMA","stream":"users","schema":{},"key_properties":["email"]}` + "\n"))
		pw.Write([]byte(`{"type":"RECORD","stream":"users","record":{"email":"a"}}` + "\n"))
	}()

	parser := NewParser(pr)
	defer parser.Close()
	p := NewProcessor(h.runID, h.store, nil, parser, h.out, h.factory, 10)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Process(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Process still blocked after cancel")
	}
}
