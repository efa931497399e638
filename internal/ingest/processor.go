package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"slices"
	"time"

	"github.com/ryabkov82/target-notion/internal/job"
	"github.com/ryabkov82/target-notion/internal/metrics"
	"github.com/ryabkov82/target-notion/internal/sink"
)

// SinkFactory builds the sink for a stream when its SCHEMA message arrives
type SinkFactory func(ctx context.Context, stream string, keyProperties []string) (sink.Sink, error)

// streamState holds the sink and pending records of one stream
type streamState struct {
	keyProperties []string
	sink          sink.Sink
	pending       []sink.Record
	batchNo       int64
}

// Processor routes Singer messages to per-stream sinks and batches records
type Processor struct {
	runID     string
	store     *job.Store
	metrics   *metrics.Metrics
	parser    *Parser
	out       io.Writer
	newSink   SinkFactory
	batchSize int
	streams   map[string]*streamState
	order     []string // streams in order of first SCHEMA
	timings   *Timings
}

// NewProcessor creates a new processor. State messages are written to out.
func NewProcessor(runID string, store *job.Store, m *metrics.Metrics, parser *Parser, out io.Writer, newSink SinkFactory, batchSize int) *Processor {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Processor{
		runID:     runID,
		store:     store,
		metrics:   m,
		parser:    parser,
		out:       out,
		newSink:   newSink,
		batchSize: batchSize,
		streams:   make(map[string]*streamState),
		timings:   NewTimings(),
	}
}

// Timings returns the stage timings collected so far
func (p *Processor) Timings() *Timings {
	return p.timings
}

// Process reads messages until end of input, writing every record.
// Run status is left to the caller.
func (p *Processor) Process(ctx context.Context) error {
	for {
		start := time.Now()
		msg, err := p.parser.ReadMessage(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		p.timings.ObserveRead(time.Since(start))

		if err := p.handle(ctx, msg); err != nil {
			return err
		}
	}

	return p.flushAll(ctx)
}

func (p *Processor) handle(ctx context.Context, msg *Message) error {
	switch msg.Type {
	case MessageSchema:
		return p.handleSchema(ctx, msg)
	case MessageRecord:
		return p.handleRecord(ctx, msg)
	case MessageState:
		return p.handleState(ctx, msg)
	case MessageActivateVersion:
		// Versioned replication is not supported; pages are only appended
		return nil
	default:
		return fmt.Errorf("line %d: unsupported message type %q", p.parser.GetLineNo(), msg.Type)
	}
}

func (p *Processor) handleSchema(ctx context.Context, msg *Message) error {
	if msg.Stream == "" {
		return fmt.Errorf("line %d: schema message without stream", p.parser.GetLineNo())
	}

	st, ok := p.streams[msg.Stream]
	if ok && slices.Equal(st.keyProperties, msg.KeyProperties) {
		return nil
	}

	// Key properties changed: drain what the old sink owns before replacing it
	if ok {
		if err := p.flush(ctx, msg.Stream, st); err != nil {
			return err
		}
	}

	start := time.Now()
	s, err := p.newSink(ctx, msg.Stream, msg.KeyProperties)
	if err != nil {
		return fmt.Errorf("stream %s: %w", msg.Stream, err)
	}
	p.timings.ObserveSetup(time.Since(start))

	if !ok {
		st = &streamState{}
		p.streams[msg.Stream] = st
		p.order = append(p.order, msg.Stream)
	}
	st.keyProperties = msg.KeyProperties
	st.sink = s
	return nil
}

func (p *Processor) handleRecord(ctx context.Context, msg *Message) error {
	st, ok := p.streams[msg.Stream]
	if !ok {
		return fmt.Errorf("line %d: record for stream %s received before its schema", p.parser.GetLineNo(), msg.Stream)
	}

	record := msg.Record
	if record == nil {
		record = sink.Record{}
	}
	st.pending = append(st.pending, record)
	p.store.AddRecordsRead(p.runID, msg.Stream, 1)

	if len(st.pending) >= p.batchSize {
		return p.flush(ctx, msg.Stream, st)
	}
	return nil
}

// handleState drains every stream, then emits the state so it never runs ahead of written pages
func (p *Processor) handleState(ctx context.Context, msg *Message) error {
	if err := p.flushAll(ctx); err != nil {
		return err
	}
	if len(msg.Value) == 0 {
		return nil
	}

	line := append([]byte(msg.Value), '\n')
	if _, err := p.out.Write(line); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	p.store.IncStatesEmitted(p.runID)
	return nil
}

func (p *Processor) flushAll(ctx context.Context) error {
	for _, stream := range p.order {
		if err := p.flush(ctx, stream, p.streams[stream]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) flush(ctx context.Context, stream string, st *streamState) error {
	if len(st.pending) == 0 {
		return nil
	}

	st.batchNo++
	p.store.UpdateBatchProgress(p.runID, stream, st.batchNo, false)

	start := time.Now()
	err := st.sink.ProcessBatch(ctx, st.pending)
	elapsed := time.Since(start)
	p.timings.ObserveBatch(elapsed)
	p.metrics.ObserveBatch(stream, elapsed)

	if err != nil {
		return fmt.Errorf("stream %s batch %d: %w", stream, st.batchNo, err)
	}

	p.store.UpdateBatchProgress(p.runID, stream, st.batchNo, true)
	log.Printf("%s: batch %d written (%d records, %v)", stream, st.batchNo, len(st.pending), elapsed)
	st.pending = nil
	return nil
}

// RunObserver forwards page counts from sinks to the run store and metrics
type RunObserver struct {
	RunID   string
	Store   *job.Store
	Metrics *metrics.Metrics
}

// PagesWritten implements sink.Observer
func (o *RunObserver) PagesWritten(stream string, created, skipped int) {
	o.Store.AddPages(o.RunID, stream, int64(created), int64(skipped))
	o.Metrics.AddPages(stream, created, skipped)
}
