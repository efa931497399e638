package sink

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ryabkov82/target-notion/internal/client"
)

// Remote is the part of the Notion API the sink depends on
type Remote interface {
	RetrieveDatabase(ctx context.Context, databaseID string) (*client.Database, error)
	QueryDatabase(ctx context.Context, databaseID string, req client.QueryRequest) (*client.QueryResponse, error)
	CreatePage(ctx context.Context, req client.CreatePageRequest) (*client.Page, error)
}

// Observer is notified about pages written by a sink
type Observer interface {
	PagesWritten(stream string, created, skipped int)
}

// Sink writes batches of records for one stream
type Sink interface {
	ProcessBatch(ctx context.Context, records []Record) error
}

// ErrNoKeyProperty is returned when deduplication is requested for a stream without key properties
var ErrNoKeyProperty = errors.New("stream declares no key properties")

// Context is everything a sink needs, built once at startup and read-only afterwards
type Context struct {
	API        Remote
	Stream     string
	DatabaseID string
	Schema     Schema
	Key        *SchemaEntry // First key property of the stream, nil if none
	Retry      client.RetryPolicy
	Observer   Observer // Optional
}

// NewContext resolves the database schema and the stream's key property.
// The key is the first entry of keyProperties; it must exist in the database.
func NewContext(ctx context.Context, api Remote, stream, databaseID string, keyProperties []string, retry client.RetryPolicy) (*Context, error) {
	schema, err := ResolveSchema(ctx, api, databaseID)
	if err != nil {
		return nil, err
	}

	sc := &Context{
		API:        api,
		Stream:     stream,
		DatabaseID: databaseID,
		Schema:     schema,
		Retry:      retry,
	}

	if len(keyProperties) > 0 {
		canonical := Normalize(keyProperties[0])
		entry, ok := schema[canonical]
		if !ok {
			return nil, fmt.Errorf("key property %s (%s) not found in database %s", keyProperties[0], canonical, databaseID)
		}
		sc.Key = &entry
	}

	return sc, nil
}

func (sc *Context) report(created, skipped int) {
	if sc.Observer != nil {
		sc.Observer.PagesWritten(sc.Stream, created, skipped)
	}
}

// BatchSink deduplicates each batch against the database before creating pages.
// Existing pages are never updated.
type BatchSink struct {
	sc *Context
}

// NewBatchSink creates a deduplicating sink. The stream must have a key property
// with a filterable type.
func NewBatchSink(sc *Context) (*BatchSink, error) {
	if sc.Key == nil {
		return nil, fmt.Errorf("stream %s: %w", sc.Stream, ErrNoKeyProperty)
	}
	if err := ValidateKeyEntry(*sc.Key); err != nil {
		return nil, fmt.Errorf("stream %s: %w", sc.Stream, err)
	}
	return &BatchSink{sc: sc}, nil
}

// ProcessBatch creates pages for records whose key is not yet in the database,
// one at a time and in order. The first failure aborts the rest of the batch.
func (s *BatchSink) ProcessBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	normalized := make([]Record, len(records))
	for i, rec := range records {
		normalized[i] = NormalizeRecord(rec)
	}

	key := *s.sc.Key
	existing, err := ResolveExisting(ctx, s.sc.API, s.sc.DatabaseID, key, normalized)
	if err != nil {
		return err
	}

	filtered := make([]Record, 0, len(normalized))
	for _, rec := range normalized {
		value := KeyValue(key.Type, rec[key.CanonicalKey])
		if _, ok := existing[value]; ok && value != "" {
			continue
		}
		filtered = append(filtered, rec)
	}

	log.Printf("%s: Creating %d/%d pages.", s.sc.Stream, len(filtered), len(normalized))

	skipped := len(normalized) - len(filtered)
	for i, rec := range filtered {
		if err := writeRecord(ctx, s.sc, rec); err != nil {
			s.sc.report(i, skipped)
			return err
		}
	}
	s.sc.report(len(filtered), skipped)
	return nil
}

// ImmediateSink creates a page for every record without looking for existing ones.
// Re-running the same input creates duplicates.
type ImmediateSink struct {
	sc *Context
}

// NewImmediateSink creates a non-deduplicating sink
func NewImmediateSink(sc *Context) *ImmediateSink {
	return &ImmediateSink{sc: sc}
}

// ProcessBatch writes each record as soon as it is reached
func (s *ImmediateSink) ProcessBatch(ctx context.Context, records []Record) error {
	for _, rec := range records {
		if err := writeRecord(ctx, s.sc, NormalizeRecord(rec)); err != nil {
			return err
		}
		s.sc.report(1, 0)
	}
	return nil
}

func writeRecord(ctx context.Context, sc *Context, rec Record) error {
	props, err := BuildProperties(sc.Schema, rec)
	if err != nil {
		return fmt.Errorf("stream %s: %w", sc.Stream, err)
	}
	if err := CreatePage(ctx, sc, props); err != nil {
		return fmt.Errorf("stream %s: create page: %w", sc.Stream, err)
	}
	return nil
}
