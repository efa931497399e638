package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ryabkov82/target-notion/internal/client"
)

// fakeRemote serves a fixed schema, a fixed sequence of query pages and records creates
type fakeRemote struct {
	db       *client.Database
	dbErr    error
	pages    [][]client.Page
	queryErr error
	queries  []client.QueryRequest

	createErrs  []error // consumed one per call; nil entries succeed
	createCalls int
	created     []client.CreatePageRequest
}

func newFakeRemote(props map[string]string) *fakeRemote {
	db := &client.Database{ID: "db-1", Properties: map[string]client.DatabaseProperty{}}
	for name, typ := range props {
		db.Properties[name] = client.DatabaseProperty{ID: name, Name: name, Type: typ}
	}
	return &fakeRemote{db: db}
}

func (f *fakeRemote) RetrieveDatabase(ctx context.Context, databaseID string) (*client.Database, error) {
	if f.dbErr != nil {
		return nil, f.dbErr
	}
	return f.db, nil
}

func (f *fakeRemote) QueryDatabase(ctx context.Context, databaseID string, req client.QueryRequest) (*client.QueryResponse, error) {
	f.queries = append(f.queries, req)
	if f.queryErr != nil {
		return nil, f.queryErr
	}

	i := len(f.queries) - 1
	if i >= len(f.pages) {
		return &client.QueryResponse{}, nil
	}
	resp := &client.QueryResponse{Results: f.pages[i], HasMore: i < len(f.pages)-1}
	if resp.HasMore {
		cursor := fmt.Sprintf("cursor-%d", i+1)
		resp.NextCursor = &cursor
	}
	return resp, nil
}

func (f *fakeRemote) CreatePage(ctx context.Context, req client.CreatePageRequest) (*client.Page, error) {
	f.createCalls++
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	f.created = append(f.created, req)
	return &client.Page{ID: fmt.Sprintf("page-%d", len(f.created))}, nil
}

func titlePage(id, property, value string) client.Page {
	raw := fmt.Sprintf(`{"id":"x","type":"title","title":[{"type":"text","text":{"content":%q},"plain_text":%q}]}`, value, value)
	return client.Page{ID: id, Properties: map[string]json.RawMessage{property: json.RawMessage(raw)}}
}

// noSleep returns a retry policy that records delays instead of waiting
func noSleep(delays *[]time.Duration) client.RetryPolicy {
	p := client.DefaultCreatePolicy()
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return p
}

type countingObserver struct {
	created, skipped int
}

func (o *countingObserver) PagesWritten(stream string, created, skipped int) {
	o.created += created
	o.skipped += skipped
}
