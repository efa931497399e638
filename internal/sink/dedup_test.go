package sink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryabkov82/target-notion/internal/client"
)

var nameKey = SchemaEntry{CanonicalKey: "name", DisplayName: "Name", Type: TypeTitle}

func TestResolveExistingPaginates(t *testing.T) {
	api := newFakeRemote(nil)
	api.pages = [][]client.Page{
		{titlePage("id-a", "Name", "A"), titlePage("id-b", "Name", "B")},
		{},
		{titlePage("id-c", "Name", "C"), titlePage("id-b2", "Name", "B")},
	}

	records := []Record{{"name": "A"}, {"name": "B"}, {"name": "C"}, {"name": "D"}}
	index, err := ResolveExisting(context.Background(), api, "db-1", nameKey, records)
	require.NoError(t, err)

	assert.Equal(t, ExistingIndex{"A": "id-a", "B": "id-b2", "C": "id-c"}, index)

	require.Len(t, api.queries, 3)
	assert.Equal(t, "", api.queries[0].StartCursor)
	assert.Equal(t, "cursor-1", api.queries[1].StartCursor)
	assert.Equal(t, "cursor-2", api.queries[2].StartCursor)
	assert.Equal(t, queryPageSize, api.queries[0].PageSize)
}

func TestResolveExistingBuildsOrFilter(t *testing.T) {
	api := newFakeRemote(nil)

	records := []Record{{"name": "A"}, {"name": ""}, {"other": "x"}, {"name": "B"}, {"name": "A"}}
	_, err := ResolveExisting(context.Background(), api, "db-1", nameKey, records)
	require.NoError(t, err)

	require.Len(t, api.queries, 1)
	b, err := json.Marshal(api.queries[0].Filter)
	require.NoError(t, err)
	assert.JSONEq(t, `{"or":[
		{"property":"Name","title":{"equals":"A"}},
		{"property":"Name","title":{"equals":"B"}},
		{"property":"Name","title":{"equals":"A"}}
	]}`, string(b))
}

func TestResolveExistingEmptyBatchSkipsQuery(t *testing.T) {
	api := newFakeRemote(nil)

	index, err := ResolveExisting(context.Background(), api, "db-1", nameKey, nil)
	require.NoError(t, err)
	assert.Empty(t, index)

	index, err = ResolveExisting(context.Background(), api, "db-1", nameKey, []Record{{"name": ""}})
	require.NoError(t, err)
	assert.Empty(t, index)
	assert.Empty(t, api.queries)
}

func TestResolveExistingQueryErrorNotRetried(t *testing.T) {
	api := newFakeRemote(nil)
	api.queryErr = &client.HTTPError{Operation: client.OpQueryDatabase, StatusCode: 503}

	_, err := ResolveExisting(context.Background(), api, "db-1", nameKey, []Record{{"name": "A"}})
	require.Error(t, err)
	assert.Len(t, api.queries, 1)
}

type cursorlessRemote struct {
	*fakeRemote
}

func (c cursorlessRemote) QueryDatabase(ctx context.Context, databaseID string, req client.QueryRequest) (*client.QueryResponse, error) {
	return &client.QueryResponse{HasMore: true}, nil
}

func TestResolveExistingMissingCursor(t *testing.T) {
	api := cursorlessRemote{newFakeRemote(nil)}
	_, err := ResolveExisting(context.Background(), api, "db-1", nameKey, []Record{{"name": "A"}})
	assert.True(t, errors.Is(err, ErrMissingCursor))
}

func TestResolveExistingNumberKey(t *testing.T) {
	key := SchemaEntry{CanonicalKey: "id", DisplayName: "ID", Type: TypeNumber}
	api := newFakeRemote(nil)
	api.pages = [][]client.Page{{
		{ID: "p5", Properties: map[string]json.RawMessage{"ID": json.RawMessage(`{"type":"number","number":5}`)}},
	}}

	records := []Record{{"id": json.Number("5")}, {"id": json.Number("6.0")}}
	index, err := ResolveExisting(context.Background(), api, "db-1", key, records)
	require.NoError(t, err)
	assert.Equal(t, ExistingIndex{"5": "p5"}, index)

	b, _ := json.Marshal(api.queries[0].Filter)
	assert.JSONEq(t, `{"or":[{"property":"ID","number":{"equals":5}},{"property":"ID","number":{"equals":6}}]}`, string(b))

	assert.Equal(t, "5", KeyValue(TypeNumber, json.Number("5.0")))
	assert.Equal(t, "5", KeyValue(TypeNumber, "5"))
}

func TestExtractKeyRichText(t *testing.T) {
	raw := json.RawMessage(`{"type":"rich_text","rich_text":[{"plain_text":"Foo "},{"text":{"content":"Bar"}}]}`)
	got, ok := extractKey(TypeRichText, raw)
	assert.True(t, ok)
	assert.Equal(t, "Foo Bar", got)

	_, ok = extractKey(TypeTitle, json.RawMessage(`{"type":"title","title":[]}`))
	assert.False(t, ok)
}

func TestValidateKeyEntry(t *testing.T) {
	assert.NoError(t, ValidateKeyEntry(nameKey))
	assert.Error(t, ValidateKeyEntry(SchemaEntry{DisplayName: "Tags", Type: TypeMultiSelect}))
}
