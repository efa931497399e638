package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/ryabkov82/target-notion/internal/client"
)

// queryPageSize is the largest page the query endpoint accepts
const queryPageSize = 100

// ExistingIndex maps key values to the IDs of pages that already carry them
type ExistingIndex map[string]string

// ErrMissingCursor is returned when a query page claims more results but has no cursor
var ErrMissingCursor = errors.New("query response has more results but no next_cursor")

// keyFilterTypes lists the declared types a dedup key property may have
var keyFilterTypes = map[PropertyType]bool{
	TypeTitle:       true,
	TypeRichText:    true,
	TypeURL:         true,
	TypeEmail:       true,
	TypePhoneNumber: true,
	TypeNumber:      true,
}

// ValidateKeyEntry checks that entry can be used as the dedup key
func ValidateKeyEntry(entry SchemaEntry) error {
	if !keyFilterTypes[entry.Type] {
		return fmt.Errorf("key property %s has type %s, which cannot be filtered for equality", entry.DisplayName, entry.Type)
	}
	return nil
}

// KeyValue renders a record's key value in the form used by ExistingIndex.
// Numbers are canonicalised so that 5, "5" and 5.0 match.
func KeyValue(t PropertyType, value any) string {
	if value == nil {
		return ""
	}
	if t == TypeNumber {
		if f, err := cast.ToFloat64E(value); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
	}
	return stringify(value)
}

// ResolveExisting looks up pages whose key property equals the key value of any
// record in the batch. Records must already be normalized. The query is paginated
// until has_more is false; later pages overwrite earlier entries for the same key.
// A batch with no key values returns an empty index without calling the API.
func ResolveExisting(ctx context.Context, api Remote, databaseID string, key SchemaEntry, records []Record) (ExistingIndex, error) {
	index := make(ExistingIndex)

	clauses := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		value, ok := rec[key.CanonicalKey]
		if !ok {
			continue
		}
		clause, ok := equalsClause(key, value)
		if !ok {
			continue
		}
		clauses = append(clauses, clause)
	}
	if len(clauses) == 0 {
		return index, nil
	}

	req := client.QueryRequest{
		Filter:   map[string]any{"or": clauses},
		PageSize: queryPageSize,
	}
	for {
		resp, err := api.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("query existing pages: %w", err)
		}

		for _, page := range resp.Results {
			raw, ok := page.Properties[key.DisplayName]
			if !ok {
				continue
			}
			if value, ok := extractKey(key.Type, raw); ok {
				index[value] = page.ID
			}
		}

		if !resp.HasMore {
			break
		}
		if resp.NextCursor == nil || *resp.NextCursor == "" {
			return nil, ErrMissingCursor
		}
		req.StartCursor = *resp.NextCursor
	}

	return index, nil
}

// equalsClause builds {"property": name, <type>: {"equals": value}}
func equalsClause(key SchemaEntry, value any) (map[string]any, bool) {
	var operand any
	if key.Type == TypeNumber {
		if value == nil {
			return nil, false
		}
		f, err := cast.ToFloat64E(value)
		if err != nil {
			return nil, false
		}
		operand = f
	} else {
		s := KeyValue(key.Type, value)
		if s == "" {
			return nil, false
		}
		operand = s
	}

	return map[string]any{
		"property":       key.DisplayName,
		string(key.Type): map[string]any{"equals": operand},
	}, true
}

type richTextItem struct {
	PlainText string `json:"plain_text"`
	Text      *struct {
		Content string `json:"content"`
	} `json:"text"`
}

type keyPropertyValue struct {
	Title       []richTextItem `json:"title"`
	RichText    []richTextItem `json:"rich_text"`
	URL         *string        `json:"url"`
	Email       *string        `json:"email"`
	PhoneNumber *string        `json:"phone_number"`
	Number      *float64       `json:"number"`
}

// extractKey reads the key value out of a page property according to its type
func extractKey(t PropertyType, raw json.RawMessage) (string, bool) {
	var v keyPropertyValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}

	var s string
	switch t {
	case TypeTitle:
		s = joinRichText(v.Title)
	case TypeRichText:
		s = joinRichText(v.RichText)
	case TypeURL:
		s = derefString(v.URL)
	case TypeEmail:
		s = derefString(v.Email)
	case TypePhoneNumber:
		s = derefString(v.PhoneNumber)
	case TypeNumber:
		if v.Number == nil {
			return "", false
		}
		s = strconv.FormatFloat(*v.Number, 'f', -1, 64)
	}
	return s, s != ""
}

func joinRichText(items []richTextItem) string {
	var b strings.Builder
	for _, item := range items {
		switch {
		case item.PlainText != "":
			b.WriteString(item.PlainText)
		case item.Text != nil:
			b.WriteString(item.Text.Content)
		}
	}
	return b.String()
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
