package sink

import (
	"context"
	"fmt"
	"sort"
)

// PropertyType is the declared type of a database property
type PropertyType string

const (
	TypeTitle       PropertyType = "title"
	TypeRichText    PropertyType = "rich_text"
	TypeNumber      PropertyType = "number"
	TypeSelect      PropertyType = "select"
	TypeMultiSelect PropertyType = "multi_select"
	TypeDate        PropertyType = "date"
	TypePeople      PropertyType = "people"
	TypeFiles       PropertyType = "files"
	TypeCheckbox    PropertyType = "checkbox"
	TypeURL         PropertyType = "url"
	TypeEmail       PropertyType = "email"
	TypePhoneNumber PropertyType = "phone_number"
	TypeRelation    PropertyType = "relation"
)

// SchemaEntry describes one database property under its canonical key
type SchemaEntry struct {
	CanonicalKey string
	DisplayName  string
	Type         PropertyType
}

// Schema maps canonical keys to database properties
type Schema map[string]SchemaEntry

// ResolveSchema reads the database definition once and indexes its properties by
// canonical key. Errors are returned as-is and are not retried.
// If two display names normalize to the same key, the one that sorts last wins.
func ResolveSchema(ctx context.Context, api Remote, databaseID string) (Schema, error) {
	db, err := api.RetrieveDatabase(ctx, databaseID)
	if err != nil {
		return nil, fmt.Errorf("retrieve database %s: %w", databaseID, err)
	}

	names := make([]string, 0, len(db.Properties))
	for name := range db.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	schema := make(Schema, len(names))
	for _, name := range names {
		prop := db.Properties[name]
		key := Normalize(name)
		schema[key] = SchemaEntry{
			CanonicalKey: key,
			DisplayName:  name,
			Type:         PropertyType(prop.Type),
		}
	}
	return schema, nil
}
