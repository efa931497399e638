package sink

import (
	"context"

	"github.com/ryabkov82/target-notion/internal/client"
)

// CreatePage creates one page in the sink's database. It is the only retried call:
// transient errors are retried according to sc.Retry, everything else is returned.
func CreatePage(ctx context.Context, sc *Context, properties map[string]any) error {
	req := client.CreatePageRequest{
		Parent:     client.Parent{DatabaseID: sc.DatabaseID},
		Properties: properties,
	}
	return sc.Retry.Do(ctx, func(ctx context.Context) error {
		_, err := sc.API.CreatePage(ctx, req)
		return err
	})
}
