package storefront

import (
	"context"
	"fmt"

	"github.com/abgdnv/storefront/internal/kv"
)

// Clipboard keeps the last link copied by an operator in the session's durable slot,
// where the operator's client picks it up.
type Clipboard struct {
	slots kv.Store
	key   string
}

func NewClipboard(slots kv.Store, sessionID string) *Clipboard {
	return &Clipboard{slots: slots, key: "clipboard:" + sessionID}
}

func (c *Clipboard) Copy(ctx context.Context, text string) error {
	if err := c.slots.Set(ctx, c.key, text); err != nil {
		return fmt.Errorf("failed to copy to clipboard: %w", err)
	}
	return nil
}

// Paste returns the last copied text. Returns errors.ErrNotFound if nothing was copied.
func (c *Clipboard) Paste(ctx context.Context) (string, error) {
	return c.slots.Get(ctx, c.key)
}
