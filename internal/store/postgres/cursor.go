package postgres

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/priceverse/priceverse/internal/domain"
)

// Cursors are the base64 encoding of a boundary row's period start in
// ISO-8601, so they stay opaque to clients but debuggable on the wire.

// EncodeCursor encodes a period start as an opaque cursor.
func EncodeCursor(t time.Time) string {
	return base64.StdEncoding.EncodeToString([]byte(t.UTC().Format(time.RFC3339)))
}

// DecodeCursor decodes an opaque cursor back into a period start.
func DecodeCursor(cursor string) (time.Time, error) {
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, domain.ErrInvalidParams.Wrap(fmt.Errorf("decode cursor: %w", err))
	}
	t, err := time.Parse(time.RFC3339, string(raw))
	if err != nil {
		return time.Time{}, domain.ErrInvalidParams.Wrap(fmt.Errorf("parse cursor: %w", err))
	}
	return t.UTC(), nil
}
