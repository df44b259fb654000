package domain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Cursor identifies the last row of a page by its sort key and id.
type Cursor struct {
	SortKey string `json:"k"`
	ID      string `json:"id"`
}

func (c *Cursor) IsZero() bool {
	return c == nil || (c.SortKey == "" && c.ID == "")
}

// Encode returns the opaque transport form of the cursor.
func (c *Cursor) Encode() string {
	if c.IsZero() {
		return ""
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor parses a cursor produced by Encode. An empty string yields nil.
func DecodeCursor(s string) (*Cursor, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", ErrValidation)
	}

	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", ErrValidation)
	}
	if c.ID == "" {
		return nil, fmt.Errorf("%w: cursor id is required", ErrValidation)
	}
	return &c, nil
}
