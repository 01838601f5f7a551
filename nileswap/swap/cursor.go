package swap

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Browse cursors are opaque to clients: a base64 keyset position so a
// page boundary survives offers completing underneath it.
type cursor struct {
	CreatedAt int64 `json:"t"` // unix nanos
	ID        int64 `json:"id"`
}

func encodeCursor(createdAt time.Time, id int64) string {
	raw, _ := json.Marshal(cursor{CreatedAt: createdAt.UnixNano(), ID: id})
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(s string) (time.Time, int64, error) {
	if s == "" {
		return time.Time{}, 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var c cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if c.CreatedAt == 0 || c.ID == 0 {
		return time.Time{}, 0, fmt.Errorf("%w: missing position", ErrInvalidCursor)
	}
	return time.Unix(0, c.CreatedAt), c.ID, nil
}
