// Package pagination encodes the opaque keyset cursors of the list endpoints.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const cursorSeparator = ":"

// EncodeCursor packs the (created_at, id) key of the last returned row.
func EncodeCursor(ts time.Time, id int64) string {
	key := strconv.FormatInt(ts.UTC().Unix(), 10) + cursorSeparator + strconv.FormatInt(id, 10)
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

// DecodeCursor reverses EncodeCursor.
func DecodeCursor(encoded string) (time.Time, int64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	secs, idPart, ok := strings.Cut(string(raw), cursorSeparator)
	if !ok {
		return time.Time{}, 0, fmt.Errorf("invalid cursor format")
	}
	unix, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("invalid timestamp in cursor: %w", err)
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return time.Time{}, 0, fmt.Errorf("invalid id in cursor: %q", idPart)
	}
	return time.Unix(unix, 0).UTC(), id, nil
}
