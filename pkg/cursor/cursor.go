// Package cursor implements keyset pagination that behaves identically
// across backends, including those with a capped result window.
package cursor

import (
	"encoding/base64"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Position is the decoded form of a cursor token. It is produced and
// consumed only by this package; callers treat tokens as opaque strings.
//
// Values holds the cursor column's boundary value(s). Offset tracks the
// page's distance from the natural order boundary so backends with a
// maximum result window can fall back to offset-based skip-forward.
type Position struct {
	Values   map[string]any `cbor:"v"`
	Offset   int            `cbor:"o,omitempty"`
	Backward bool           `cbor:"b,omitempty"`
}

// Positive integers must come back as int64, not uint64, or boundary
// values decoded from a token would no longer compare equal to the rows
// they were taken from.
var decMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{IntDec: cbor.IntDecConvertSigned}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// Encode serializes a Position into an opaque URL-safe token.
func Encode(p Position) (string, error) {
	raw, err := cbor.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode parses a token produced by Encode.
func Decode(token string) (*Position, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("malformed cursor token: %w", err)
	}
	var p Position
	if err := decMode.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("malformed cursor token: %w", err)
	}
	return &p, nil
}
