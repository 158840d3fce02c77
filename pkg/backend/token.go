package backend

import "github.com/oklog/ulid/v2"

// NewFrameToken returns a cache-busting token for screenshot references.
//
// ULIDs are lexicographically sortable and the default entropy source is
// monotonic within a millisecond, so two tokens minted back-to-back in
// the same clock tick still differ and still sort in mint order. The
// token carries no identity; it exists only so image surfaces re-fetch.
func NewFrameToken() string {
	return ulid.Make().String()
}
