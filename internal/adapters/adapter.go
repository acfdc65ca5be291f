// Package adapters implements the source-adapter family: syndication feeds,
// rendered pages, and the YouTube channel adapter. Every adapter is a pure
// function of external state plus a since/now window; none of them persist
// anything.
package adapters

import (
	"context"
	"time"

	"newsdigest/internal/model"
)

// Item is the normalized union an adapter emits. Exactly one of Video or
// Web is non-nil.
type Item struct {
	Video *model.VideoItem
	Web   *model.WebItem
}

// PublishedAt returns the item's publish timestamp regardless of kind.
func (i Item) PublishedAt() time.Time {
	if i.Video != nil {
		return i.Video.PublishedAt
	}
	if i.Web != nil {
		return i.Web.PublishedAt
	}
	return time.Time{}
}

// Adapter fetches normalized items from one feed kind. Implementations
// must ignore entries whose published time falls outside [since, now]
// (syndication adapters tolerate five minutes of clock skew at either
// edge) and must remove duplicates found within a single call. Output order is
// reverse-chronological; an empty result is not an error.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, since, now time.Time) ([]Item, error)
}

// TranscriptFetcher is an optional capability some video adapters expose.
// The orchestrator invokes it only during the Process stage, after
// duplicates have already been dropped, so the cost is paid once per item
// that survives into the window.
type TranscriptFetcher interface {
	FetchTranscript(ctx context.Context, videoID string) (string, error)
}
