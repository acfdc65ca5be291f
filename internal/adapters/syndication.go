package adapters

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"time"

	"newsdigest/internal/apperror"
	"newsdigest/internal/model"
)

// SourceConfig is one entry in the source catalog. Adding a
// syndication source is a data change to this record, not a code change.
type SourceConfig struct {
	Name     string         `yaml:"name"`
	Kind     string         `yaml:"kind"` // syndication | rendered
	Category model.Category `yaml:"category"`
	Endpoint string         `yaml:"endpoint"`
	FeedURL  string         `yaml:"feed_url"`
	Mode     string         `yaml:"mode"` // rendered only: listing | single
}

// SyndicationAdapter fetches and parses a well-formed RSS/Atom document.
type SyndicationAdapter struct {
	cfg        SourceConfig
	httpClient *http.Client
	userAgent  string
}

// NewSyndicationAdapter builds an adapter for one syndication source.
func NewSyndicationAdapter(cfg SourceConfig, timeout time.Duration) *SyndicationAdapter {
	return &SyndicationAdapter{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		userAgent: "newsdigest/1.0",
	}
}

func (a *SyndicationAdapter) Name() string { return a.cfg.Name }

func (a *SyndicationAdapter) Fetch(ctx context.Context, since, now time.Time) ([]Item, error) {
	url := a.cfg.FeedURL
	if url == "" {
		url = a.cfg.Endpoint
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &apperror.FetchError{Source: a.cfg.Name, Kind: apperror.FetchNetwork, Retriable: false, Err: err}
	}
	req.Header.Set("User-Agent", a.userAgent)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &apperror.FetchError{Source: a.cfg.Name, Kind: apperror.FetchNetwork, Retriable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &apperror.FetchError{Source: a.cfg.Name, Kind: apperror.FetchHTTP, Retriable: true, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, &apperror.FetchError{Source: a.cfg.Name, Kind: apperror.FetchHTTP, Retriable: false, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, &apperror.FetchError{Source: a.cfg.Name, Kind: apperror.FetchNetwork, Retriable: true, Err: err}
	}

	parsed, err := parseFeed(body)
	if err != nil {
		return nil, &apperror.FetchError{Source: a.cfg.Name, Kind: apperror.FetchParse, Retriable: false, Err: err}
	}

	seen := make(map[string]bool, len(parsed.Entries))
	items := make([]Item, 0, len(parsed.Entries))
	for _, e := range parsed.Entries {
		published, ok := parsePublished(e.Published)
		if !ok {
			published = now
		}
		// tolerate up to 5 minutes of server clock skew at the window edge
		if published.Before(since.Add(-5*time.Minute)) || published.After(now.Add(5*time.Minute)) {
			continue
		}

		guid := e.GUID
		if guid == "" {
			guid = fmt.Sprintf("%x", sha256.Sum256([]byte(a.cfg.Name+":"+e.Link)))
		}
		if seen[guid] {
			continue
		}
		seen[guid] = true

		items = append(items, Item{Web: &model.WebItem{
			GUID:        guid,
			SourceName:  a.cfg.Name,
			Title:       e.Title,
			URL:         e.Link,
			Description: truncate(e.Description, 1000),
			PublishedAt: published,
			Category:    a.cfg.Category,
			Content:     e.Content,
		}})
	}

	// reverse-chronological, per the adapter contract
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	sortItemsDesc(items)

	return items, nil
}

func sortItemsDesc(items []Item) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].PublishedAt().After(items[j-1].PublishedAt()); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
