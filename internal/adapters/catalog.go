package adapters

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"newsdigest/internal/apperror"
)

// Catalog is the configuration-data form of the source list:
// adding a syndication source is a change to the YAML catalog file, not to
// the code.
// The shape mirrors an official/research/news/safety grouping of sources.
type Catalog struct {
	Sources []SourceConfig `yaml:"sources"`
}

// LoadCatalog reads the YAML source catalog from path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &apperror.ConfigError{Field: "sources_file", Err: err}
	}
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, &apperror.ConfigError{Field: "sources_file", Err: err}
	}
	for _, s := range cat.Sources {
		if s.Name == "" {
			return nil, &apperror.ConfigError{Field: "sources_file", Err: fmt.Errorf("source entry missing name")}
		}
		if s.Kind != "syndication" && s.Kind != "rendered" {
			return nil, &apperror.ConfigError{Field: "sources_file", Err: fmt.Errorf("source %s: unknown kind %q", s.Name, s.Kind)}
		}
	}
	return &cat, nil
}

// BuildAdapters turns the catalog into concrete Adapter implementations,
// using fetchTimeout for syndication adapters and renderTimeout plus the
// shared render pool size for rendered-page adapters. Every rendered
// adapter shares one renderPoolSize-capacity semaphore, so a scrape pass
// never runs more than renderPoolSize headless browsers concurrently no
// matter how many rendered sources the catalog lists.
func (c *Catalog) BuildAdapters(fetchTimeout, renderTimeout time.Duration, renderPoolSize int) []Adapter {
	if renderPoolSize <= 0 {
		renderPoolSize = 1
	}
	renderSem := make(chan struct{}, renderPoolSize)

	adapters := make([]Adapter, 0, len(c.Sources))
	for _, s := range c.Sources {
		switch s.Kind {
		case "syndication":
			adapters = append(adapters, NewSyndicationAdapter(s, fetchTimeout))
		case "rendered":
			adapters = append(adapters, NewRenderedAdapter(s, renderTimeout, renderSem))
		}
	}
	return adapters
}

// CountsByCategory groups the catalog by category, the shape stats() uses
// for its source/category breakdown.
func (c *Catalog) CountsByCategory() map[string]int {
	counts := make(map[string]int)
	for _, s := range c.Sources {
		counts[string(s.Category)]++
	}
	return counts
}
