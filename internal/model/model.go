// Package model holds the domain entities shared across the pipeline.
package model

import "time"

// ArticleKind distinguishes the two source families an item can come from.
type ArticleKind string

const (
	KindVideo ArticleKind = "video"
	KindWeb   ArticleKind = "web"
)

// Category classifies a WebItem by the kind of source it came from.
type Category string

const (
	CategoryOfficial Category = "official"
	CategoryResearch Category = "research"
	CategoryNews     Category = "news"
	CategorySafety   Category = "safety"
)

// VideoItem is a normalized item from a video source. Identity: VideoID.
type VideoItem struct {
	VideoID     string
	Title       string
	URL         string
	ChannelID   string
	PublishedAt time.Time
	Description string
	Transcript  string // optional; empty until enriched
	DurationSec int
	CreatedAt   time.Time
}

// WebItem is a normalized item from a syndicated or rendered web source.
// Identity: GUID.
type WebItem struct {
	GUID        string
	SourceName  string
	Title       string
	URL         string
	Description string
	PublishedAt time.Time
	Category    Category
	Content     string // optional markdown body
	CreatedAt   time.Time
}

// Summary is a model-produced description of a VideoItem or WebItem.
// Identity: (ArticleKind, ArticleID).
type Summary struct {
	ArticleKind ArticleKind
	ArticleID   string
	URL         string
	Title       string
	Text        string
	CreatedAt   time.Time
	// DuplicateOf holds the record_id of the existing near-duplicate
	// VectorRecord this summary's text matched, if any.
	DuplicateOf string
	// Degraded marks a Summary produced via a fallback path (e.g.
	// metadata-only analysis because the full content was too large).
	Degraded bool
}

// RecordID is the VectorRecord identity: "<kind>:<id>".
func (s Summary) RecordID() string {
	return string(s.ArticleKind) + ":" + s.ArticleID
}

// VectorRecord is an embedding plus metadata, one-to-one with a Summary.
type VectorRecord struct {
	RecordID    string
	Embedding   []float32
	ArticleKind ArticleKind
	URL         string
	Title       string
	Category    Category
	SourceName  string
	PublishedAt time.Time
}

// UserProfile is process-wide, read-only configuration describing the
// recipient the ranker and mailer personalize for.
type UserProfile struct {
	Name           string
	Background     string
	Interests      []string
	ExpertiseLevel string // beginner | intermediate | advanced
	Avoidances     []string
}

// RunState is the terminal or in-flight state of a pipeline run.
type RunState string

const (
	RunScrape    RunState = "scrape"
	RunProcess   RunState = "process"
	RunDigest    RunState = "digest"
	RunIndex     RunState = "index"
	RunRank      RunState = "rank"
	RunEmail     RunState = "email"
	RunDone      RunState = "done"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
)

// StageCounters tracks per-stage outcomes for a run.
type StageCounters struct {
	Scraped        int
	New            int
	Summarized     int
	Indexed        int
	Ranked         int
	Emailed        int
	Processed      int // transcripts enriched during the Process stage
	Rendered       int // skip-email digests rendered during the Email stage
	Skipped        int
	FailedByKind   map[string]int
	FailedAdapters []string
	RetriesByStage map[string]int
}

// RunRecord is the durable record of one pipeline invocation.
type RunRecord struct {
	RunID        int64
	StartedAt    time.Time
	FinishedAt   time.Time
	WindowHours  int
	TopN         int
	State        RunState
	Counters     StageCounters
	ErrorSummary string
}

// RankedItem is the ranker's output for one candidate in the window.
type RankedItem struct {
	Summary     Summary
	Score       float64
	SubScores   SubScores
	Reasoning   string
	PublishedAt time.Time
	Category    Category
	SourceName  string
	Degraded    bool
}

// SubScores are the per-criterion components behind a ranked item's score.
type SubScores struct {
	Relevance     float64
	Depth         float64
	Novelty       float64
	Alignment     float64
	Actionability float64
}

// NeighborResult is one hit from a semantic retrieval query.
type NeighborResult struct {
	RecordID    string
	Score       float64 // cosine similarity, higher is closer
	Title       string
	URL         string
	Category    Category
	SourceName  string
	PublishedAt time.Time
}

// SearchHit pairs a Summary with the similarity score search() matched it
// on, so a caller sees the text, not just the index's metadata.
type SearchHit struct {
	Summary Summary
	Score   float64
}

// SummaryPage is one page of a window-scoped Summaries listing.
type SummaryPage struct {
	Summaries []Summary
	Page      int
	PageSize  int
	Total     int
}

// StoreCounts is the row-count snapshot stats() reports. ByCategory and
// BySource break down web items the way a scrape run's own end-of-run
// summary does — video items carry neither field, so they're counted
// under VideoItems only.
type StoreCounts struct {
	VideoItems int
	WebItems   int
	Summaries  int
	Duplicates int
	ByCategory map[string]int
	BySource   map[string]int
}

// Stats is the aggregate view stats() returns: row counts, the most recent
// run (nil if none has ever happened), and per-stage queue depths.
type Stats struct {
	Counts      StoreCounts
	LastRun     *RunRecord
	QueueDepths map[string]int
}
