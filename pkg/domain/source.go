package domain

import "time"

// ProtocolKind identifies the collection protocol of a source
type ProtocolKind string

// supported source protocols, fixed set - adding a new protocol requires a new collector
const (
	ProtocolAPI  ProtocolKind = "api"
	ProtocolFeed ProtocolKind = "feed"
	ProtocolWeb  ProtocolKind = "web"
)

// SourceSpec describes a single configured source. Built from configuration at
// startup, never mutated afterwards; shared read-only by all collectors.
type SourceSpec struct {
	ID            string
	Name          string
	Protocol      ProtocolKind
	Endpoint      string            // base URL, may contain a {keywords} placeholder
	QueryTemplate string            // query expression template with a {keywords} placeholder
	ParserID      string            // selects the payload parser within the protocol family
	RateLimit     float64           // requests per second, 0 means unlimited
	MaxResults    int               // hard cap on articles fetched per run
	PageSize      int               // results per page for paginated API sources
	StartParam    string            // query parameter carrying the page offset
	SizeParam     string            // query parameter carrying the page size
	Headers       map[string]string // extra request headers, e.g. publisher-specific user agents
	Selectors     SelectorSet       // CSS selectors for web sources
	Priority      int               // declaration order in the registry, lower wins ties
	Enabled       bool
}

// SelectorSet holds the CSS selectors used to carve articles out of an HTML
// listing page. Container is mandatory for web sources; the rest degrade to
// empty fields when missing.
type SelectorSet struct {
	Container string
	Title     string
	Link      string
	Abstract  string
	Date      string
	Authors   string
}

// RunOptions holds per-run caps and budgets, loaded from configuration
type RunOptions struct {
	MaxPerSource    int           // cap on articles contributed by one source
	MaxPerRun       int           // cap on the final batch handed to the sink
	MaxWorkers      int           // concurrent collector limit
	Timeout         time.Duration // wall-clock budget for the whole run
	FreshnessWindow time.Duration // drop articles published before now-window, 0 disables
}
