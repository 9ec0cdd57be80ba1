package domain

// MatchMode controls how keyword matches combine into a verdict
type MatchMode string

const (
	MatchAny MatchMode = "any" // at least one keyword matched
	MatchAll MatchMode = "all" // every configured keyword matched
)

// SearchField names an article field the matcher inspects
type SearchField string

const (
	FieldTitle    SearchField = "title"
	FieldAbstract SearchField = "abstract"
	FieldKeywords SearchField = "keywords"
)

// KeywordPolicy is the keyword matching configuration, immutable for the run
type KeywordPolicy struct {
	Keywords      []string
	CaseSensitive bool
	WholeWord     bool
	Mode          MatchMode
	SearchFields  []SearchField
}
