package retrieval

import (
	"errors"
	"fmt"
	"strings"
)

// NoResultsNote annotates items for which neither query form found a match.
const NoResultsNote = "No Search Results"

// Item is one paper awaiting a citation-count lookup.
type Item struct {
	// Index is the 0-based position in the input list, stable across a run.
	Index  int    `json:"index"`
	Title  string `json:"title"`
	Byline string `json:"byline"`
	Link   string `json:"link"`
}

// QueryKind selects how an item is searched for.
type QueryKind int

// Query forms in the order they are attempted.
const (
	QueryByLink QueryKind = iota
	QueryByTitle
)

func (k QueryKind) String() string {
	switch k {
	case QueryByLink:
		return "link"
	case QueryByTitle:
		return "title"
	default:
		return fmt.Sprintf("QueryKind(%d)", int(k))
	}
}

// Query is the search text derived from an Item. It is recomputed on every
// attempt and never persisted.
type Query struct {
	Kind QueryKind
	Text string
}

// LinkQuery searches by the paper's canonical link.
func LinkQuery(item Item) Query {
	return Query{Kind: QueryByLink, Text: item.Link}
}

// TitleQuery searches by the exact (quoted) paper title.
func TitleQuery(item Item) Query {
	return Query{Kind: QueryByTitle, Text: `"` + strings.TrimSpace(item.Title) + `"`}
}

// Result is the retrieval outcome for one item.
type Result struct {
	Citations int    `json:"citations"`
	Note      string `json:"note"`
}

// Checkpoint is the only durable state of a run.
type Checkpoint struct {
	NextIndex int      `json:"next_index"`
	Results   []Result `json:"results"`
}

// ErrInvalidCheckpoint reports a snapshot that breaks the
// len(Results) == NextIndex invariant.
var ErrInvalidCheckpoint = errors.New("invalid checkpoint")

// Validate enforces the checkpoint invariant.
func (c Checkpoint) Validate() error {
	if c.NextIndex < 0 {
		return fmt.Errorf("%w: next_index %d < 0", ErrInvalidCheckpoint, c.NextIndex)
	}
	if len(c.Results) != c.NextIndex {
		return fmt.Errorf("%w: next_index %d but %d results", ErrInvalidCheckpoint, c.NextIndex, len(c.Results))
	}
	for i, r := range c.Results {
		if r.Citations < 0 {
			return fmt.Errorf("%w: result %d has negative citations", ErrInvalidCheckpoint, i)
		}
	}
	return nil
}

// Clone returns a deep copy so callers can keep mutating their own slice.
func (c Checkpoint) Clone() Checkpoint {
	return Checkpoint{
		NextIndex: c.NextIndex,
		Results:   append([]Result(nil), c.Results...),
	}
}

// Outcome is the semantic category assigned to a fetched page.
type Outcome int

// Page outcomes decided by a Classifier.
const (
	OutcomeOK Outcome = iota
	OutcomeCaptcha
	OutcomeRateLimited
	OutcomeNoResult
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeCaptcha:
		return "captcha_required"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeNoResult:
		return "no_result"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Classification is a Classifier verdict. Payload is only set for OutcomeOK.
type Classification struct {
	Outcome Outcome
	Payload string
}
