// Package classify decides what a fetched search page means and extracts
// citation counts from result containers.
package classify

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/scholar-citations/internal/retrieval"
)

// ErrNoResultContainer is returned when a page carries no challenge phrase but
// also no result container. It is an unknown error, never a NO_RESULT verdict.
var ErrNoResultContainer = errors.New("result container not found")

// Config lists the phrases and selector the classifier matches. Phrase
// matching is case-insensitive.
type Config struct {
	CaptchaPhrases   []string `mapstructure:"captcha_phrases"`
	RateLimitPhrases []string `mapstructure:"rate_limit_phrases"`
	NoResultPhrases  []string `mapstructure:"no_result_phrases"`
	ResultSelector   string   `mapstructure:"result_selector"`
}

// DefaultConfig matches the English and Korean Scholar interfaces.
func DefaultConfig() Config {
	return Config{
		CaptchaPhrases: []string{
			"unusual traffic from your computer network",
			"not a robot",
			"로봇",
		},
		RateLimitPhrases: []string{
			"your computer or network may be sending automated queries",
		},
		NoResultPhrases: []string{
			"정보가 없습니다",
			"no information is available",
		},
		ResultSelector: "div.gs_r",
	}
}

// Classifier implements retrieval.Classifier over HTML pages.
type Classifier struct {
	captcha   []string
	rateLimit []string
	noResult  []string
	selector  string
}

// New validates cfg and lower-cases the phrase lists.
func New(cfg Config) (*Classifier, error) {
	if strings.TrimSpace(cfg.ResultSelector) == "" {
		return nil, errors.New("classify: result selector is required")
	}
	if len(cfg.CaptchaPhrases) == 0 || len(cfg.RateLimitPhrases) == 0 {
		return nil, errors.New("classify: captcha and rate limit phrases are required")
	}
	return &Classifier{
		captcha:   normalize(cfg.CaptchaPhrases),
		rateLimit: normalize(cfg.RateLimitPhrases),
		noResult:  normalize(cfg.NoResultPhrases),
		selector:  cfg.ResultSelector,
	}, nil
}

// Classify inspects the whole page for challenge phrases before looking for
// the first result container.
func (c *Classifier) Classify(page []byte) (retrieval.Classification, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return retrieval.Classification{}, fmt.Errorf("parse page: %w", err)
	}
	text := visibleText(doc.Selection)
	switch {
	case containsAny(text, c.captcha):
		return retrieval.Classification{Outcome: retrieval.OutcomeCaptcha}, nil
	case containsAny(text, c.rateLimit):
		return retrieval.Classification{Outcome: retrieval.OutcomeRateLimited}, nil
	}

	container := doc.Find(c.selector).First()
	if container.Length() == 0 {
		return retrieval.Classification{}, fmt.Errorf("%w: %s", ErrNoResultContainer, c.selector)
	}
	if containsAny(visibleText(container), c.noResult) {
		return retrieval.Classification{Outcome: retrieval.OutcomeNoResult}, nil
	}
	payload, err := goquery.OuterHtml(container)
	if err != nil {
		return retrieval.Classification{}, fmt.Errorf("render result container: %w", err)
	}
	return retrieval.Classification{Outcome: retrieval.OutcomeOK, Payload: payload}, nil
}

var citationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`>\s*([0-9][0-9,]*)\s*회 인용`),
	regexp.MustCompile(`Cited by\s+([0-9][0-9,]*)`),
}

// Citations returns the first citation count found in payload, or 0 when no
// pattern matches. It is a pure function of its input.
func (c *Classifier) Citations(payload string) int {
	return ExtractCitations(payload)
}

// ExtractCitations scans payload for ">N회 인용" or "Cited by N" and returns
// the count of whichever occurs first.
func ExtractCitations(payload string) int {
	best := -1
	value := ""
	for _, re := range citationPatterns {
		loc := re.FindStringSubmatchIndex(payload)
		if loc == nil {
			continue
		}
		if best == -1 || loc[0] < best {
			best = loc[0]
			value = payload[loc[2]:loc[3]]
		}
	}
	if best == -1 {
		return 0
	}
	n, err := strconv.Atoi(strings.ReplaceAll(value, ",", ""))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func visibleText(sel *goquery.Selection) string {
	clone := sel.Clone()
	clone.Find("script, style, noscript").Remove()
	return strings.ToLower(clone.Text())
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func normalize(phrases []string) []string {
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
