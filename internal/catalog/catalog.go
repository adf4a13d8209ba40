// Package catalog loads the list of papers published in one proceedings year.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-citations/internal/retrieval"
)

// Supported proceedings years.
const (
	MinYear = 2010
	MaxYear = 2020
)

// DefaultBaseURL hosts the NeurIPS proceedings.
const DefaultBaseURL = "https://papers.nips.cc"

// ErrInvalidSelection reports an unsupported year or month.
var ErrInvalidSelection = errors.New("invalid selection")

// ErrNoPapers is returned when the listing page yields no items.
var ErrNoPapers = errors.New("no papers found")

// ValidateSelection checks year and the optional month (0 means unset). For
// the current year the month may not be in the future.
func ValidateSelection(year, month int, now time.Time) error {
	if year > MaxYear {
		return fmt.Errorf("%w: year > %d not supported", ErrInvalidSelection, MaxYear)
	}
	if year < MinYear {
		return fmt.Errorf("%w: year < %d not supported", ErrInvalidSelection, MinYear)
	}
	if month == 0 {
		return nil
	}
	if month < 1 || month > 12 {
		return fmt.Errorf("%w: month must be in range [1, 12]", ErrInvalidSelection)
	}
	if year == now.Year() && month > int(now.Month()) {
		return fmt.Errorf("%w: month must be <= %d", ErrInvalidSelection, int(now.Month()))
	}
	return nil
}

// PageFetcher returns the body of a plain HTTP page.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Config points the loader at a proceedings site.
type Config struct {
	BaseURL string `mapstructure:"base_url"`
}

// Loader fetches and parses the yearly listing.
type Loader struct {
	fetcher PageFetcher
	baseURL string
	logger  *zap.Logger
}

// NewLoader builds a Loader. An empty BaseURL selects DefaultBaseURL.
func NewLoader(fetcher PageFetcher, cfg Config, logger *zap.Logger) (*Loader, error) {
	if fetcher == nil {
		return nil, errors.New("catalog: page fetcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Loader{fetcher: fetcher, baseURL: base, logger: logger}, nil
}

// Load returns the papers of year with indexes 0..n-1 in page order.
func (l *Loader) Load(ctx context.Context, year int) ([]retrieval.Item, error) {
	url := fmt.Sprintf("%s/paper/%d", l.baseURL, year)
	l.logger.Info("loading proceedings", zap.Int("year", year), zap.String("url", url))
	body, err := l.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch proceedings %d: %w", year, err)
	}
	items, err := Parse(body, l.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse proceedings %d: %w", year, err)
	}
	l.logger.Info("found papers", zap.Int("count", len(items)))
	return items, nil
}

// Parse reads the second <ul> of the listing. Each <li> holds the title link
// and the italic author byline. Entries without a link are skipped.
func Parse(body []byte, baseURL string) ([]retrieval.Item, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("read listing: %w", err)
	}
	lists := doc.Find("ul")
	if lists.Length() < 2 {
		return nil, fmt.Errorf("%w: expected at least 2 lists, got %d", ErrNoPapers, lists.Length())
	}
	base := strings.TrimRight(baseURL, "/")
	var items []retrieval.Item
	lists.Eq(1).Find("li").Each(func(_ int, li *goquery.Selection) {
		anchor := li.Find("a").First()
		href, ok := anchor.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		items = append(items, retrieval.Item{
			Index:  len(items),
			Title:  strings.TrimSpace(anchor.Text()),
			Byline: strings.TrimSpace(li.Find("i").First().Text()),
			Link:   base + strings.TrimSpace(href),
		})
	})
	if len(items) == 0 {
		return nil, ErrNoPapers
	}
	return items, nil
}
