package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

var errTestExhausted = errors.New("test rotator exhausted")

// scriptedFetcher returns pages in order and records every URL it was asked for.
type scriptedFetcher struct {
	mu    sync.Mutex
	steps []fetchStep
	urls  []string
}

type fetchStep struct {
	page string
	err  error
}

func pages(ps ...string) []fetchStep {
	out := make([]fetchStep, len(ps))
	for i, p := range ps {
		out[i] = fetchStep{page: p}
	}
	return out
}

func (f *scriptedFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	if len(f.steps) == 0 {
		return nil, fmt.Errorf("unexpected fetch of %s", url)
	}
	step := f.steps[0]
	f.steps = f.steps[1:]
	if step.err != nil {
		return nil, step.err
	}
	return []byte(step.page), nil
}

func (f *scriptedFetcher) URLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

// wordClassifier maps page bodies of the form "ok:N", "captcha", "ratelimit",
// "noresult" and "broken" to verdicts.
type wordClassifier struct{}

func (wordClassifier) Classify(page []byte) (Classification, error) {
	body := string(page)
	switch {
	case body == "captcha":
		return Classification{Outcome: OutcomeCaptcha}, nil
	case body == "ratelimit":
		return Classification{Outcome: OutcomeRateLimited}, nil
	case body == "noresult":
		return Classification{Outcome: OutcomeNoResult}, nil
	case strings.HasPrefix(body, "ok:"):
		return Classification{Outcome: OutcomeOK, Payload: strings.TrimPrefix(body, "ok:")}, nil
	default:
		return Classification{}, fmt.Errorf("unrecognized page %q", body)
	}
}

func (wordClassifier) Citations(payload string) int {
	n, err := strconv.Atoi(payload)
	if err != nil {
		return 0
	}
	return n
}

type listRotator struct {
	variants []string
	idx      int
}

func newListRotator(variants ...string) *listRotator {
	return &listRotator{variants: variants}
}

func (r *listRotator) Current() string { return r.variants[r.idx] }

func (r *listRotator) Rotate() (string, error) {
	if r.idx+1 >= len(r.variants) {
		return "", errTestExhausted
	}
	r.idx++
	return r.variants[r.idx], nil
}

type plainURLs struct{}

func (plainURLs) SearchURL(endpoint string, q Query) string {
	return endpoint + "/scholar?q=" + q.Text
}

type countingResumer struct {
	calls int
	err   error
	hook  func()
}

func (r *countingResumer) AwaitResume(context.Context) error {
	r.calls++
	if r.hook != nil {
		r.hook()
	}
	return r.err
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type memStore struct {
	mu    sync.Mutex
	cp    Checkpoint
	found bool
	saves []Checkpoint
	err   error
}

func (s *memStore) Save(_ context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.cp = cp.Clone()
	s.found = true
	s.saves = append(s.saves, cp.Clone())
	return nil
}

func (s *memStore) Load(context.Context) (Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cp.Clone(), s.found, nil
}

type recordingSleeper struct {
	slept []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return ctx.Err()
}

type stubConfirmer struct {
	answer bool
	err    error
	asked  []string
}

func (c *stubConfirmer) Confirm(_ context.Context, question string, _ bool) (bool, error) {
	c.asked = append(c.asked, question)
	return c.answer, c.err
}

type countingCheckpointer struct {
	calls int
	err   error
}

func (c *countingCheckpointer) Checkpoint(context.Context) error {
	c.calls++
	return c.err
}

var testEndpoints = []string{
	"https://scholar.google.com",
	"https://scholar.google.co.kr",
	"https://scholar.google.co.uk",
	"https://scholar.google.ca",
}

func testItems(n int) []Item {
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{
			Index:  i,
			Title:  fmt.Sprintf("Paper %d", i),
			Byline: "A. Author",
			Link:   fmt.Sprintf("https://x/paper%d", i),
		}
	}
	return items
}

func newTestMachine(f Fetcher, rot Rotator, res Resumer) *Machine {
	return NewMachine(f, wordClassifier{}, rot, plainURLs{}, res, fixedClock{t: time.Unix(0, 0)}, nil, nil)
}
