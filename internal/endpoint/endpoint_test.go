package endpoint

import (
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scholar-citations/internal/retrieval"
)

func TestRotatorWalksAllVariantsThenExhausts(t *testing.T) {
	t.Parallel()

	r, err := NewRotator(DefaultVariants)
	require.NoError(t, err)
	require.Equal(t, DefaultVariants[0], r.Current())

	for i := 1; i < len(DefaultVariants); i++ {
		next, err := r.Rotate()
		require.NoError(t, err)
		assert.Equal(t, DefaultVariants[i], next)
		assert.Equal(t, i, r.Index())
	}

	_, err = r.Rotate()
	require.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, DefaultVariants[3], r.Current())

	_, err = r.Rotate()
	require.True(t, errors.Is(err, ErrExhausted))
}

func TestNewRotatorValidates(t *testing.T) {
	t.Parallel()

	_, err := NewRotator(nil)
	require.Error(t, err)
	_, err = NewRotator([]string{"scholar.google.com"})
	require.Error(t, err)

	r, err := NewRotator([]string{"https://scholar.google.com/"})
	require.NoError(t, err)
	assert.Equal(t, "https://scholar.google.com", r.Current())
}

func TestTemplateSearchURL(t *testing.T) {
	t.Parallel()

	tpl := DefaultTemplate()
	got := tpl.SearchURL("https://scholar.google.co.kr/", retrieval.Query{
		Kind: retrieval.QueryByLink,
		Text: "https://papers.nips.cc/paper/2020/hash/abc-Abstract.html",
	})
	assert.Equal(t,
		"https://scholar.google.co.kr/scholar?as_sdt=0%2C5&hl=en&num=1&q=https%3A%2F%2Fpapers.nips.cc%2Fpaper%2F2020%2Fhash%2Fabc-Abstract.html",
		got,
	)

	titleURL := tpl.SearchURL("https://scholar.google.com", retrieval.TitleQuery(retrieval.Item{Title: "Paper A"}))
	u, err := url.Parse(titleURL)
	require.NoError(t, err)
	assert.Equal(t, `"Paper A"`, u.Query().Get("q"))
	assert.Equal(t, "/scholar", u.Path)
}
