// Package report ranks retrieved citation counts and exports them.
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/JakeFAU/scholar-citations/internal/retrieval"
	"github.com/JakeFAU/scholar-citations/internal/storage/local"
)

// Row is one ranked paper.
type Row struct {
	// Number is the 1-based position of the paper in the catalog listing.
	Number      int
	Author      string
	Title       string
	Citations   int
	Source      string
	CitPerYear  int
	CitPerMonth int
	Etc         string
}

// Build pairs items with results, sorts by citations (descending, stable) and
// derives per-year and, when month is non-zero, per-month rates. now supplies
// the current date for the rates.
func Build(items []retrieval.Item, results []retrieval.Result, year, month int, now time.Time) ([]Row, error) {
	if len(items) != len(results) {
		return nil, fmt.Errorf("report: %d items but %d results", len(items), len(results))
	}
	yearDiff := now.Year() - year
	monthDiff := int(now.Month()) - month + 12*yearDiff
	rows := make([]Row, len(items))
	for i, item := range items {
		c := results[i].Citations
		rows[i] = Row{
			Number:     i + 1,
			Author:     item.Byline,
			Title:      item.Title,
			Citations:  c,
			Source:     item.Link,
			CitPerYear: rate(c, yearDiff+1),
			Etc:        results[i].Note,
		}
		if month != 0 {
			rows[i].CitPerMonth = rate(c, monthDiff+1)
		}
	}
	sort.SliceStable(rows, func(a, b int) bool {
		return rows[a].Citations > rows[b].Citations
	})
	return rows, nil
}

// rate divides with half-to-even rounding.
func rate(citations, span int) int {
	if span < 1 {
		span = 1
	}
	return int(math.RoundToEven(float64(citations) / float64(span)))
}

// FileName is the export name for a proceedings year.
func FileName(year int) string {
	return fmt.Sprintf("NeurIPS%d.csv", year)
}

func header(withMonth bool) []string {
	cols := []string{"Number", "Author", "Title", "Citations", "Source", "cit/year"}
	if withMonth {
		cols = append(cols, "cit/month")
	}
	return append(cols, "Etc")
}

func record(r Row, withMonth bool) []string {
	rec := []string{
		strconv.Itoa(r.Number),
		r.Author,
		r.Title,
		strconv.Itoa(r.Citations),
		r.Source,
		strconv.Itoa(r.CitPerYear),
	}
	if withMonth {
		rec = append(rec, strconv.Itoa(r.CitPerMonth))
	}
	return append(rec, r.Etc)
}

// EncodeCSV renders rows with a header line.
func EncodeCSV(rows []Row, withMonth bool) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header(withMonth)); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range rows {
		if err := w.Write(record(r, withMonth)); err != nil {
			return nil, fmt.Errorf("write csv row %d: %w", r.Number, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteCSV atomically writes NeurIPS<year>.csv into dir and returns its path.
func WriteCSV(dir string, year int, rows []Row, withMonth bool) (string, error) {
	out, err := local.New(local.Config{BaseDir: dir})
	if err != nil {
		return "", fmt.Errorf("report directory: %w", err)
	}
	data, err := EncodeCSV(rows, withMonth)
	if err != nil {
		return "", err
	}
	path, err := out.WriteFile(FileName(year), data)
	if err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

const maxTitleWidth = 60

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)

// Print renders the ranking as a table.
func Print(w io.Writer, rows []Row, withMonth bool) error {
	cols := header(withMonth)
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(cols...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	for _, r := range rows {
		rec := record(r, withMonth)
		rec[2] = trim(rec[2], maxTitleWidth)
		rec[1] = trim(rec[1], maxTitleWidth/2)
		t.Row(rec...)
	}
	if _, err := fmt.Fprintln(w, t.Render()); err != nil {
		return fmt.Errorf("print report: %w", err)
	}
	return nil
}

func trim(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}
