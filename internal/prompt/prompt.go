// Package prompt asks the operator blocking questions on a terminal.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// ResumeMessage is shown while a CAPTCHA waits for a human.
const ResumeMessage = "Solve captcha manually and press enter here to continue..."

var (
	questionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	hintStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
)

// Terminal reads answers line by line from in. A single goroutine owns the
// reader so a cancelled wait never loses the next line. Once the reader
// fails, every later read returns that error.
type Terminal struct {
	in    *bufio.Reader
	out   io.Writer
	once  sync.Once
	lines chan string
	// set before lines is closed
	err error
}

// NewTerminal wraps in and out, typically os.Stdin and os.Stderr.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{
		in:    bufio.NewReader(in),
		out:   out,
		lines: make(chan string),
	}
}

func (t *Terminal) start() {
	t.once.Do(func() {
		go func() {
			for {
				text, err := t.in.ReadString('\n')
				if err != nil && !(errors.Is(err, io.EOF) && text != "") {
					t.err = err
					close(t.lines)
					return
				}
				t.lines <- strings.TrimRight(text, "\r\n")
			}
		}()
	})
}

func (t *Terminal) readLine(ctx context.Context) (string, error) {
	t.start()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case text, ok := <-t.lines:
		if !ok {
			return "", t.err
		}
		return text, nil
	}
}

// ErrNoAnswer is returned by Confirm when input ends before an answer.
var ErrNoAnswer = errors.New("no answer before end of input")

// Confirm asks a yes/no question. An empty answer selects def; end of input
// is an error so nothing is accepted without an operator.
func (t *Terminal) Confirm(ctx context.Context, question string, def bool) (bool, error) {
	hint := "[y/N]"
	if def {
		hint = "[Y/n]"
	}
	for {
		fmt.Fprintf(t.out, "%s %s ", questionStyle.Render(question), hintStyle.Render(hint))
		answer, err := t.readLine(ctx)
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(t.out)
			return false, fmt.Errorf("%w: %w", ErrNoAnswer, err)
		}
		if err != nil {
			return false, err
		}
		if v, ok := parseAnswer(answer, def); ok {
			return v, nil
		}
		fmt.Fprintln(t.out, warnStyle.Render("Please respond with 'yes' or 'no' (or 'y' or 'n')."))
	}
}

func parseAnswer(answer string, def bool) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "":
		return def, true
	case "y", "ye", "yes":
		return true, true
	case "n", "no":
		return false, true
	default:
		return false, false
	}
}

// AwaitResume blocks until the operator presses enter or ctx ends.
func (t *Terminal) AwaitResume(ctx context.Context) error {
	fmt.Fprintln(t.out, warnStyle.Render(ResumeMessage))
	if _, err := t.readLine(ctx); err != nil {
		return fmt.Errorf("wait for operator: %w", err)
	}
	return nil
}
