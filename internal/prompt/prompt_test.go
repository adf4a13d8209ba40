package prompt

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirmAnswers(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		input string
		def   bool
		want  bool
	}{
		{name: "yes", input: "yes\n", want: true},
		{name: "ye", input: "ye\n", want: true},
		{name: "upper y", input: "Y\n", want: true},
		{name: "no", input: "no\n", def: true, want: false},
		{name: "empty takes default yes", input: "\n", def: true, want: true},
		{name: "empty takes default no", input: "\n", def: false, want: false},
		{name: "retry on junk", input: "maybe\nn\n", def: true, want: false},
		{name: "no trailing newline", input: "y", want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer
			term := NewTerminal(strings.NewReader(tc.input), &out)
			got, err := term.Confirm(context.Background(), "Restore from checkpoint?", tc.def)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Contains(t, out.String(), "Restore from checkpoint?")
		})
	}
}

func TestConfirmEOFFails(t *testing.T) {
	t.Parallel()

	for _, def := range []bool{true, false} {
		term := NewTerminal(strings.NewReader(""), io.Discard)
		got, err := term.Confirm(context.Background(), "Restore from checkpoint?", def)
		require.ErrorIs(t, err, ErrNoAnswer)
		require.ErrorIs(t, err, io.EOF)
		assert.False(t, got)
	}
}

func TestReadsAfterEOFDoNotBlock(t *testing.T) {
	t.Parallel()

	term := NewTerminal(strings.NewReader(""), io.Discard)
	_, err := term.Confirm(context.Background(), "Restore from checkpoint?", true)
	require.ErrorIs(t, err, io.EOF)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.ErrorIs(t, term.AwaitResume(ctx), io.EOF)
	require.ErrorIs(t, term.AwaitResume(ctx), io.EOF)
	require.NoError(t, ctx.Err())
}

func TestConfirmRetryPrintsHelp(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	term := NewTerminal(strings.NewReader("what\nyes\n"), &out)
	_, err := term.Confirm(context.Background(), "Restore?", true)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Please respond with 'yes' or 'no'")
	assert.Equal(t, 2, strings.Count(out.String(), "Restore?"))
}

func TestAwaitResume(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	term := NewTerminal(strings.NewReader("\n"), &out)
	require.NoError(t, term.AwaitResume(context.Background()))
	assert.Contains(t, out.String(), ResumeMessage)
}

func TestAwaitResumeEOF(t *testing.T) {
	t.Parallel()

	term := NewTerminal(strings.NewReader(""), io.Discard)
	require.ErrorIs(t, term.AwaitResume(context.Background()), io.EOF)
}

func TestAwaitResumeCancelled(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	defer pw.Close()
	term := NewTerminal(pr, io.Discard)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := term.AwaitResume(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLinesSurviveCancellation(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	term := NewTerminal(pr, io.Discard)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, term.AwaitResume(ctx))

	go func() {
		_, _ = pw.Write([]byte("\n"))
	}()
	require.NoError(t, term.AwaitResume(context.Background()))
	_ = pw.Close()
}
