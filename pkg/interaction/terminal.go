package interaction

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/packlift/packlift/pkg/flow"
)

// TerminalAdapter prompts on an output stream and reads one line per
// question. Empty input falls back to the question's default; no
// default means a hard failure.
type TerminalAdapter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewTerminalAdapter wires the adapter to the given streams,
// typically stdin and stderr.
func NewTerminalAdapter(in io.Reader, out io.Writer) *TerminalAdapter {
	return &TerminalAdapter{
		in:  bufio.NewReader(in),
		out: out,
	}
}

// Ask prompts for each question in order.
func (a *TerminalAdapter) Ask(ctx context.Context, questions []flow.Question) (map[string]any, error) {
	answers := make(map[string]any, len(questions))
	for _, q := range questions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if q.HasDefault() {
			fmt.Fprintf(a.out, "%s [default: %s]: ", q.Prompt, q.Default)
		} else {
			fmt.Fprintf(a.out, "%s: ", q.Prompt)
		}

		line, err := a.in.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("read answer for %s: %w", q.ID, err)
		}
		input := strings.TrimSpace(line)
		if input == "" {
			if !q.HasDefault() {
				return nil, &NoInputError{ID: q.ID}
			}
			input = q.Default
		}
		answers[q.ID] = input
	}
	return answers, nil
}

// DenyAdapter refuses every prompt. Selected when host capabilities
// forbid interactive input.
type DenyAdapter struct{}

// Ask always fails with ErrPromptsDenied.
func (DenyAdapter) Ask(ctx context.Context, questions []flow.Question) (map[string]any, error) {
	return nil, ErrPromptsDenied
}

// JSONAdapter serves answers from a fixed object supplied up front,
// for non-interactive runs.
type JSONAdapter struct {
	answers map[string]any
}

// NewJSONAdapter wraps a pre-supplied answer object.
func NewJSONAdapter(answers map[string]any) *JSONAdapter {
	if answers == nil {
		answers = map[string]any{}
	}
	return &JSONAdapter{answers: answers}
}

// Ask resolves every question from the fixed object, defaulting
// where possible.
func (a *JSONAdapter) Ask(ctx context.Context, questions []flow.Question) (map[string]any, error) {
	return mergeAnswers(questions, a.answers)
}
