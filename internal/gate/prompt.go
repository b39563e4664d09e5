package gate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aibox/toolperm/internal/permission"
	"github.com/aibox/toolperm/internal/settings"
)

// Answer is the user's reply to a permission prompt.
type Answer int

const (
	AnswerDeny Answer = iota
	AnswerAllowOnce
	AnswerAllowAlways
)

// Response carries the answer and, for AnswerAllowAlways, the rule to add and
// the scope to save it in. An empty scope keeps the rule for the session only.
type Response struct {
	Answer Answer
	Rule   permission.Rule
	Scope  settings.Scope
}

// Prompter asks the user about an Ask decision.
type Prompter interface {
	Prompt(ctx context.Context, tool permission.Tool, input permission.Input, ask permission.Ask) (Response, error)
}

// PrompterFunc adapts a function to the Prompter interface.
type PrompterFunc func(ctx context.Context, tool permission.Tool, input permission.Input, ask permission.Ask) (Response, error)

func (f PrompterFunc) Prompt(ctx context.Context, tool permission.Tool, input permission.Input, ask permission.Ask) (Response, error) {
	return f(ctx, tool, input, ask)
}

// TerminalPrompter asks on a line-oriented terminal. Approved rules are saved
// to Scope.
type TerminalPrompter struct {
	In    io.Reader
	Out   io.Writer
	Scope settings.Scope
}

// Prompt prints the request and the suggested rules, then reads one choice:
// "y" allows once, a number allows always with that suggestion, anything
// else denies.
func (p *TerminalPrompter) Prompt(ctx context.Context, tool permission.Tool, input permission.Input, ask permission.Ask) (Response, error) {
	fmt.Fprintln(p.Out, ask.Message)
	fmt.Fprintln(p.Out, "  y) Yes, once")
	for i, r := range ask.Suggestions {
		fmt.Fprintf(p.Out, "  %d) Yes, and always allow %s", i+1, r)
		if p.Scope != "" {
			fmt.Fprintf(p.Out, " (%s settings)", p.Scope)
		}
		fmt.Fprintln(p.Out)
	}
	fmt.Fprintln(p.Out, "  n) No")
	fmt.Fprint(p.Out, "> ")

	line, err := readLine(ctx, p.In)
	if err != nil {
		return Response{}, err
	}

	choice := strings.ToLower(strings.TrimSpace(line))
	switch choice {
	case "y", "yes":
		return Response{Answer: AnswerAllowOnce}, nil
	case "", "n", "no":
		return Response{Answer: AnswerDeny}, nil
	}
	if n, err := strconv.Atoi(choice); err == nil && n >= 1 && n <= len(ask.Suggestions) {
		return Response{Answer: AnswerAllowAlways, Rule: ask.Suggestions[n-1], Scope: p.Scope}, nil
	}
	return Response{Answer: AnswerDeny}, nil
}

func readLine(ctx context.Context, r io.Reader) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(r).ReadString('\n')
		if err == io.EOF {
			err = nil
		}
		ch <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return "", fmt.Errorf("reading answer: %w", res.err)
		}
		return res.line, nil
	}
}
