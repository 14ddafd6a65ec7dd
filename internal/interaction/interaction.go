// Package interaction asks the human operator for confirmations and input.
package interaction

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Confirmation is the answer to AskConfirmationWithAnswer.
type Confirmation struct {
	Confirmed bool
	Answer    string // optional free-text answer
}

// Interactor is the user-interaction collaborator. Every method may block.
type Interactor interface {
	AskConfirmation(ctx context.Context, message string, defaultValue bool) (bool, error)
	AskConfirmationWithAnswer(ctx context.Context, message, confirmLabel, declineLabel string, defaultValue bool) (Confirmation, error)
	AskInput(ctx context.Context, prompt, placeholder string) (string, error)
	Show(text string)
}

// ErrClosed is returned when the input stream ends.
var ErrClosed = errors.New("input closed")

// Terminal reads answers line by line from in and writes prompts to out.
type Terminal struct {
	mu    sync.Mutex
	out   io.Writer
	lines chan string
	done  chan struct{}
}

// NewTerminal starts reading in. Reads continue until in is exhausted.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	t := &Terminal{out: out, lines: make(chan string), done: make(chan struct{})}
	go func() {
		defer close(t.done)
		s := bufio.NewScanner(in)
		s.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for s.Scan() {
			t.lines <- s.Text()
		}
	}()
	return t
}

// ReadLine waits for the next input line.
func (t *Terminal) ReadLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line := <-t.lines:
		return line, nil
	case <-t.done:
		return "", ErrClosed
	}
}

// Show writes text followed by a newline.
func (t *Terminal) Show(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, text)
}

func (t *Terminal) prompt(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprint(t.out, text)
}

// AskConfirmation implements Interactor.
func (t *Terminal) AskConfirmation(ctx context.Context, message string, defaultValue bool) (bool, error) {
	hint := "[y/N]"
	if defaultValue {
		hint = "[Y/n]"
	}
	for {
		t.prompt(fmt.Sprintf("%s %s ", message, hint))
		line, err := t.ReadLine(ctx)
		if err != nil {
			return false, err
		}
		if v, ok := parseYesNo(line, defaultValue); ok {
			return v, nil
		}
		t.Show("Please answer y or n.")
	}
}

// AskConfirmationWithAnswer implements Interactor. Anything other than a
// yes/no answer declines and is returned as the answer.
func (t *Terminal) AskConfirmationWithAnswer(ctx context.Context, message, confirmLabel, declineLabel string, defaultValue bool) (Confirmation, error) {
	t.prompt(fmt.Sprintf("%s\n  y) %s\n  n) %s\n  or type a message: ", message, confirmLabel, declineLabel))
	line, err := t.ReadLine(ctx)
	if err != nil {
		return Confirmation{}, err
	}
	if v, ok := parseYesNo(line, defaultValue); ok {
		return Confirmation{Confirmed: v}, nil
	}
	return Confirmation{Answer: strings.TrimSpace(line)}, nil
}

// AskInput implements Interactor.
func (t *Terminal) AskInput(ctx context.Context, prompt, placeholder string) (string, error) {
	if placeholder != "" {
		t.prompt(fmt.Sprintf("%s (%s): ", prompt, placeholder))
	} else {
		t.prompt(prompt + ": ")
	}
	line, err := t.ReadLine(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func parseYesNo(line string, defaultValue bool) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
		return defaultValue, true
	case "y", "yes":
		return true, true
	case "n", "no":
		return false, true
	}
	return false, false
}

// Scripted answers from fixed queues. It is used for non-interactive runs and tests.
type Scripted struct {
	mu            sync.Mutex
	Confirmations []bool
	Answers       []string
	Inputs        []string
	// Default answers confirmations once the queue is empty.
	Default bool

	Asked []string
	Shown []string
}

// AutoApprove confirms everything.
func AutoApprove() *Scripted { return &Scripted{Default: true} }

func (s *Scripted) nextConfirmation(message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Asked = append(s.Asked, message)
	if len(s.Confirmations) == 0 {
		return s.Default
	}
	v := s.Confirmations[0]
	s.Confirmations = s.Confirmations[1:]
	return v
}

// AskConfirmation implements Interactor.
func (s *Scripted) AskConfirmation(ctx context.Context, message string, defaultValue bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.nextConfirmation(message), nil
}

// AskConfirmationWithAnswer implements Interactor.
func (s *Scripted) AskConfirmationWithAnswer(ctx context.Context, message, confirmLabel, declineLabel string, defaultValue bool) (Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return Confirmation{}, err
	}
	c := Confirmation{Confirmed: s.nextConfirmation(message)}
	s.mu.Lock()
	if len(s.Answers) > 0 {
		c.Answer = s.Answers[0]
		s.Answers = s.Answers[1:]
	}
	s.mu.Unlock()
	return c, nil
}

// AskInput implements Interactor.
func (s *Scripted) AskInput(ctx context.Context, prompt, placeholder string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Asked = append(s.Asked, prompt)
	if len(s.Inputs) == 0 {
		return "", ErrClosed
	}
	v := s.Inputs[0]
	s.Inputs = s.Inputs[1:]
	return v, nil
}

// Show implements Interactor.
func (s *Scripted) Show(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Shown = append(s.Shown, text)
}
