package interaction

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalConfirmation(t *testing.T) {
	tests := []struct {
		input string
		def   bool
		want  bool
	}{
		{"y\n", false, true},
		{"YES\n", false, true},
		{"n\n", true, false},
		{"\n", true, true},
		{"\n", false, false},
		{"maybe\ny\n", false, true},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			term := NewTerminal(strings.NewReader(tt.input), &out)
			got, err := term.AskConfirmation(context.Background(), "Apply?", tt.def)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "Apply?")
		})
	}
}

func TestTerminalConfirmationWithAnswer(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(strings.NewReader("use tabs instead\n"), &out)
	c, err := term.AskConfirmationWithAnswer(context.Background(), "Generate?", "Generate", "Cancel", true)
	require.NoError(t, err)
	assert.False(t, c.Confirmed)
	assert.Equal(t, "use tabs instead", c.Answer)
}

func TestTerminalInputClosed(t *testing.T) {
	term := NewTerminal(strings.NewReader(""), &bytes.Buffer{})
	_, err := term.AskInput(context.Background(), "Name", "")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestScripted(t *testing.T) {
	s := &Scripted{Confirmations: []bool{true, false}, Inputs: []string{"hello"}}
	ctx := context.Background()

	v, _ := s.AskConfirmation(ctx, "first", false)
	assert.True(t, v)
	v, _ = s.AskConfirmation(ctx, "second", true)
	assert.False(t, v)
	v, _ = s.AskConfirmation(ctx, "third", true)
	assert.False(t, v, "empty queue falls back to Default")

	in, err := s.AskInput(ctx, "name", "")
	require.NoError(t, err)
	assert.Equal(t, "hello", in)
	assert.Equal(t, []string{"first", "second", "third", "name"}, s.Asked)

	assert.True(t, must(AutoApprove().AskConfirmation(ctx, "x", false)))
}

func must(v bool, err error) bool {
	if err != nil {
		panic(err)
	}
	return v
}

func TestPauser(t *testing.T) {
	var p Pauser
	require.NoError(t, p.Wait(context.Background()))

	p.Pause()
	assert.True(t, p.Paused())

	done := make(chan error, 1)
	go func() { done <- p.Wait(context.Background()) }()
	select {
	case <-done:
		t.Fatal("Wait returned while paused")
	case <-time.After(20 * time.Millisecond):
	}
	p.Resume()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Resume")
	}

	p.Pause()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Wait(ctx), context.Canceled)
}
