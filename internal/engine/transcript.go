package engine

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Transcript is the ordered conversation history sent to the model.
// The first turn is the system prompt. Every function call emitted by an
// assistant turn is answered in the immediately following user turn.
type Transcript struct {
	mu       sync.RWMutex
	messages []Message
}

// NewTranscript creates a transcript seeded with the system prompt.
func NewTranscript(systemPrompt string) *Transcript {
	return &Transcript{messages: []Message{{Role: RoleSystem, Text: systemPrompt}}}
}

// Append adds turns to the end of the transcript.
func (t *Transcript) Append(msgs ...Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, msgs...)
}

// AppendPair appends an assistant call turn and the user turn answering it.
func (t *Transcript) AppendPair(assistantText string, call FunctionCall, response FunctionResponse, userText string) {
	if response.ID == "" {
		response.ID = call.ID
	}
	if response.Name == "" {
		response.Name = call.Name
	}
	t.Append(
		Message{Role: RoleAssistant, Text: assistantText, FunctionCalls: []FunctionCall{call}},
		Message{Role: RoleUser, Text: userText, FunctionResponses: []FunctionResponse{response}},
	)
}

// Messages returns a copy of the transcript turns.
func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of turns.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Last returns the final turn.
func (t *Transcript) Last() (Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.messages) == 0 {
		return Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}

// OpenCalls returns the calls of the final assistant turn that have no response yet.
func (t *Transcript) OpenCalls() []FunctionCall {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.messages) == 0 {
		return nil
	}
	last := t.messages[len(t.messages)-1]
	if last.Role != RoleAssistant {
		return nil
	}
	out := make([]FunctionCall, len(last.FunctionCalls))
	copy(out, last.FunctionCalls)
	return out
}

// CloseOpenCalls answers every open call with the given content so the
// transcript stays consistent after an abort or failure.
func (t *Transcript) CloseOpenCalls(content string) {
	open := t.OpenCalls()
	if len(open) == 0 {
		return
	}
	responses := make([]FunctionResponse, 0, len(open))
	for _, c := range open {
		responses = append(responses, FunctionResponse{ID: c.ID, Name: c.Name, Content: content})
	}
	t.Append(Message{Role: RoleUser, FunctionResponses: responses})
}

// RewriteResponses replaces function response contents in place. fn returns
// the new content and whether it changed.
func (t *Transcript) RewriteResponses(fn func(resp FunctionResponse) (string, bool)) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	changed := 0
	for i := range t.messages {
		if t.messages[i].Role != RoleUser || len(t.messages[i].FunctionResponses) == 0 {
			continue
		}
		responses := make([]FunctionResponse, len(t.messages[i].FunctionResponses))
		copy(responses, t.messages[i].FunctionResponses)
		for j, r := range responses {
			if content, ok := fn(r); ok {
				responses[j].Content = content
				changed++
			}
		}
		t.messages[i].FunctionResponses = responses
	}
	return changed
}

// Validate checks the pairing invariant over the whole transcript.
func (t *Transcript) Validate() error {
	return ValidatePairing(t.Messages())
}

// ValidatePairing checks that the first turn is the only system turn and that
// every function call is answered exactly once by the next user turn.
func ValidatePairing(msgs []Message) error {
	if len(msgs) == 0 || msgs[0].Role != RoleSystem {
		return fmt.Errorf("transcript must start with a system turn")
	}
	var open map[string]bool
	for i, m := range msgs {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("turn %d: %w", i, err)
		}
		if i > 0 && m.Role == RoleSystem {
			return fmt.Errorf("turn %d: system turn after the first position", i)
		}
		switch m.Role {
		case RoleAssistant:
			if len(open) > 0 {
				return fmt.Errorf("turn %d: assistant turn while %d call(s) are unanswered", i, len(open))
			}
			open = make(map[string]bool, len(m.FunctionCalls))
			for _, c := range m.FunctionCalls {
				if c.ID == "" {
					return fmt.Errorf("turn %d: function call %s has no id", i, c.Name)
				}
				if open[c.ID] {
					return fmt.Errorf("turn %d: duplicate call id %s", i, c.ID)
				}
				open[c.ID] = true
			}
		case RoleUser:
			for _, r := range m.FunctionResponses {
				if !open[r.ID] {
					return fmt.Errorf("turn %d: response %s does not answer an open call", i, r.ID)
				}
				delete(open, r.ID)
			}
			if len(open) > 0 {
				return fmt.Errorf("turn %d: %d call(s) left unanswered", i, len(open))
			}
		}
	}
	return nil
}

// MarshalJSON renders the transcript for debugging and session dumps.
func (t *Transcript) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Messages())
}
