package validation

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/gencode/internal/engine"
)

// Request describes an inference call that must produce one call to Required.
type Request struct {
	Transcript []engine.Message
	Defs       []engine.FunctionDef // declared functions; must include Required
	Required   string
	Options    engine.GenerateOptions
	// AllowNoCall accepts a first response without any call as final.
	AllowNoCall bool
}

// Outcome is the result of RequireCall. Call is nil when recovery was exhausted.
type Outcome struct {
	Call      *engine.FunctionCall
	Attempts  int
	Recovered bool     // true when the corrective re-ask produced the call
	Issues    []string // issues of the last response; non-fatal when Call is set
	Text      string   // model text when AllowNoCall accepted a call-less response
}

// Exhausted reports whether no usable call was obtained.
func (o Outcome) Exhausted() bool { return o.Call == nil }

// Notifier receives user-visible recovery notices.
type Notifier func(text string)

// RequireCall asks backend for exactly one valid call to req.Required. A
// malformed response is answered with the validation issues and re-asked
// once. The corrected response is accepted if it calls req.Required at all,
// with any remaining issues in Outcome.Issues; without such a call the
// returned Outcome is exhausted. Provider errors are returned unchanged.
func RequireCall(ctx context.Context, backend engine.ModelBackend, req Request, notify Notifier) (Outcome, error) {
	def, ok := findDef(req.Defs, req.Required)
	if !ok {
		return Outcome{}, fmt.Errorf("required function %q is not declared", req.Required)
	}
	opts := req.Options
	opts.RequiredFunction = req.Required

	res, err := backend.GenerateContent(ctx, req.Transcript, req.Defs, opts)
	if err != nil {
		return Outcome{Attempts: 1}, err
	}
	if req.AllowNoCall && len(res.Calls) == 0 {
		return Outcome{Attempts: 1, Text: res.Text}, nil
	}
	calls := withIDs(res.Calls)
	call, verr := ValidateCalls(calls, def)
	if verr == nil {
		return Outcome{Call: call, Attempts: 1}, nil
	}

	issues := issuesOf(verr)
	if notify != nil {
		notify(fmt.Sprintf("Invalid %s call from the model (%s); asking for a correction.", req.Required, strings.Join(issues, "; ")))
	}

	retry := append(append([]engine.Message(nil), req.Transcript...), correction(calls, res.Text, def, issues)...)
	res, err = backend.GenerateContent(ctx, retry, req.Defs, opts)
	if err != nil {
		return Outcome{Attempts: 2, Issues: issues}, err
	}
	calls = withIDs(res.Calls)
	call, verr = ValidateCalls(calls, def)
	if call != nil {
		// The corrected call is final even when imperfect.
		out := Outcome{Call: call, Attempts: 2, Recovered: true}
		if verr != nil {
			out.Issues = issuesOf(verr)
		}
		return out, nil
	}

	issues = issuesOf(verr)
	if notify != nil {
		notify(fmt.Sprintf("The model did not call %s after a correction; giving up on this request.", req.Required))
	}
	return Outcome{Attempts: 2, Issues: issues}, nil
}

// correction builds the turns that show the model its mistake. Rejected calls
// are answered with the issues so the transcript pairing stays intact.
func correction(calls []engine.FunctionCall, text string, def engine.FunctionDef, issues []string) []engine.Message {
	instruction := fmt.Sprintf("Your previous response was invalid: %s. Call %q exactly once with arguments matching its schema.",
		strings.Join(issues, "; "), def.Name)

	if len(calls) == 0 {
		return []engine.Message{
			{Role: engine.RoleAssistant, Text: text},
			{Role: engine.RoleUser, Text: instruction},
		}
	}
	responses := make([]engine.FunctionResponse, 0, len(calls))
	for _, c := range calls {
		responses = append(responses, engine.FunctionResponse{
			ID:      c.ID,
			Name:    c.Name,
			Content: fmt.Sprintf(`{"error":%q}`, "rejected: "+strings.Join(issues, "; ")),
		})
	}
	return []engine.Message{
		{Role: engine.RoleAssistant, Text: text, FunctionCalls: calls},
		{Role: engine.RoleUser, Text: instruction, FunctionResponses: responses},
	}
}

func findDef(defs []engine.FunctionDef, name string) (engine.FunctionDef, bool) {
	for _, d := range defs {
		if d.Name == name {
			return d, true
		}
	}
	return engine.FunctionDef{}, false
}

func withIDs(calls []engine.FunctionCall) []engine.FunctionCall {
	out := make([]engine.FunctionCall, len(calls))
	copy(out, calls)
	seen := make(map[string]bool, len(out))
	for i := range out {
		if out[i].ID == "" || seen[out[i].ID] {
			out[i].ID = engine.NewCallID()
		}
		seen[out[i].ID] = true
	}
	return out
}

func issuesOf(err error) []string {
	if v, ok := err.(*ValidationError); ok {
		return v.Issues
	}
	return []string{err.Error()}
}
