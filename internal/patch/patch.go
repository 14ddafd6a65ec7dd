// Package patch applies unified diffs produced by the model to file content in memory.
package patch

import (
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// ApplicationError reports a diff that does not apply to the current content.
type ApplicationError struct {
	Path   string
	Hunk   int // 1-based
	Reason string
}

func (e *ApplicationError) Error() string {
	if e.Hunk > 0 {
		return fmt.Sprintf("patch %s: hunk %d: %s", e.Path, e.Hunk, e.Reason)
	}
	return fmt.Sprintf("patch %s: %s", e.Path, e.Reason)
}

// maxOffset is how far a hunk may move from its declared position.
const maxOffset = 200

// Apply applies a single-file unified diff to original and returns the new
// content. Context and removed lines must match the original, ignoring
// trailing whitespace; a hunk whose header line numbers are off is searched
// for nearby.
func Apply(path, original, diffText string) (string, error) {
	if strings.TrimSpace(diffText) == "" {
		return "", &ApplicationError{Path: path, Reason: "empty diff"}
	}
	if !strings.HasPrefix(diffText, "---") && !strings.HasPrefix(diffText, "diff ") {
		diffText = "--- a/" + path + "\n+++ b/" + path + "\n" + diffText
	}
	if !strings.HasSuffix(diffText, "\n") {
		diffText += "\n"
	}

	fd, err := diff.ParseFileDiff([]byte(diffText))
	if err != nil {
		return "", &ApplicationError{Path: path, Reason: fmt.Sprintf("malformed diff: %v", err)}
	}
	if len(fd.Hunks) == 0 {
		return "", &ApplicationError{Path: path, Reason: "diff has no hunks"}
	}

	trailingNewline := strings.HasSuffix(original, "\n")
	lines := splitLines(original)

	var out []string
	pos := 0
	for i, h := range fd.Hunks {
		old, added := hunkLines(h.Body)

		want := int(h.OrigStartLine) - 1
		if len(old) == 0 {
			// Pure insertion after line OrigStartLine.
			want = int(h.OrigStartLine)
		}
		if want < 0 {
			want = 0
		}
		at, ok := locate(lines, old, want, pos)
		if !ok {
			return "", &ApplicationError{Path: path, Hunk: i + 1, Reason: fmt.Sprintf("context does not match near line %d", want+1)}
		}

		out = append(out, lines[pos:at]...)
		out = append(out, added...)
		pos = at + len(old)
	}
	out = append(out, lines[pos:]...)

	result := strings.Join(out, "\n")
	if trailingNewline && len(out) > 0 {
		result += "\n"
	}
	return result, nil
}

// hunkLines splits a hunk body into the lines it expects in the original and
// the lines it produces.
func hunkLines(body []byte) (old, added []string) {
	text := strings.TrimSuffix(string(body), "\n")
	if text == "" {
		return nil, nil
	}
	for _, line := range strings.Split(text, "\n") {
		if line == "" {
			// Blank context line with its leading space stripped.
			old = append(old, "")
			added = append(added, "")
			continue
		}
		switch line[0] {
		case ' ':
			old = append(old, line[1:])
			added = append(added, line[1:])
		case '-':
			old = append(old, line[1:])
		case '+':
			added = append(added, line[1:])
		case '\\':
			// "\ No newline at end of file"
		default:
			old = append(old, line)
			added = append(added, line)
		}
	}
	return old, added
}

// locate finds where old matches lines, preferring the declared position and
// never before min.
func locate(lines, old []string, want, min int) (int, bool) {
	if want < min {
		want = min
	}
	for d := 0; d <= maxOffset; d++ {
		for _, at := range []int{want + d, want - d} {
			if d == 0 && at != want {
				continue
			}
			if at < min || at+len(old) > len(lines) {
				continue
			}
			if matches(lines[at:at+len(old)], old) {
				return at, true
			}
		}
	}
	return 0, false
}

func matches(got, want []string) bool {
	for i := range want {
		if strings.TrimRight(got[i], " \t\r") != strings.TrimRight(want[i], " \t\r") {
			return false
		}
	}
	return true
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
