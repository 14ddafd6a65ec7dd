package mutation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/gencode/internal/engine"
	"github.com/ChamsBouzaiene/gencode/internal/fileops"
)

type respondFunc func(required, instruction string) (engine.GenerateResult, error)

// codegenBackend answers generation requests through respond and records them.
type codegenBackend struct {
	mu          sync.Mutex
	respond     respondFunc
	requests    []string
	transcripts [][]engine.Message
}

func (b *codegenBackend) GenerateContent(ctx context.Context, transcript []engine.Message, defs []engine.FunctionDef, opts engine.GenerateOptions) (engine.GenerateResult, error) {
	instruction := transcript[len(transcript)-1].Text
	b.mu.Lock()
	b.requests = append(b.requests, opts.RequiredFunction+" "+strings.SplitN(instruction, "\n", 2)[0])
	b.transcripts = append(b.transcripts, transcript)
	b.mu.Unlock()
	return b.respond(opts.RequiredFunction, instruction)
}

func (b *codegenBackend) count(prefix string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, r := range b.requests {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}
	return n
}

func fullContent(required, instruction string) (engine.GenerateResult, error) {
	return engine.GenerateResult{Calls: []engine.FunctionCall{{
		ID:   "c",
		Name: required,
		Args: map[string]any{"filePath": "ignored", "newContent": "// " + strings.SplitN(instruction, "\n", 2)[0] + "\n"},
	}}}, nil
}

type fakeImages struct{ data []byte }

func (f fakeImages) GenerateImage(ctx context.Context, req engine.ImageRequest) (engine.ImageResult, error) {
	return engine.ImageResult{Data: f.data, MediaType: "image/png"}, nil
}

func allPermissions() engine.Permissions {
	return engine.Permissions{AllowFileCreate: true, AllowFileDelete: true, AllowDirectoryCreate: true, AllowFileMove: true}
}

func setup(t *testing.T, backend engine.ModelBackend, perms engine.Permissions, confirm ConfirmFunc) (*Executor, *engine.Conversation, string) {
	t.Helper()
	root := t.TempDir()
	ops, err := fileops.New(root, nil, nil)
	require.NoError(t, err)

	opts := engine.DefaultOptions()
	opts.Permissions = perms
	opts.ImagesEnabled = true
	conv := engine.NewConversation(context.Background(), engine.ConversationConfig{
		SystemPrompt: "sys",
		Options:      opts,
		Backend:      backend,
		Images:       fakeImages{data: []byte{0x89, 'P', 'N', 'G'}},
	})
	t.Cleanup(conv.Close)
	conv.Transcript.Append(engine.Message{Role: engine.RoleUser, Text: "make the change"})
	return NewExecutor(Config{Ops: ops, Confirm: confirm}), conv, ops.Root()
}

func TestExecuteRespectsDependencyOrder(t *testing.T) {
	be := &codegenBackend{respond: fullContent}
	exec, conv, root := setup(t, be, allPermissions(), nil)

	res, err := exec.Execute(context.Background(), conv, CodegenSummary{FileUpdates: []FileUpdate{
		{ID: "2", FilePath: "b.go", UpdateToolName: ToolCreateFile, Prompt: "use a", DependsOn: []string{"1"}},
		{ID: "1", FilePath: "a.go", UpdateToolName: ToolCreateFile, Prompt: "define a"},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, res.Order())
	assert.Equal(t, []string{"createFile Call createFile for the file a.go.", "createFile Call createFile for the file b.go."}, be.requests)

	// The second request sees the first file's accepted call.
	var sawFirst bool
	for _, m := range be.transcripts[1] {
		for _, c := range m.FunctionCalls {
			if c.Name == ToolCreateFile && c.Args["filePath"] == "a.go" {
				sawFirst = true
			}
		}
	}
	assert.True(t, sawFirst)

	data, err := os.ReadFile(filepath.Join(root, "b.go"))
	require.NoError(t, err)
	assert.Equal(t, "// Call createFile for the file b.go.\n", string(data))
	assert.Len(t, res.Applied, 2)

	require.NoError(t, conv.Transcript.Validate())
	for _, m := range conv.Transcript.Messages() {
		for _, r := range m.FunctionResponses {
			assert.Empty(t, r.Content, "accepted updates are answered with empty content")
		}
	}
}

func TestExecuteCycleWritesNothing(t *testing.T) {
	be := &codegenBackend{respond: fullContent}
	exec, conv, root := setup(t, be, allPermissions(), nil)

	res, err := exec.Execute(context.Background(), conv, CodegenSummary{FileUpdates: []FileUpdate{
		{ID: "A", FilePath: "a.go", UpdateToolName: ToolCreateFile, DependsOn: []string{"B"}},
		{ID: "B", FilePath: "b.go", UpdateToolName: ToolCreateFile, DependsOn: []string{"A"}},
	}})
	require.NoError(t, err)
	assert.Empty(t, be.requests)
	assert.Empty(t, res.Changes)
	require.Len(t, res.Rejected, 1)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NotEmpty(t, conv.Notices())
}

func TestExecutePatchFailureFallsBackToFullContent(t *testing.T) {
	be := &codegenBackend{respond: func(required, instruction string) (engine.GenerateResult, error) {
		if required == ToolPatchFile {
			return engine.GenerateResult{Calls: []engine.FunctionCall{{
				ID:   "p",
				Name: ToolPatchFile,
				Args: map[string]any{"filePath": "a.txt", "patch": "@@ -1,1 +1,1 @@\n-does not exist\n+x\n"},
			}}}, nil
		}
		return engine.GenerateResult{Calls: []engine.FunctionCall{{
			ID:   "u",
			Name: ToolUpdateFile,
			Args: map[string]any{"filePath": "a.txt", "newContent": "one\nTWO\n"},
		}}}, nil
	}}
	exec, conv, root := setup(t, be, allPermissions(), nil)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("one\ntwo\n"), 0o644))

	res, err := exec.Execute(context.Background(), conv, CodegenSummary{FileUpdates: []FileUpdate{
		{ID: "1", FilePath: "a.txt", UpdateToolName: ToolPatchFile, Prompt: "capitalize"},
	}})
	require.NoError(t, err)
	require.Len(t, res.Applied, 1)
	assert.Equal(t, ToolUpdateFile, res.Applied[0].Tool)
	assert.Equal(t, 1, be.count(ToolPatchFile))
	assert.Equal(t, 1, be.count(ToolUpdateFile))

	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "one\nTWO\n", string(data))

	// The failed patch is answered with its error and followed by the full update.
	var calls []engine.FunctionCall
	var responses []engine.FunctionResponse
	for _, m := range conv.Transcript.Messages() {
		calls = append(calls, m.FunctionCalls...)
		responses = append(responses, m.FunctionResponses...)
	}
	require.Len(t, calls, 2)
	assert.Equal(t, ToolPatchFile, calls[0].Name)
	assert.Equal(t, ToolUpdateFile, calls[1].Name)
	assert.Contains(t, responses[0].Content, "error")
	assert.Empty(t, responses[1].Content)
	require.NoError(t, conv.Transcript.Validate())
}

func TestExecuteDeclinedAppliesNothing(t *testing.T) {
	be := &codegenBackend{respond: fullContent}
	var asked string
	exec, conv, root := setup(t, be, allPermissions(), func(ctx context.Context, message string) (bool, error) {
		asked = message
		return false, nil
	})

	res, err := exec.Execute(context.Background(), conv, CodegenSummary{FileUpdates: []FileUpdate{
		{ID: "1", FilePath: "a.go", UpdateToolName: ToolCreateFile},
	}})
	require.NoError(t, err)
	assert.True(t, res.Declined)
	assert.Contains(t, asked, "createFile a.go")
	assert.Empty(t, res.Applied)
	_, err = os.Stat(filepath.Join(root, "a.go"))
	assert.True(t, os.IsNotExist(err))
}

func TestExecutePermissionDenied(t *testing.T) {
	be := &codegenBackend{respond: fullContent}
	exec, conv, root := setup(t, be, engine.Permissions{}, nil)

	res, err := exec.Execute(context.Background(), conv, CodegenSummary{FileUpdates: []FileUpdate{
		{ID: "1", FilePath: "a.go", UpdateToolName: ToolCreateFile},
	}})
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	var denied *engine.PermissionDeniedError
	assert.ErrorAs(t, res.Failures[0].Err, &denied)
	_, err = os.Stat(filepath.Join(root, "a.go"))
	assert.True(t, os.IsNotExist(err))

	var found bool
	for _, n := range conv.Notices() {
		if strings.HasPrefix(n, "Permission denied") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestExecuteImageBecomesDownload(t *testing.T) {
	be := &codegenBackend{respond: func(required, instruction string) (engine.GenerateResult, error) {
		return engine.GenerateResult{Calls: []engine.FunctionCall{{
			ID:   "i",
			Name: ToolGenerateImage,
			Args: map[string]any{"prompt": "a cat", "filePath": "logo.png", "width": 256, "height": 256},
		}}}, nil
	}}
	exec, conv, root := setup(t, be, allPermissions(), nil)

	res, err := exec.Execute(context.Background(), conv, CodegenSummary{FileUpdates: []FileUpdate{
		{ID: "1", FilePath: "assets/logo.png", UpdateToolName: ToolGenerateImage, Prompt: "logo"},
	}})
	require.NoError(t, err)
	require.Len(t, res.Applied, 1)
	assert.Equal(t, ToolDownloadFile, res.Applied[0].Tool)

	data, err := os.ReadFile(filepath.Join(root, "assets", "logo.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data)

	var names []string
	for _, m := range conv.Transcript.Messages() {
		for _, c := range m.FunctionCalls {
			names = append(names, c.Name)
		}
	}
	assert.Equal(t, []string{ToolGenerateImage, ToolDownloadFile}, names)
}

func TestExecuteProviderErrorStopsNextLayer(t *testing.T) {
	providerDown := errors.New("provider down")
	be := &codegenBackend{respond: func(required, instruction string) (engine.GenerateResult, error) {
		if strings.Contains(instruction, "a.go") {
			return engine.GenerateResult{}, providerDown
		}
		return fullContent(required, instruction)
	}}
	exec, conv, root := setup(t, be, allPermissions(), nil)

	res, err := exec.Execute(context.Background(), conv, CodegenSummary{FileUpdates: []FileUpdate{
		{ID: "a", FilePath: "a.go", UpdateToolName: ToolCreateFile},
		{ID: "b", FilePath: "b.go", UpdateToolName: ToolCreateFile},
		{ID: "c", FilePath: "c.go", UpdateToolName: ToolCreateFile, DependsOn: []string{"b"}},
	}})
	require.ErrorIs(t, err, providerDown)
	assert.Equal(t, []string{"b"}, res.Order(), "the sibling finished")
	assert.Equal(t, 0, be.count("createFile Call createFile for the file c.go"))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
	require.NoError(t, conv.Transcript.Validate())
}

func TestExecuteAbortBeforeApply(t *testing.T) {
	be := &codegenBackend{respond: fullContent}
	exec, conv, root := setup(t, be, allPermissions(), func(ctx context.Context, message string) (bool, error) {
		return true, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	be.respond = func(required, instruction string) (engine.GenerateResult, error) {
		cancel()
		return fullContent(required, instruction)
	}
	_, err := exec.Execute(ctx, conv, CodegenSummary{FileUpdates: []FileUpdate{
		{ID: "1", FilePath: "a.go", UpdateToolName: ToolCreateFile},
	}})
	assert.ErrorIs(t, err, engine.ErrAborted)
	entries, _ := os.ReadDir(root)
	assert.Empty(t, entries)
}

func TestExecuteDirect(t *testing.T) {
	be := &codegenBackend{respond: func(required, instruction string) (engine.GenerateResult, error) {
		return engine.GenerateResult{Calls: []engine.FunctionCall{{
			ID:   "d",
			Name: required,
			Args: map[string]any{"filePath": "./pkg/../main.go", "newContent": "package main\n", "explanation": "entry point"},
		}}}, nil
	}}
	var asked []string
	exec, conv, root := setup(t, be, allPermissions(), func(ctx context.Context, message string) (bool, error) {
		asked = append(asked, message)
		return true, nil
	})

	res, err := exec.ExecuteDirect(context.Background(), conv, ToolCreateFile, "add a main package")
	require.NoError(t, err)
	require.Len(t, res.Applied, 1)
	assert.Equal(t, "main.go", res.Applied[0].RelPath)
	require.Len(t, asked, 1)
	assert.Contains(t, asked[0], "createFile main.go")
	assert.Equal(t, []string{"createFile Call createFile."}, be.requests)

	data, err := os.ReadFile(filepath.Join(root, "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(data))
	require.NoError(t, conv.Transcript.Validate())
}

func TestExecuteDirectRejectsEscapingPath(t *testing.T) {
	be := &codegenBackend{respond: func(required, instruction string) (engine.GenerateResult, error) {
		return engine.GenerateResult{Calls: []engine.FunctionCall{{
			ID:   "d",
			Name: required,
			Args: map[string]any{"filePath": "../outside.go", "newContent": "x"},
		}}}, nil
	}}
	exec, conv, _ := setup(t, be, allPermissions(), nil)

	res, err := exec.ExecuteDirect(context.Background(), conv, ToolUpdateFile, "edit")
	require.NoError(t, err)
	assert.Empty(t, res.Changes)
	require.Len(t, res.Failures, 1)
	require.NoError(t, conv.Transcript.Validate())

	_, err = exec.ExecuteDirect(context.Background(), conv, ToolDeleteFile, "remove")
	assert.Error(t, err)
}

func patchBackend(diff string) *codegenBackend {
	return &codegenBackend{respond: func(required, instruction string) (engine.GenerateResult, error) {
		return engine.GenerateResult{Calls: []engine.FunctionCall{{
			ID:   "p",
			Name: ToolPatchFile,
			Args: map[string]any{"filePath": "a.txt", "patch": diff},
		}}}, nil
	}}
}

func TestExecutePatchApplied(t *testing.T) {
	be := patchBackend("@@ -2,1 +2,1 @@\n-two\n+TWO\n")
	exec, conv, root := setup(t, be, engine.Permissions{}, nil)
	path := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o600))

	res, err := exec.Execute(context.Background(), conv, CodegenSummary{FileUpdates: []FileUpdate{
		{ID: "1", FilePath: "a.txt", UpdateToolName: ToolPatchFile, Prompt: "capitalize"},
	}})
	require.NoError(t, err)
	require.Len(t, res.Applied, 1)
	assert.Equal(t, ToolPatchFile, res.Applied[0].Tool)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "one\nTWO\nthree\n", string(data))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestExecutePatchWritesGeneratedContentWhenDiskDrifted(t *testing.T) {
	be := patchBackend("@@ -2,1 +2,1 @@\n-two\n+TWO\n")
	var path string
	exec, conv, root := setup(t, be, engine.Permissions{}, func(ctx context.Context, message string) (bool, error) {
		// Edited by someone else between generation and apply.
		return true, os.WriteFile(path, []byte("ZERO\ntwo\nthree\n"), 0o644)
	})
	path = filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o644))

	res, err := exec.Execute(context.Background(), conv, CodegenSummary{FileUpdates: []FileUpdate{
		{ID: "1", FilePath: "a.txt", UpdateToolName: ToolPatchFile, Prompt: "capitalize"},
	}})
	require.NoError(t, err)
	require.Len(t, res.Applied, 1)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "one\nTWO\nthree\n", string(data), "the reviewed content is what lands on disk")
}

func TestExecuteDirectUndecodableCallIsAFailure(t *testing.T) {
	be := &codegenBackend{respond: func(required, instruction string) (engine.GenerateResult, error) {
		return engine.GenerateResult{Calls: []engine.FunctionCall{{
			ID:   "d",
			Name: required,
			Args: map[string]any{"filePath": 42, "newContent": "x"},
		}}}, nil
	}}
	exec, conv, root := setup(t, be, allPermissions(), nil)

	res, err := exec.ExecuteDirect(context.Background(), conv, ToolCreateFile, "add")
	require.NoError(t, err)
	assert.Empty(t, res.Applied)
	require.Len(t, res.Failures, 1)
	require.NoError(t, conv.Transcript.Validate())

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
