package mutation

import (
	"github.com/ChamsBouzaiene/gencode/internal/engine"
	"github.com/ChamsBouzaiene/gencode/internal/validation"
)

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

var (
	createFileDef = engine.FunctionDef{
		Name:        ToolCreateFile,
		Description: "Create a new file with the given content.",
		Parameters: validation.MustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filePath":    str("Path of the file to create."),
				"newContent":  str("Complete content of the new file."),
				"explanation": str("Short explanation of the change."),
			},
			"required": []string{"filePath", "newContent"},
		}),
	}

	updateFileDef = engine.FunctionDef{
		Name:        ToolUpdateFile,
		Description: "Replace the whole content of an existing file.",
		Parameters: validation.MustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filePath":    str("Path of the file to update."),
				"newContent":  str("Complete new content of the file."),
				"explanation": str("Short explanation of the change."),
			},
			"required": []string{"filePath", "newContent"},
		}),
	}

	patchFileDef = engine.FunctionDef{
		Name:        ToolPatchFile,
		Description: "Change an existing file with a unified diff.",
		Parameters: validation.MustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filePath":    str("Path of the file to patch."),
				"patch":       str("Unified diff with enough context lines to apply cleanly."),
				"explanation": str("Short explanation of the change."),
			},
			"required": []string{"filePath", "patch"},
		}),
	}

	moveFileDef = engine.FunctionDef{
		Name:        ToolMoveFile,
		Description: "Move or rename a file.",
		Parameters: validation.MustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"source":      str("Current path of the file."),
				"destination": str("New path of the file."),
			},
			"required": []string{"source", "destination"},
		}),
	}

	generateImageDef = engine.FunctionDef{
		Name:        ToolGenerateImage,
		Description: "Generate an image and save it to a file.",
		Parameters: validation.MustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt":      str("Description of the image."),
				"filePath":    str("Path where the image is saved."),
				"width":       map[string]any{"type": "integer", "minimum": 16, "maximum": 4096},
				"height":      map[string]any{"type": "integer", "minimum": 16, "maximum": 4096},
				"explanation": str("Short explanation of the change."),
			},
			"required": []string{"prompt", "filePath"},
		}),
	}
)

func defFor(tool string) (engine.FunctionDef, bool) {
	switch tool {
	case ToolCreateFile:
		return createFileDef, true
	case ToolUpdateFile:
		return updateFileDef, true
	case ToolPatchFile:
		return patchFileDef, true
	case ToolMoveFile:
		return moveFileDef, true
	case ToolGenerateImage:
		return generateImageDef, true
	}
	return engine.FunctionDef{}, false
}

// GenerationDefs returns the function definitions the executor may require.
func GenerationDefs() []engine.FunctionDef {
	return []engine.FunctionDef{createFileDef, updateFileDef, patchFileDef, moveFileDef, generateImageDef}
}

func fileUpdatesSchema() map[string]any {
	return map[string]any{
		"type": "array",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id":             str("Unique id of the update within the batch."),
				"filePath":       str("Path of the file to change."),
				"updateToolName": map[string]any{"type": "string", "enum": UpdateTools},
				"prompt":         str("Detailed instructions for generating this file's change."),
				"temperature":    map[string]any{"type": "number", "minimum": 0, "maximum": 2},
				"cheap":          map[string]any{"type": "boolean", "description": "Use the cheaper model for a simple change."},
				"contextImageAssets": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
				"dependsOn": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Ids of updates that must be generated before this one.",
				},
			},
			"required": []string{"id", "filePath", "updateToolName", "prompt"},
		},
	}
}

var (
	// CodegenSummaryDef declares the plan returned before code generation.
	CodegenSummaryDef = engine.FunctionDef{
		Name:        "codegenSummary",
		Description: "Plan the file updates needed for the request.",
		Parameters: validation.MustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"explanation": str("What will change and why."),
				"fileUpdates": fileUpdatesSchema(),
				"contextPaths": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Files whose content is needed to generate the updates.",
				},
			},
			"required": []string{"explanation", "fileUpdates"},
		}),
	}

	// CompoundActionDef declares a batch of file operations.
	CompoundActionDef = engine.FunctionDef{
		Name:        "compoundAction",
		Description: "Run several file operations as one batch.",
		Parameters: validation.MustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"summary": str("Short summary of the batch."),
				"actions": fileUpdatesSchema(),
			},
			"required": []string{"summary", "actions"},
		}),
	}
)
