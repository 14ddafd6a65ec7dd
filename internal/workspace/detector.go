// Package workspace recognizes the kind of project gencode works on.
package workspace

import (
	"os"
	"path/filepath"
	"strings"
)

// ProjectType represents the type of project.
type ProjectType string

const (
	ProjectTypeGo      ProjectType = "go"
	ProjectTypeNode    ProjectType = "node"
	ProjectTypePython  ProjectType = "python"
	ProjectTypeRust    ProjectType = "rust"
	ProjectTypeJava    ProjectType = "java"
	ProjectTypeUnknown ProjectType = "unknown"
)

// Profile is what the model is told about the project up front.
type Profile struct {
	Type     ProjectType
	Manifest string // manifest file that decided Type, empty for the extension fallback
}

// Describe renders the profile for the system prompt.
func (p Profile) Describe() string {
	switch {
	case p.Type == ProjectTypeUnknown:
		return "unknown project type"
	case p.Manifest != "":
		return string(p.Type) + " project (" + p.Manifest + ")"
	default:
		return string(p.Type) + " project"
	}
}

// manifests are checked in order; the first one present wins.
var manifests = []struct {
	file string
	typ  ProjectType
}{
	{"go.mod", ProjectTypeGo},
	{"package.json", ProjectTypeNode},
	{"pyproject.toml", ProjectTypePython},
	{"requirements.txt", ProjectTypePython},
	{"Cargo.toml", ProjectTypeRust},
	{"pom.xml", ProjectTypeJava},
	{"build.gradle", ProjectTypeJava},
	{"build.gradle.kts", ProjectTypeJava},
}

var extensionTypes = map[string]ProjectType{
	".go":   ProjectTypeGo,
	".ts":   ProjectTypeNode,
	".tsx":  ProjectTypeNode,
	".js":   ProjectTypeNode,
	".jsx":  ProjectTypeNode,
	".py":   ProjectTypePython,
	".rs":   ProjectTypeRust,
	".java": ProjectTypeJava,
	".kt":   ProjectTypeJava,
}

// minFallbackFiles is how many root files of one kind the extension
// fallback needs before it names a type.
const minFallbackFiles = 3

// DetectProject detects the project type using manifest-first detection with
// an extension fallback over the files directly under repoRoot.
func DetectProject(repoRoot string) Profile {
	for _, m := range manifests {
		if _, err := os.Stat(filepath.Join(repoRoot, m.file)); err == nil {
			return Profile{Type: m.typ, Manifest: m.file}
		}
	}

	entries, err := os.ReadDir(repoRoot)
	if err != nil {
		return Profile{Type: ProjectTypeUnknown}
	}
	counts := make(map[ProjectType]int)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if t, ok := extensionTypes[strings.ToLower(filepath.Ext(entry.Name()))]; ok {
			counts[t]++
		}
	}

	best := Profile{Type: ProjectTypeUnknown}
	bestCount := minFallbackFiles - 1
	// Iterate in a fixed order so ties resolve the same way every run.
	for _, t := range []ProjectType{ProjectTypeGo, ProjectTypeNode, ProjectTypePython, ProjectTypeRust, ProjectTypeJava} {
		if counts[t] > bestCount {
			best.Type = t
			bestCount = counts[t]
		}
	}
	return best
}
