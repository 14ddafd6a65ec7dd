package sourcemap

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/docker/go-units"
	gitignore "github.com/sabhiram/go-gitignore"
)

// Language represents a programming language.
type Language string

const (
	LangGo         Language = "go"
	LangTypeScript Language = "ts"
	LangJavaScript Language = "js"
	LangPython     Language = "python"
	LangRust       Language = "rust"
	LangJava       Language = "java"
	LangKotlin     Language = "kotlin"
	LangC          Language = "c"
	LangCPP        Language = "cpp"
	LangCSharp     Language = "csharp"
	LangRuby       Language = "ruby"
	LangPHP        Language = "php"
	LangSwift      Language = "swift"
	LangShell      Language = "shell"
	LangSQL        Language = "sql"
	LangMarkdown   Language = "markdown"
	LangJSON       Language = "json"
	LangYAML       Language = "yaml"
	LangTOML       Language = "toml"
	LangHTML       Language = "html"
	LangCSS        Language = "css"
	LangText       Language = "text"
)

// FileInfo contains metadata about a discovered source file.
type FileInfo struct {
	Path      string // absolute path
	RelPath   string
	Lang      Language
	Checksum  string // sha256 of the content
	SizeBytes int64
	MtimeUnix int64
}

// WalkError represents an error that occurred during file walking.
type WalkError struct {
	Path string
	Err  error
}

func (e *WalkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// DefaultIgnorePatterns are common directories and files to skip.
var DefaultIgnorePatterns = []string{
	".git",
	".gencode",
	"node_modules",
	"dist",
	"build",
	"vendor",
	"__pycache__",
	"coverage",
	".next",
	".cache",
	"target",
	"bin",
	"obj",
	".idea",
	".vscode",
	".DS_Store",
	"*.lock",
	"package-lock.json",
	"go.sum",
	".env",
	".env.*",
	"*.env",
	"*.pem",
	"*.key",
}

// sniffBytes is how much of a file without a known language is read to tell
// text from binary.
const sniffBytes = 8000

// LanguageDetector defines how to detect file languages.
type LanguageDetector interface {
	Detect(path string) Language
}

// DefaultLanguageDetector detects language from file extension.
type DefaultLanguageDetector struct {
	extMap map[string]Language
}

// NewDefaultLanguageDetector creates a new default language detector.
func NewDefaultLanguageDetector() *DefaultLanguageDetector {
	return &DefaultLanguageDetector{
		extMap: map[string]Language{
			".go":    LangGo,
			".ts":    LangTypeScript,
			".tsx":   LangTypeScript,
			".js":    LangJavaScript,
			".jsx":   LangJavaScript,
			".mjs":   LangJavaScript,
			".py":    LangPython,
			".rs":    LangRust,
			".java":  LangJava,
			".kt":    LangKotlin,
			".c":     LangC,
			".h":     LangC,
			".cpp":   LangCPP,
			".cc":    LangCPP,
			".hpp":   LangCPP,
			".cs":    LangCSharp,
			".rb":    LangRuby,
			".php":   LangPHP,
			".swift": LangSwift,
			".sh":    LangShell,
			".sql":   LangSQL,
			".md":    LangMarkdown,
			".json":  LangJSON,
			".yaml":  LangYAML,
			".yml":   LangYAML,
			".toml":  LangTOML,
			".html":  LangHTML,
			".css":   LangCSS,
			".scss":  LangCSS,
			".txt":   LangText,
		},
	}
}

// Detect detects language from file extension.
func (d *DefaultLanguageDetector) Detect(path string) Language {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := d.extMap[ext]; ok {
		return lang
	}
	return ""
}

// WalkerConfig configures the file walker behavior.
type WalkerConfig struct {
	// MaxConcurrency limits parallel hashing. Default: 4
	MaxConcurrency int
	// MaxFileBytes skips files larger than this. Default: 1MB
	MaxFileBytes int64
	// LanguageDetector for custom language detection. Default: DefaultLanguageDetector
	LanguageDetector LanguageDetector
	// ExtraIgnore adds patterns on top of DefaultIgnorePatterns and .gitignore.
	ExtraIgnore []string
}

// Walker walks a repository and discovers source files.
type Walker struct {
	root          string
	config        WalkerConfig
	ignoreMatcher gitignore.IgnoreParser
	langDetector  LanguageDetector
}

// NewWalker creates a walker for the repository rooted at root.
func NewWalker(root string, config WalkerConfig) (*Walker, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.MaxFileBytes <= 0 {
		config.MaxFileBytes = 1 << 20
	}
	if config.LanguageDetector == nil {
		config.LanguageDetector = NewDefaultLanguageDetector()
	}

	w := &Walker{
		root:         abs,
		config:       config,
		langDetector: config.LanguageDetector,
	}

	patterns := make([]string, 0, len(DefaultIgnorePatterns)+len(config.ExtraIgnore)+10)
	patterns = append(patterns, DefaultIgnorePatterns...)
	patterns = append(patterns, config.ExtraIgnore...)
	patterns = append(patterns, loadGitignorePatterns(abs)...)
	w.ignoreMatcher = gitignore.CompileIgnoreLines(patterns...)

	return w, nil
}

// Root returns the absolute repository root.
func (w *Walker) Root() string { return w.root }

// Ignored reports whether an absolute path is excluded from snapshots.
func (w *Walker) Ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return true
	}
	if rel == "." {
		return false
	}
	return w.ignoreMatcher.MatchesPath(rel)
}

// Tracked reports whether path may be part of a snapshot. Binary files
// pass here and are dropped when the snapshot reads them.
func (w *Walker) Tracked(path string) bool {
	return !w.Ignored(path)
}

// loadGitignorePatterns loads patterns from all .gitignore files in the repo.
func loadGitignorePatterns(root string) []string {
	var patterns []string

	rootGitignore := filepath.Join(root, ".gitignore")
	if lines, err := readGitignoreLines(rootGitignore); err == nil {
		patterns = append(patterns, lines...)
	}

	// Nested files are applied repo-wide.
	filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && (d.Name() == ".git" || d.Name() == "node_modules") {
			return filepath.SkipDir
		}
		if d.IsDir() || d.Name() != ".gitignore" || path == rootGitignore {
			return nil
		}
		if lines, err := readGitignoreLines(path); err == nil {
			patterns = append(patterns, lines...)
		}
		return nil
	})

	return patterns
}

// readGitignoreLines reads patterns from a .gitignore file.
func readGitignoreLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return lines, nil
}

// Snapshot walks the repository and returns the files with checksums and ids.
// Per-file errors are collected and do not fail the walk.
func (w *Walker) Snapshot(ctx context.Context) (*Snapshot, error) {
	pathChan := make(chan string, 100)

	var (
		mu     sync.Mutex
		files  []FileInfo
		errors []WalkError
		wg     sync.WaitGroup
	)
	for i := 0; i < w.config.MaxConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range pathChan {
				info, err := w.fileInfo(path)
				mu.Lock()
				if err != nil {
					errors = append(errors, WalkError{Path: path, Err: err})
				} else if info != nil {
					files = append(files, *info)
				}
				mu.Unlock()
			}
		}()
	}

	walkErr := filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			mu.Lock()
			errors = append(errors, WalkError{Path: path, Err: err})
			mu.Unlock()
			return nil
		}
		if path == w.root {
			return nil
		}
		if w.Ignored(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		select {
		case pathChan <- path:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
	close(pathChan)
	wg.Wait()

	if walkErr != nil {
		return nil, fmt.Errorf("walk %s: %w", w.root, walkErr)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return NewSnapshot(w.root, files, errors), nil
}

// fileInfo reads file metadata and computes its checksum. Oversized files
// return an error; binary files without a known language return nil.
func (w *Walker) fileInfo(path string) (*FileInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if stat.Size() > w.config.MaxFileBytes {
		return nil, fmt.Errorf("skipped: %s exceeds limit of %s",
			units.HumanSize(float64(stat.Size())), units.HumanSize(float64(w.config.MaxFileBytes)))
	}

	lang := w.langDetector.Detect(path)
	if lang == "" {
		text, err := isText(path)
		if err != nil {
			return nil, err
		}
		if !text {
			return nil, nil
		}
	}

	checksum, err := Checksum(path)
	if err != nil {
		return nil, err
	}
	rel, _ := filepath.Rel(w.root, path)

	return &FileInfo{
		Path:      path,
		RelPath:   filepath.ToSlash(rel),
		Lang:      lang,
		Checksum:  checksum,
		SizeBytes: stat.Size(),
		MtimeUnix: stat.ModTime().Unix(),
	}, nil
}

// isText reports whether the start of a file holds no NUL byte.
func isText(path string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	buf := make([]byte, sniffBytes)
	n, err := io.ReadFull(file, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return false, fmt.Errorf("failed to read file: %w", err)
	}
	return bytes.IndexByte(buf[:n], 0) < 0, nil
}

// Checksum returns the hex sha256 of a file.
func Checksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}

// ChecksumBytes returns the hex sha256 of content.
func ChecksumBytes(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}
