package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log"
	"os"
	"path/filepath"

	units "github.com/docker/go-units"

	"github.com/ChamsBouzaiene/gencode/internal/config"
	"github.com/ChamsBouzaiene/gencode/internal/contextopt"
	"github.com/ChamsBouzaiene/gencode/internal/engine"
	"github.com/ChamsBouzaiene/gencode/internal/project"
	"github.com/ChamsBouzaiene/gencode/internal/prompts"
	"github.com/ChamsBouzaiene/gencode/internal/providers"
	"github.com/ChamsBouzaiene/gencode/internal/search"
	"github.com/ChamsBouzaiene/gencode/internal/session"
	"github.com/ChamsBouzaiene/gencode/internal/sourcemap"
	"github.com/ChamsBouzaiene/gencode/internal/summary"
	"github.com/ChamsBouzaiene/gencode/internal/workspace"
)

// summaryCacheSize is the number of entries kept in memory in front of sqlite.
const summaryCacheSize = 2048

type runtimeEnv struct {
	RepoRoot     string
	Options      engine.Options
	SystemPrompt string
	Backends     []providers.Backend
	Context      *contextopt.Manager
	Search       *search.Index
	Sessions     *session.Store
	Logger       *log.Logger

	cache   *summary.Cache
	watcher *summary.Watcher
}

func (r *runtimeEnv) Close() {
	if r.watcher != nil {
		r.watcher.Stop()
	}
	if r.cache != nil {
		if err := r.cache.Close(); err != nil {
			log.Printf("⚠️  Failed to close summary cache: %v", err)
		}
	}
}

// NewRouter returns a fresh fallback router. Each conversation gets its own
// so a provider switch lasts exactly one conversation.
func (r *runtimeEnv) NewRouter() (*providers.Router, error) {
	retry := engine.DefaultProviderRetryPolicy()
	return providers.NewRouter(r.Backends, providers.RouterConfig{Retry: &retry, Logger: r.Logger})
}

// resolveRepoRoot returns the absolute repository root, defaulting to the
// current directory.
func resolveRepoRoot(repoFlag string) (string, error) {
	repoRoot := repoFlag
	if repoRoot == "" {
		var err error
		repoRoot, err = os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
	}
	absRepoRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return "", fmt.Errorf("failed to resolve repository path: %w", err)
	}
	if info, err := os.Stat(absRepoRoot); err != nil || !info.IsDir() {
		return "", fmt.Errorf("repository path is not a valid directory: %s", absRepoRoot)
	}
	return absRepoRoot, nil
}

func prepareRuntimeEnv(ctx context.Context, repoFlag string, providerNames []string) (*runtimeEnv, error) {
	absRepoRoot, err := resolveRepoRoot(repoFlag)
	if err != nil {
		return nil, err
	}
	log.Printf("Repository root: %s", absRepoRoot)

	cfgManager, err := config.NewManager()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}
	userConfig, err := cfgManager.Load()
	if err != nil {
		return nil, err
	}
	if cfgManager.Exists() {
		log.Printf("User config loaded from: %s", cfgManager.GetConfigPath())
	}

	projectConfig, err := project.LoadConfig(absRepoRoot)
	if err != nil {
		return nil, err
	}
	opts := projectConfig.Apply(userConfig.Options())

	rules, err := project.LoadRules(absRepoRoot)
	if err != nil {
		return nil, err
	}
	profile := workspace.DetectProject(absRepoRoot)
	log.Printf("Project type: %s", profile.Describe())
	systemPrompt, err := prompts.System(absRepoRoot, profile.Describe(), opts.Permissions, rules)
	if err != nil {
		return nil, err
	}

	if len(providerNames) == 0 {
		providerNames = userConfig.Providers
	}
	if len(providerNames) == 0 {
		providerNames = providers.ProvidersFromEnv()
	}
	backends, err := providers.BackendsFromEnv(ctx, providerNames)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(backends))
	for i, b := range backends {
		names[i] = b.Name
	}
	log.Printf("Providers (in fallback order): %v", names)

	env := &runtimeEnv{
		RepoRoot:     absRepoRoot,
		Options:      opts,
		SystemPrompt: systemPrompt,
		Backends:     backends,
		Sessions:     session.NewStore(cfgManager.Dir()),
		Logger:       log.Default(),
	}

	var ignore []string
	if projectConfig != nil {
		ignore = projectConfig.Ignore
	}
	walker, err := sourcemap.NewWalker(absRepoRoot, sourcemap.WalkerConfig{ExtraIgnore: ignore})
	if err != nil {
		return nil, err
	}

	dbPath := filepath.Join(cfgManager.Dir(), "cache", generateRepoID(absRepoRoot)+".db")
	store, err := summary.OpenSQLiteStore(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	cache, err := summary.Open(ctx, store, summaryCacheSize)
	if err != nil {
		store.Close()
		return nil, err
	}
	env.cache = cache
	stats := cache.Stats(ctx)
	if stats.Discarded {
		log.Printf("⚠️  Summary cache was written by another version; starting empty")
	}
	var dbSize int64
	if info, err := os.Stat(dbPath); err == nil {
		dbSize = info.Size()
	}
	log.Printf("Summary cache: %d files, %s on disk (%s)", stats.Entries, units.HumanSize(float64(dbSize)), dbPath)

	// Background summarization gets its own router so a switch there does
	// not leak into conversations.
	summaryRouter, err := env.NewRouter()
	if err != nil {
		env.Close()
		return nil, err
	}
	summarizer := summary.NewSummarizer(summaryRouter, cache, summary.SummarizerOptions{Logger: env.Logger})

	env.Context = contextopt.NewManager(contextopt.ManagerConfig{
		Walker:     walker,
		Summarizer: summarizer,
		Sources:    summary.Sources{Cache: cache},
		Optimizer:  contextopt.NewOptimizer(cache.PopularDependencies),
		Logger:     env.Logger,
	})

	env.Search, err = search.New(cache.All)
	if err != nil {
		env.Close()
		return nil, err
	}

	if userConfig.AutoRefresh {
		w, err := summary.NewWatcher(absRepoRoot, cache, walker)
		if err != nil {
			log.Printf("⚠️  Failed to create file watcher: %v (auto refresh disabled)", err)
		} else {
			w.OnChange(func(paths []string) {
				log.Printf("🔄 %d file(s) changed; summaries will be refreshed on the next request", len(paths))
			})
			if err := w.Start(); err != nil {
				log.Printf("⚠️  Failed to start file watcher: %v (auto refresh disabled)", err)
				w.Stop()
			} else {
				env.watcher = w
			}
		}
	}

	return env, nil
}

// generateRepoID generates a unique ID for a repository based on its path.
func generateRepoID(path string) string {
	hash := sha256.Sum256([]byte(path))
	return fmt.Sprintf("%x", hash[:8])
}
