package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ChamsBouzaiene/gencode/internal/config"
	"github.com/ChamsBouzaiene/gencode/internal/engine"
	"github.com/ChamsBouzaiene/gencode/internal/fileops"
	"github.com/ChamsBouzaiene/gencode/internal/handlers"
	"github.com/ChamsBouzaiene/gencode/internal/interaction"
	"github.com/ChamsBouzaiene/gencode/internal/mutation"
	"github.com/ChamsBouzaiene/gencode/internal/session"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		log.Fatalf("gencode: %v", err)
	}
}

// keepSessions is how many archived conversations are kept per repository.
const keepSessions = 50

type imageFlags []string

func (f *imageFlags) String() string     { return strings.Join(*f, ",") }
func (f *imageFlags) Set(v string) error { *f = append(*f, v); return nil }

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("gencode", flag.ExitOnError)
	repoFlag := fs.String("repo", "", "Path to repository root (default: current directory)")
	promptFlag := fs.String("p", "", "Run a single request and exit")
	providersFlag := fs.String("providers", "", "Comma-separated providers in fallback order (default: user config, then GENCODE_PROVIDERS)")
	eventsFlag := fs.String("events", "", "Append engine events as NDJSON to this file")
	sessionsFlag := fs.Bool("sessions", false, "List archived conversations of the repository and exit")
	var images imageFlags
	fs.Var(&images, "image", "Image to attach to the -p request (repeatable)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	var providerNames []string
	for _, p := range strings.Split(*providersFlag, ",") {
		if p = strings.TrimSpace(p); p != "" {
			providerNames = append(providerNames, p)
		}
	}

	if *sessionsFlag {
		return listSessions(*repoFlag)
	}

	env, err := prepareRuntimeEnv(ctx, *repoFlag, providerNames)
	if err != nil {
		return err
	}
	defer env.Close()

	logger := engine.NewLoggerHook(env.Logger, env.Backends[0].ModelName)
	hooks := engine.Hooks{logger}
	if *eventsFlag != "" {
		events, err := openEventLog(*eventsFlag)
		if err != nil {
			return err
		}
		defer events.Close()
		hooks = append(hooks, events.Hook())
	}

	s := &shell{
		env:    env,
		user:   interaction.NewTerminal(os.Stdin, os.Stdout),
		hooks:  hooks,
		pauser: &interaction.Pauser{},
	}
	stopPause := watchPauseSignal(s.pauser)
	defer stopPause()
	defer func() {
		for provider, u := range logger.Totals() {
			log.Printf("usage provider=%s prompt=%d completion=%d total=%d", provider, u.Prompt, u.Completion, u.Total)
		}
	}()

	if *promptFlag != "" {
		attachments := make([]engine.ImageAttachment, 0, len(images))
		for _, path := range images {
			img, err := loadImage(path)
			if err != nil {
				return err
			}
			attachments = append(attachments, img)
		}
		if err := s.start(ctx); err != nil {
			return err
		}
		defer s.end()
		return s.request(ctx, *promptFlag, attachments...)
	}
	if len(images) > 0 {
		return errors.New("-image needs -p")
	}
	return s.repl(ctx)
}

// shell holds the current conversation of the interactive loop.
type shell struct {
	env    *runtimeEnv
	user   *interaction.Terminal
	hooks  engine.Hooks
	pauser *interaction.Pauser

	conv       *engine.Conversation
	started    time.Time
	dispatcher *engine.Dispatcher
}

// start opens a new conversation with its own router and file operations.
func (s *shell) start(ctx context.Context) error {
	router, err := s.env.NewRouter()
	if err != nil {
		return err
	}
	var images engine.ImageBackend
	if s.env.Options.ImagesEnabled && router.SupportsImages() {
		images = router
	}
	conv := engine.NewConversation(ctx, engine.ConversationConfig{
		SystemPrompt: s.env.SystemPrompt,
		Options:      s.env.Options,
		Backend:      router,
		Images:       images,
		WaitIfPaused: s.pauser.Wait,
		Hooks:        s.hooks,
	})
	router.Attach(conv)

	files, err := fileops.New(s.env.RepoRoot, nil, conv)
	if err != nil {
		conv.Close()
		return err
	}
	executor := mutation.NewExecutor(mutation.Config{
		Ops:     files,
		Confirm: handlers.Confirmer(s.user),
		Logger:  s.env.Logger,
	})

	registry := engine.NewRegistry()
	handlers.Register(registry, &handlers.Env{
		Context:  s.env.Context,
		Executor: executor,
		Files:    files,
		User:     s.user,
		Search:   s.env.Search,
		Logger:   s.env.Logger,
	})

	s.conv = conv
	s.started = time.Now()
	s.dispatcher = engine.NewDispatcher(registry, handlers.Selector{User: s.user}, s.env.Context)
	log.Printf("Conversation %s started (provider: %s)", conv.ID, router.Active())
	return nil
}

func (s *shell) end() {
	if s.conv == nil {
		return
	}
	if err := s.env.Sessions.Save(session.FromConversation(s.conv, s.env.RepoRoot, s.started)); err != nil {
		log.Printf("⚠️  Failed to save session: %v", err)
	} else if _, err := s.env.Sessions.Prune(s.env.RepoRoot, keepSessions); err != nil {
		log.Printf("⚠️  Failed to prune sessions: %v", err)
	}
	s.env.Context.Forget(s.conv)
	s.conv.Close()
	s.conv = nil
}

// request runs one user request. Ctrl-C aborts the request but keeps the
// conversation.
func (s *shell) request(ctx context.Context, prompt string, images ...engine.ImageAttachment) error {
	reqCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	res, err := s.dispatcher.Run(reqCtx, s.conv, prompt, images...)
	switch {
	case err != nil && res.Outcome == engine.OutcomeAborted:
		s.user.Show("Request aborted.")
		return nil
	case err != nil:
		return err
	}
	switch res.Outcome {
	case engine.OutcomeStepLimit:
		s.user.Show(fmt.Sprintf("Stopped after %d actions without finishing.", res.Steps))
	case engine.OutcomeContextRejected:
		s.user.Show("Request cancelled.")
	}
	return nil
}

func (s *shell) repl(ctx context.Context) error {
	if err := s.start(ctx); err != nil {
		return err
	}
	defer s.end()

	s.user.Show("GenCode ready. /new starts a new conversation, /exit quits.")
	for {
		fmt.Print("you> ")
		line, err := s.user.ReadLine(ctx)
		if err != nil {
			if errors.Is(err, interaction.ErrClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/new":
			s.end()
			if err := s.start(ctx); err != nil {
				return err
			}
			continue
		}

		if err := s.request(ctx, line); err != nil {
			log.Printf("error: %v", err)
		}
		fmt.Println()
	}
}

func listSessions(repoFlag string) error {
	root, err := resolveRepoRoot(repoFlag)
	if err != nil {
		return err
	}
	cfgManager, err := config.NewManager()
	if err != nil {
		return err
	}
	metas, err := session.NewStore(cfgManager.Dir()).List(root)
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		fmt.Println("No archived conversations.")
		return nil
	}
	for _, m := range metas {
		fmt.Printf("%s  %s  %2d request(s)  %s\n", m.UpdatedAt.Local().Format(time.DateTime), m.ID, m.Requests, m.Title)
	}
	return nil
}

func loadImage(path string) (engine.ImageAttachment, error) {
	mediaType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if !strings.HasPrefix(mediaType, "image/") {
		return engine.ImageAttachment{}, fmt.Errorf("%s: not an image", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.ImageAttachment{}, fmt.Errorf("read image: %w", err)
	}
	abs, _ := filepath.Abs(path)
	return engine.ImageAttachment{
		Path:      abs,
		MediaType: mediaType,
		Base64:    base64.StdEncoding.EncodeToString(data),
	}, nil
}
