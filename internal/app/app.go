// Package app wires all cogate subsystems into a running gateway.
//
// The App struct owns the full lifecycle: New builds the backend adapters,
// routing policies, pipeline, jobs, workflows and HTTP surface from the
// configuration; Listen binds the address; Run serves until the context is
// cancelled; Shutdown tears everything down in order.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sylvanops/cogate/internal/archive"
	"github.com/sylvanops/cogate/internal/config"
	"github.com/sylvanops/cogate/internal/health"
	"github.com/sylvanops/cogate/internal/httpapi"
	"github.com/sylvanops/cogate/internal/jobs"
	"github.com/sylvanops/cogate/internal/observe"
	"github.com/sylvanops/cogate/internal/pipeline"
	"github.com/sylvanops/cogate/internal/playback"
	"github.com/sylvanops/cogate/internal/router"
	"github.com/sylvanops/cogate/internal/usage"
	"github.com/sylvanops/cogate/internal/workflow"
	"github.com/sylvanops/cogate/internal/workflow/research"
	"github.com/sylvanops/cogate/pkg/backend"
	"github.com/sylvanops/cogate/pkg/backend/audiogen"
	"github.com/sylvanops/cogate/pkg/backend/audiogen/musicgen"
	embedopenai "github.com/sylvanops/cogate/pkg/backend/embed/openai"
	"github.com/sylvanops/cogate/pkg/backend/llm"
	"github.com/sylvanops/cogate/pkg/backend/llm/anyllm"
	llmopenai "github.com/sylvanops/cogate/pkg/backend/llm/openai"
	searchmcp "github.com/sylvanops/cogate/pkg/backend/search/mcp"
	"github.com/sylvanops/cogate/pkg/backend/search/openalex"
	"github.com/sylvanops/cogate/pkg/backend/search/searxng"
	"github.com/sylvanops/cogate/pkg/backend/stt"
	"github.com/sylvanops/cogate/pkg/backend/stt/whispercpp"
	"github.com/sylvanops/cogate/pkg/backend/stt/whisperhttp"
	"github.com/sylvanops/cogate/pkg/backend/tts"
	"github.com/sylvanops/cogate/pkg/backend/tts/coqui"
	"github.com/sylvanops/cogate/pkg/backend/tts/piper"
)

// Options carries the parts of startup that live outside the config file.
type Options struct {
	// ConfigPath enables hot reload of the config file when non-empty.
	ConfigPath string

	// LogLevel, when set, is retargeted on config hot reload.
	LogLevel *slog.LevelVar
}

// App owns every subsystem of a running gateway.
type App struct {
	cfg  *config.Config
	opts Options

	router   *router.Router
	pipeline *pipeline.Manager
	research *research.Builder
	jobs     *jobs.Manager
	engine   *workflow.Engine
	usage    *usage.Recorder
	archive  *archive.Store
	player   *playback.Player
	watcher  *config.Watcher
	otelStop func(context.Context) error

	srv *http.Server
	ln  net.Listener
}

// New builds the application from cfg. Backend adapter construction
// failures are returned as-is so the caller can report which backend is
// misconfigured.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{cfg: cfg, opts: opts}

	otelStop, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "cogate"})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.otelStop = otelStop
	metrics := observe.DefaultMetrics()

	fail := func(err error) (*App, error) {
		a.closeStores()
		if a.otelStop != nil {
			_ = a.otelStop(ctx)
		}
		return nil, err
	}

	if dir := cfg.Usage.LogDir; dir != "" {
		rec, err := usage.NewRecorder(dir)
		if err != nil {
			return fail(fmt.Errorf("usage recorder: %w", err))
		}
		a.usage = rec
	}

	a.router = router.New(a.usage)
	a.router.SetMetrics(metrics)
	if err := registerBackends(ctx, a.router, cfg); err != nil {
		return fail(err)
	}
	applyPolicies(a.router, cfg)

	a.player = playback.NewPlayer(cfg.Audio.Player)
	a.pipeline = pipeline.NewManager(a.router,
		pipeline.WithSystemPrompt(cfg.Server.SystemPrompt),
		pipeline.WithHistoryLimit(cfg.Server.HistoryLimit),
		pipeline.WithPlayer(a.player),
		pipeline.WithMetrics(metrics),
	)

	a.jobs = jobs.NewManager(jobs.WithMetrics(metrics))
	a.engine = workflow.NewEngine(workflow.WithMetrics(metrics))

	researchOpts := []research.Option{
		research.WithLoadedTerms(cfg.Research.LoadedTerms),
		research.WithLimits(cfg.Research.WebResults, cfg.Research.ScholarlyResults),
		research.WithScholarly(hasScholarly(cfg)),
	}
	if cfg.Research.Model != "" {
		researchOpts = append(researchOpts, research.WithModel(cfg.Research.Model))
	}
	if cfg.Archive.PostgresDSN != "" {
		store, err := openArchive(ctx, cfg)
		if err != nil {
			return fail(err)
		}
		a.archive = store
		researchOpts = append(researchOpts, research.WithArchive(store))
	}
	a.research = research.NewBuilder(a.router, a.router, researchOpts...)

	api := httpapi.New(httpapi.Config{
		Router:     a.router,
		Pipeline:   a.pipeline,
		Jobs:       a.jobs,
		Engine:     a.engine,
		Research:   a.research,
		Usage:      a.usage,
		Health:     health.New(health.BackendsChecker(a.router.Descriptors, backend.CapGenerateText)),
		Metrics:    promhttp.Handler(),
		Downloader: jobs.NewDownloader(nil),
		Trainer:    jobs.NewTrainer(),
		ModelsDir:  cfg.Jobs.ModelsDir,
		VoicesDir:  cfg.Jobs.VoicesDir,
		Training:   trainingStages(cfg.Jobs.Training),
	})
	mux := http.NewServeMux()
	api.Routes(mux)

	a.srv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if opts.ConfigPath != "" {
		w, err := config.NewWatcher(opts.ConfigPath, a.applyReload)
		if err != nil {
			slog.Warn("config hot reload disabled", "error", err)
		} else {
			a.watcher = w
		}
	}

	return a, nil
}

// Listen binds the configured address without serving yet, so bind
// failures surface before the process reports readiness.
func (a *App) Listen() error {
	ln, err := net.Listen("tcp", a.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.srv.Addr, err)
	}
	a.ln = ln
	return nil
}

// Run serves HTTP until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	if a.ln == nil {
		if err := a.Listen(); err != nil {
			return err
		}
	}
	slog.Info("gateway listening", "addr", a.ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- a.srv.Serve(a.ln) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the HTTP server, then the background subsystems.
func (a *App) Shutdown(ctx context.Context) error {
	if a.watcher != nil {
		a.watcher.Stop()
	}

	var errs []error
	if a.srv != nil {
		if err := a.srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if a.engine != nil {
		a.engine.Close()
	}
	if a.jobs != nil {
		a.jobs.Close()
	}
	if a.player != nil {
		a.player.Close()
	}
	a.closeStores()
	if a.otelStop != nil {
		if err := a.otelStop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) closeStores() {
	if a.archive != nil {
		a.archive.Close()
		a.archive = nil
	}
	if a.usage != nil {
		if err := a.usage.Close(); err != nil {
			slog.Warn("usage recorder close", "error", err)
		}
		a.usage = nil
	}
}

// applyReload pushes hot-reloadable config changes into the running
// subsystems. Backend and archive changes require a restart.
func (a *App) applyReload(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Any() {
		return
	}

	if d.LogLevelChanged && a.opts.LogLevel != nil {
		a.opts.LogLevel.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.PoliciesChanged) > 0 {
		applyPolicies(a.router, new)
		slog.Info("routing policies reloaded", "capabilities", d.PoliciesChanged)
	}
	if d.SystemPromptChanged {
		a.pipeline.SetSystemPrompt(new.Server.SystemPrompt)
		slog.Info("system prompt reloaded")
	}
	if d.LoadedTermsChanged {
		a.research.SetLoadedTerms(new.Research.LoadedTerms)
		slog.Info("loaded terms reloaded", "count", len(new.Research.LoadedTerms))
	}
}

// registerBackends constructs every configured adapter and registers it
// with the router.
func registerBackends(ctx context.Context, rt *router.Router, cfg *config.Config) error {
	for _, e := range cfg.Backends.LLM {
		g, err := buildLLM(e)
		if err != nil {
			return fmt.Errorf("backend %s: %w", e.ID, err)
		}
		rt.RegisterLLM(e.ID, g)
	}
	for _, e := range cfg.Backends.STT {
		t, err := buildSTT(e)
		if err != nil {
			return fmt.Errorf("backend %s: %w", e.ID, err)
		}
		rt.RegisterSTT(e.ID, t)
	}
	for _, e := range cfg.Backends.TTS {
		s, err := buildTTS(e, cfg.Audio.VoicesDir)
		if err != nil {
			return fmt.Errorf("backend %s: %w", e.ID, err)
		}
		rt.RegisterTTS(e.ID, s)
	}
	for _, e := range cfg.Backends.Search {
		if err := registerSearch(ctx, rt, e); err != nil {
			return fmt.Errorf("backend %s: %w", e.ID, err)
		}
	}
	for _, e := range cfg.Backends.AudioGen {
		g, err := buildAudioGen(e)
		if err != nil {
			return fmt.Errorf("backend %s: %w", e.ID, err)
		}
		rt.RegisterAudioGen(e.ID, g)
	}
	return nil
}

func buildLLM(e config.BackendEntry) (llm.Generator, error) {
	switch e.Type {
	case "openai":
		var opts []llmopenai.Option
		if e.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(e.BaseURL))
		}
		if d := e.Timeout.Std(); d > 0 {
			opts = append(opts, llmopenai.WithTimeout(d))
		}
		return llmopenai.New(e.ID, e.APIKey, e.Model, opts...)
	case "anyllm":
		var opts []anyllmlib.Option
		if e.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
		}
		if e.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
		}
		return anyllm.New(e.ID, e.Vendor, e.Model, opts...)
	}
	return nil, fmt.Errorf("unknown llm adapter type %q", e.Type)
}

func buildSTT(e config.BackendEntry) (stt.Transcriber, error) {
	switch e.Type {
	case "whisperhttp":
		var opts []whisperhttp.Option
		if e.Model != "" {
			opts = append(opts, whisperhttp.WithModel(e.Model))
		}
		if e.Language != "" {
			opts = append(opts, whisperhttp.WithLanguage(e.Language))
		}
		if d := e.Timeout.Std(); d > 0 {
			opts = append(opts, whisperhttp.WithTimeout(d))
		}
		return whisperhttp.New(e.ID, e.BaseURL, opts...)
	case "whispercpp":
		var opts []whispercpp.Option
		if e.Language != "" {
			opts = append(opts, whispercpp.WithLanguage(e.Language))
		}
		return whispercpp.New(e.ID, e.ModelPath, opts...)
	}
	return nil, fmt.Errorf("unknown stt adapter type %q", e.Type)
}

func buildTTS(e config.BackendEntry, voicesDir string) (tts.Synthesizer, error) {
	switch e.Type {
	case "piper":
		var opts []piper.Option
		if e.Binary != "" {
			opts = append(opts, piper.WithBinary(e.Binary))
		}
		if e.Voice != "" {
			opts = append(opts, piper.WithDefaultVoice(e.Voice))
		}
		return piper.New(e.ID, voicesDir, opts...)
	case "coqui":
		var opts []coqui.Option
		if e.Language != "" {
			opts = append(opts, coqui.WithLanguage(e.Language))
		}
		if d := e.Timeout.Std(); d > 0 {
			opts = append(opts, coqui.WithTimeout(d))
		}
		return coqui.New(e.ID, e.BaseURL, opts...)
	}
	return nil, fmt.Errorf("unknown tts adapter type %q", e.Type)
}

func registerSearch(ctx context.Context, rt *router.Router, e config.BackendEntry) error {
	switch e.Type {
	case "searxng":
		var opts []searxng.Option
		if e.Categories != "" {
			opts = append(opts, searxng.WithCategories(e.Categories))
		}
		if d := e.Timeout.Std(); d > 0 {
			opts = append(opts, searxng.WithTimeout(d))
		}
		s, err := searxng.New(e.ID, e.BaseURL, opts...)
		if err != nil {
			return err
		}
		rt.RegisterWebSearch(e.ID, s)
		return nil
	case "openalex":
		var opts []openalex.Option
		if e.BaseURL != "" {
			opts = append(opts, openalex.WithBaseURL(e.BaseURL))
		}
		if e.Mailto != "" {
			opts = append(opts, openalex.WithMailto(e.Mailto))
		}
		if d := e.Timeout.Std(); d > 0 {
			opts = append(opts, openalex.WithTimeout(d))
		}
		s, err := openalex.New(e.ID, opts...)
		if err != nil {
			return err
		}
		rt.RegisterScholarSearch(e.ID, s)
		return nil
	case "mcp":
		s, err := searchmcp.New(ctx, searchmcp.Config{
			ID:       e.ID,
			Command:  e.Command,
			Args:     e.Args,
			Env:      e.Env,
			URL:      e.URL,
			ToolName: e.Tool,
		})
		if err != nil {
			return err
		}
		rt.RegisterWebSearch(e.ID, s)
		return nil
	}
	return fmt.Errorf("unknown search adapter type %q", e.Type)
}

func buildAudioGen(e config.BackendEntry) (audiogen.Generator, error) {
	if e.Type != "musicgen" {
		return nil, fmt.Errorf("unknown audiogen adapter type %q", e.Type)
	}
	var opts []musicgen.Option
	if e.Model != "" {
		opts = append(opts, musicgen.WithModel(e.Model))
	}
	if d := e.Timeout.Std(); d > 0 {
		opts = append(opts, musicgen.WithTimeout(d))
	}
	return musicgen.New(e.ID, e.BaseURL, opts...)
}

func openArchive(ctx context.Context, cfg *config.Config) (*archive.Store, error) {
	e := cfg.Backends.Embeddings
	var opts []embedopenai.Option
	if e.BaseURL != "" {
		opts = append(opts, embedopenai.WithBaseURL(e.BaseURL))
	}
	if d := e.Timeout.Std(); d > 0 {
		opts = append(opts, embedopenai.WithTimeout(d))
	}
	embedder, err := embedopenai.New(e.APIKey, e.Model, opts...)
	if err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}
	store, err := archive.New(ctx, cfg.Archive.PostgresDSN, embedder, cfg.Archive.EmbeddingDimensions)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	return store, nil
}

// applyPolicies installs one routing policy per capability: the explicit
// policy from the config when present, otherwise all configured backends
// of that capability in file order with fallback enabled.
func applyPolicies(rt *router.Router, cfg *config.Config) {
	order := make(map[backend.Capability][]string)
	add := func(c backend.Capability, id string) { order[c] = append(order[c], id) }

	for _, e := range cfg.Backends.LLM {
		add(backend.CapGenerateText, e.ID)
	}
	for _, e := range cfg.Backends.STT {
		add(backend.CapTranscribeAudio, e.ID)
	}
	for _, e := range cfg.Backends.TTS {
		add(backend.CapSynthesizeSpeech, e.ID)
	}
	for _, e := range cfg.Backends.Search {
		if e.Type == "openalex" {
			add(backend.CapSearchScholarly, e.ID)
		} else {
			add(backend.CapSearchWeb, e.ID)
		}
	}
	for _, e := range cfg.Backends.AudioGen {
		add(backend.CapGenerateAudio, e.ID)
	}

	for c, ids := range order {
		p := router.Policy{Order: ids, FallbackEnabled: true}
		if pc, ok := cfg.Policies[string(c)]; ok {
			p = router.Policy{
				Order:           pc.Order,
				FallbackEnabled: pc.FallbackEnabled(),
				Timeout:         pc.Timeout.Std(),
			}
		}
		rt.SetPolicy(c, p)
	}
}

func hasScholarly(cfg *config.Config) bool {
	for _, e := range cfg.Backends.Search {
		if e.Type == "openalex" {
			return true
		}
	}
	return false
}

func trainingStages(stages []config.TrainingStageConfig) []jobs.TrainStage {
	out := make([]jobs.TrainStage, len(stages))
	for i, s := range stages {
		out[i] = jobs.TrainStage{Name: s.Name, Cmd: s.Cmd, Args: s.Args}
	}
	return out
}
