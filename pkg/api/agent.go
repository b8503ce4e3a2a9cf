package api

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/hearthlabs/agentloop/internal/obs"

	"github.com/google/uuid"
	"github.com/hearthlabs/agentloop/pkg/agent"
	"github.com/hearthlabs/agentloop/pkg/config"
	coreevents "github.com/hearthlabs/agentloop/pkg/core/events"
	corehooks "github.com/hearthlabs/agentloop/pkg/core/hooks"
	"github.com/hearthlabs/agentloop/pkg/message"
	"github.com/hearthlabs/agentloop/pkg/middleware"
	"github.com/hearthlabs/agentloop/pkg/model"
	"github.com/hearthlabs/agentloop/pkg/runtime/tasks"
	"github.com/hearthlabs/agentloop/pkg/sandbox"
	"github.com/hearthlabs/agentloop/pkg/security"
	"github.com/hearthlabs/agentloop/pkg/session"
	"github.com/hearthlabs/agentloop/pkg/tool"
	toolbuiltin "github.com/hearthlabs/agentloop/pkg/tool/builtin"
)

type streamContextKey string

const streamEmitCtxKey streamContextKey = "agentsdk.stream.emit"

func withStreamEmit(ctx context.Context, emit streamEmitFunc) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if emit == nil {
		return ctx
	}
	return context.WithValue(ctx, streamEmitCtxKey, emit)
}

func streamEmitFromContext(ctx context.Context) streamEmitFunc {
	if ctx == nil {
		return nil
	}
	if emit, ok := ctx.Value(streamEmitCtxKey).(streamEmitFunc); ok {
		return emit
	}
	return nil
}

// Runtime exposes the unified SDK surface that powers CLI/CI/enterprise entrypoints.
type Runtime struct {
	opts        Options
	mode        ModeContext
	settings    *config.Settings
	cfg         *config.Settings
	fs          *config.FS
	rulesLoader *config.RulesLoader
	sandbox     *sandbox.Manager
	sbRoot      string
	registry    *tool.Registry
	executor    *tool.Executor
	// recorder is retained for backward compatibility.
	// Deprecated: hook events are now recorded per-request via preparedRun.recorder.
	recorder         HookRecorder
	hooks            *corehooks.Executor
	histories        *historyStore
	historyPersister *diskHistoryPersister
	sessionGate      *sessionGate
	sessionStore     *session.Store
	modeGate         *security.ModeGate

	tokens    *tokenTracker
	compactor *compactor
	tracer    Tracer

	mu sync.RWMutex

	runMu     sync.Mutex
	runWG     sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
	closed    bool
}

// New instantiates a unified runtime bound to the provided options.
func New(ctx context.Context, opts Options) (*Runtime, error) {
	opts = opts.withDefaults()
	opts = opts.frozen()
	mode := opts.modeContext()

	// Set up the filesystem abstraction layer.
	fsLayer := config.NewFS(opts.ProjectRoot, opts.EmbedFS)
	opts.fsLayer = fsLayer

	if err := materializeEmbeddedClaudeHooks(opts.ProjectRoot, opts.EmbedFS); err != nil {
		obs.Logger().Warn().Err(err).Msg("claude hooks materializer warning")
	}

	if memory, err := config.LoadClaudeMD(opts.ProjectRoot, fsLayer); err != nil {
		obs.Logger().Warn().Err(err).Msg("claude.md loader warning")
	} else if strings.TrimSpace(memory) != "" {
		if strings.TrimSpace(opts.SystemPrompt) == "" {
			opts.SystemPrompt = fmt.Sprintf("## Memory\n\n%s", strings.TrimSpace(memory))
		} else {
			opts.SystemPrompt = fmt.Sprintf("%s\n\n## Memory\n\n%s", strings.TrimSpace(opts.SystemPrompt), strings.TrimSpace(memory))
		}
	}

	settings, err := loadSettings(opts)
	if err != nil {
		return nil, err
	}

	mdl, err := resolveModel(ctx, opts)
	if err != nil {
		return nil, err
	}
	opts.Model = mdl

	sbox, sbRoot := buildSandboxManager(opts, settings)
	registry := tool.NewRegistry()
	if err := registerTools(registry, opts, settings); err != nil {
		return nil, err
	}
	mcpServers := collectMCPServers(settings, opts.MCPServers)
	if err := registerMCPServers(ctx, registry, sbox, mcpServers); err != nil {
		return nil, err
	}
	// The mode gate is consulted inside buildPermissionResolver below,
	// which layers it on top of the sandbox's rule-based ask/deny decisions
	// rather than through Executor.WithModeGate: the resolver also owns the
	// approval-queue/hook/host-handler chain that actually resolves an "ask",
	// and a session here predates the executor being constructed.
	modeGate := security.NewModeGate(opts.PermissionMode, nil)
	executor := tool.NewExecutor(registry, sbox).WithOutputPersister(tool.NewOutputPersister())

	recorder := defaultHookRecorder()
	hooks := newHookExecutor(opts, recorder, settings)
	compactor := newCompactor(opts.ProjectRoot, opts.AutoCompact, opts.Model, opts.TokenLimit, hooks)

	// Initialize tracer (noop without 'otel' build tag)
	tracer, err := NewTracer(opts.OTEL)
	if err != nil {
		return nil, fmt.Errorf("otel tracer init: %w", err)
	}

	var rulesLoader *config.RulesLoader
	if opts.RulesEnabled == nil || (opts.RulesEnabled != nil && *opts.RulesEnabled) {
		rulesLoader = config.NewRulesLoader(opts.ProjectRoot)
		if _, err := rulesLoader.LoadRules(); err != nil {
			obs.Logger().Warn().Err(err).Msg("rules loader warning")
		}
		if err := rulesLoader.WatchChanges(nil); err != nil {
			obs.Logger().Warn().Err(err).Msg("rules watcher warning")
		}
	}

	histories := newHistoryStore(opts.MaxSessions)
	var historyPersister *diskHistoryPersister
	retainDays := 0
	if settings != nil && settings.CleanupPeriodDays != nil {
		retainDays = *settings.CleanupPeriodDays
	}
	if retainDays > 0 {
		historyPersister = newDiskHistoryPersister(opts.ProjectRoot)
		if historyPersister != nil {
			histories.loader = historyPersister.Load
			if err := historyPersister.Cleanup(retainDays); err != nil {
				obs.Logger().Warn().Err(err).Msg("history cleanup warning")
			}
		}
	}

	rt := &Runtime{
		opts:             opts,
		mode:             mode,
		settings:         settings,
		cfg:              projectConfigFromSettings(settings),
		fs:               fsLayer,
		rulesLoader:      rulesLoader,
		sandbox:          sbox,
		sbRoot:           sbRoot,
		registry:         registry,
		executor:         executor,
		recorder:         recorder,
		hooks:            hooks,
		histories:        histories,
		historyPersister: historyPersister,
		sessionStore:     session.NewStore(filepath.Join(claudeHomeDir(), "sessions")),
		modeGate:         modeGate,
		tokens:           newTokenTracker(opts.TokenTracking, opts.TokenCallback),
		compactor:        compactor,
		tracer:           tracer,
	}
	rt.sessionGate = newSessionGate()
	return rt, nil
}

func (rt *Runtime) beginRun() error {
	rt.runMu.Lock()
	defer rt.runMu.Unlock()
	if rt.closed {
		return ErrRuntimeClosed
	}
	rt.runWG.Add(1)
	return nil
}

func (rt *Runtime) endRun() {
	rt.runWG.Done()
}

// Run executes the unified pipeline synchronously.
func (rt *Runtime) Run(ctx context.Context, req Request) (*Response, error) {
	if rt == nil {
		return nil, ErrRuntimeClosed
	}
	if err := rt.beginRun(); err != nil {
		return nil, err
	}
	defer rt.endRun()

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = defaultSessionID(rt.mode.EntryPoint)
	}
	req.SessionID = sessionID

	if err := rt.sessionGate.Acquire(ctx, sessionID); err != nil {
		return nil, ErrConcurrentExecution
	}
	defer rt.sessionGate.Release(sessionID)

	prep, err := rt.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	defer rt.persistHistory(prep.normalized.SessionID, prep.history)
	result, err := rt.runAgent(prep)
	if err != nil {
		return nil, err
	}
	return rt.buildResponse(prep, result), nil
}

// RunStream executes the pipeline asynchronously and returns events over a channel.
func (rt *Runtime) RunStream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	if rt == nil {
		return nil, ErrRuntimeClosed
	}
	if strings.TrimSpace(req.Prompt) == "" && len(req.ContentBlocks) == 0 {
		return nil, errors.New("api: prompt is empty")
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = defaultSessionID(rt.mode.EntryPoint)
	}
	req.SessionID = sessionID

	if err := rt.beginRun(); err != nil {
		return nil, err
	}

	// Larger buffer absorbs backpressure from slow consumers (per-character
	// rendering and the like) so progress emits never block tool execution.
	out := make(chan StreamEvent, 512)
	progressChan := make(chan StreamEvent, 256)
	baseCtx := ctx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	progressMW := newProgressMiddleware(progressChan)
	ctxWithEmit := withStreamEmit(baseCtx, progressMW.streamEmit())
	go func() {
		defer rt.endRun()
		defer close(out)
		if err := rt.sessionGate.Acquire(ctxWithEmit, sessionID); err != nil {
			isErr := true
			out <- StreamEvent{Type: EventError, Output: ErrConcurrentExecution.Error(), IsError: &isErr}
			return
		}
		defer rt.sessionGate.Release(sessionID)

		prep, err := rt.prepare(ctxWithEmit, req)
		if err != nil {
			isErr := true
			out <- StreamEvent{Type: EventError, Output: err.Error(), IsError: &isErr}
			return
		}
		defer rt.persistHistory(prep.normalized.SessionID, prep.history)

		done := make(chan struct{})
		go func() {
			defer close(done)
			dropping := false
			for event := range progressChan {
				if dropping {
					continue
				}
				select {
				case out <- event:
				case <-ctxWithEmit.Done():
					dropping = true
				}
			}
		}()

		var runErr error
		var result runResult
		defer func() {
			if rt.hooks != nil {
				reason := "completed"
				if runErr != nil {
					reason = "error"
				}
				//nolint:errcheck // session end events are non-critical notifications
				rt.hooks.Publish(coreevents.Event{
					Type:      coreevents.SessionEnd,
					SessionID: req.SessionID,
					Payload:   coreevents.SessionEndPayload{SessionID: req.SessionID, Reason: reason},
				})
			}
		}()

		result, runErr = rt.runAgentWithMiddleware(prep, progressMW)
		close(progressChan)
		<-done

		if runErr != nil {
			isErr := true
			out <- StreamEvent{Type: EventError, Output: runErr.Error(), IsError: &isErr}
			return
		}
		rt.buildResponse(prep, result)
	}()
	return out, nil
}

// Close releases held resources.
func (rt *Runtime) Close() error {
	if rt == nil {
		return nil
	}
	rt.closeOnce.Do(func() {
		rt.runMu.Lock()
		rt.closed = true
		rt.runMu.Unlock()

		rt.runWG.Wait()

		var err error
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		shutdownErr := toolbuiltin.DefaultAsyncTaskManager().Shutdown(shutdownCtx)
		cancel()
		if shutdownErr != nil {
			err = errors.Join(err, shutdownErr)
		}
		if shutdownErr == nil && rt.histories != nil {
			for _, sessionID := range rt.histories.SessionIDs() {
				if cleanupErr := cleanupBashOutputSessionDir(sessionID); cleanupErr != nil {
					obs.Logger().Warn().Err(cleanupErr).Str("session", sessionID).Msg("api: session temp cleanup failed")
				}
				if cleanupErr := cleanupToolOutputSessionDir(sessionID); cleanupErr != nil {
					obs.Logger().Warn().Err(cleanupErr).Str("session", sessionID).Msg("api: session tool output cleanup failed")
				}
			}
		}
		if rt.rulesLoader != nil {
			if e := rt.rulesLoader.Close(); e != nil {
				err = errors.Join(err, e)
			}
		}
		if rt.registry != nil {
			rt.registry.Close()
		}
		if rt.tracer != nil {
			if e := rt.tracer.Shutdown(); e != nil {
				err = errors.Join(err, e)
			}
		}
		rt.closeErr = err
	})
	return rt.closeErr
}

// Config returns the last loaded project config.
func (rt *Runtime) Config() *config.Settings {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return config.MergeSettings(nil, rt.cfg)
}

// Settings exposes the merged settings.json snapshot for callers that need it.
func (rt *Runtime) Settings() *config.Settings {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return config.MergeSettings(nil, rt.settings)
}

// Sandbox exposes the sandbox manager.
func (rt *Runtime) Sandbox() *sandbox.Manager { return rt.sandbox }

// claudeHomeDir resolves $CLAUDE_CONFIG_DIR, falling back to ~/.claude.
func claudeHomeDir() string {
	if dir := strings.TrimSpace(os.Getenv("CLAUDE_CONFIG_DIR")); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".claude"
	}
	return filepath.Join(home, ".claude")
}

// SetPermissionMode switches the outer permission gate (default/acceptEdits/
// plan/bypassPermissions) consulted on every PermissionAsk decision. Safe to
// call mid-session; takes effect on the next tool call.
func (rt *Runtime) SetPermissionMode(mode security.Mode) {
	if rt == nil || rt.modeGate == nil {
		return
	}
	rt.modeGate.SetMode(mode)
}

// PermissionMode reports the outer permission gate's current mode.
func (rt *Runtime) PermissionMode() security.Mode {
	if rt == nil || rt.modeGate == nil {
		return security.ModeDefault
	}
	return rt.modeGate.Mode()
}

// ExportSession builds a durable session.Session snapshot of sessionID's
// current in-memory state (messages, todos, usage), for callers that want
// to persist, list, or resume conversations across process restarts via
// the session store independent of the turn-scoped history persister.
func (rt *Runtime) ExportSession(sessionID string) *session.Session {
	if rt == nil || rt.sessionStore == nil {
		return nil
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}

	sess := rt.sessionStore.New(rt.opts.ProjectRoot)
	sess.ID = sessionID

	if rt.histories != nil {
		hist := rt.histories.Get(sessionID)
		sess.Messages = hist.All()
		for _, msg := range sess.Messages {
			if strings.TrimSpace(msg.Content) != "" {
				sess.Metadata.FirstPrompt = msg.Content
				break
			}
		}
	}

	if stats := rt.GetSessionStats(sessionID); stats != nil {
		sess.Usage.TotalAPIMs = 0
		sess.Usage.PerModelTokens = make(map[string]int, len(stats.ByModel))
		for modelName, ms := range stats.ByModel {
			sess.Usage.PerModelTokens[modelName] = int(ms.TotalTokens)
			sess.Usage.TotalCostUSD += estimateCostUSD(modelName, model.Usage{
				InputTokens:         int(ms.InputTokens),
				OutputTokens:        int(ms.OutputTokens),
				CacheReadTokens:     int(ms.CacheRead),
				CacheCreationTokens: int(ms.CacheCreation),
			})
		}
		if !stats.FirstRequest.IsZero() {
			sess.StartTime = stats.FirstRequest.UnixMilli()
		}
	}
	return sess
}

// SaveSession persists sessionID's exported snapshot to the session store,
// returning the path written.
func (rt *Runtime) SaveSession(sessionID string) (string, error) {
	if rt == nil || rt.sessionStore == nil {
		return "", errors.New("api: session store not configured")
	}
	sess := rt.ExportSession(sessionID)
	if sess == nil {
		return "", fmt.Errorf("api: no such session %q", sessionID)
	}
	return rt.sessionStore.Save(sess)
}

// ListSessions returns every durably saved session's summary.
func (rt *Runtime) ListSessions() ([]session.Summary, error) {
	if rt == nil || rt.sessionStore == nil {
		return nil, nil
	}
	return rt.sessionStore.List()
}

// ResumeSession loads the most recently saved session and seeds it back
// into the in-memory history store so the next Run continues it.
func (rt *Runtime) ResumeSession() (*session.Session, error) {
	if rt == nil || rt.sessionStore == nil {
		return nil, nil
	}
	sess, err := rt.sessionStore.ResumeLast()
	if err != nil || sess == nil {
		return sess, err
	}
	if rt.histories != nil && len(sess.Messages) > 0 {
		rt.histories.Get(sess.ID).Replace(sess.Messages)
	}
	return sess, nil
}

// GetSessionStats returns aggregated token stats for a session.
func (rt *Runtime) GetSessionStats(sessionID string) *SessionTokenStats {
	if rt == nil || rt.tokens == nil {
		return nil
	}
	return rt.tokens.GetSessionStats(sessionID)
}

// GetTotalStats returns aggregated token stats across all sessions.
func (rt *Runtime) GetTotalStats() *SessionTokenStats {
	if rt == nil || rt.tokens == nil {
		return nil
	}
	return rt.tokens.GetTotalStats()
}

// ----------------- internal helpers -----------------

type preparedRun struct {
	ctx           context.Context
	prompt        string
	contentBlocks []model.ContentBlock
	history       *message.History
	normalized    Request
	recorder      *hookRecorder
	mode          ModeContext
	toolWhitelist map[string]struct{}
}

type runResult struct {
	output *agent.ModelOutput
	usage  model.Usage
	reason string
}

func (rt *Runtime) prepare(ctx context.Context, req Request) (preparedRun, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	fallbackSession := defaultSessionID(rt.mode.EntryPoint)
	normalized := req.normalized(rt.mode, fallbackSession)
	prompt := strings.TrimSpace(normalized.Prompt)
	if prompt == "" && len(normalized.ContentBlocks) == 0 {
		return preparedRun{}, errors.New("api: prompt is empty")
	}

	if normalized.SessionID == "" {
		normalized.SessionID = fallbackSession
	}

	// Auto-generate RequestID if not provided (UUID tracking)
	if normalized.RequestID == "" {
		normalized.RequestID = uuid.New().String()
	}

	history := rt.histories.Get(normalized.SessionID)
	recorder := defaultHookRecorder()

	if rt.compactor != nil {
		if _, _, err := rt.compactor.maybeCompact(ctx, history, normalized.SessionID, recorder); err != nil {
			return preparedRun{}, err
		}
	}

	whitelist := toLowerSet(normalized.ToolWhitelist)
	return preparedRun{
		ctx:           ctx,
		prompt:        prompt,
		contentBlocks: normalized.ContentBlocks,
		history:       history,
		normalized:    normalized,
		recorder:      recorder,
		mode:          normalized.Mode,
		toolWhitelist: whitelist,
	}, nil
}

func (rt *Runtime) runAgent(prep preparedRun) (runResult, error) {
	return rt.runAgentWithMiddleware(prep)
}

func (rt *Runtime) runAgentWithMiddleware(prep preparedRun, extras ...middleware.Middleware) (runResult, error) {
	// Select model based on the request's tier override, if any.
	selectedModel, selectedTier := rt.selectModel(prep.normalized.Model)

	// Emit ModelSelected event if a non-default model was selected
	if selectedTier != "" {
		hookAdapter := &runtimeHookAdapter{executor: rt.hooks, recorder: prep.recorder}
		// Best-effort event emission; errors are logged but don't block execution
		if err := hookAdapter.ModelSelected(prep.ctx, coreevents.ModelSelectedPayload{
			ModelTier: string(selectedTier),
			Reason:    "request model tier",
		}); err != nil {
			obs.Logger().Warn().Err(err).Msg("api: failed to emit ModelSelected event")
		}
	}

	// Determine cache enablement: request-level overrides global default
	enableCache := rt.opts.DefaultEnableCache
	if prep.normalized.EnablePromptCache != nil {
		enableCache = *prep.normalized.EnablePromptCache
	}

	hookAdapter := &runtimeHookAdapter{executor: rt.hooks, recorder: prep.recorder}
	modelAdapter := &conversationModel{
		base:          selectedModel,
		history:       prep.history,
		prompt:        prep.prompt,
		contentBlocks: prep.contentBlocks,
		trimmer:       rt.newTrimmer(),
		tools:         availableTools(rt.registry, prep.toolWhitelist),
		systemPrompt:  rt.opts.SystemPrompt,
		rulesLoader:   rt.rulesLoader,
		enableCache:   enableCache,
		modelName:     string(selectedTier),
		hooks:         hookAdapter,
		recorder:      prep.recorder,
		compactor:     rt.compactor,
		sessionID:     prep.normalized.SessionID,
	}

	toolExec := &runtimeToolExecutor{
		executor:           rt.executor,
		hooks:              hookAdapter,
		history:            prep.history,
		allow:              prep.toolWhitelist,
		root:               rt.sbRoot,
		host:               "localhost",
		sessionID:          prep.normalized.SessionID,
		permissionResolver: buildPermissionResolver(rt.modeGate, hookAdapter, rt.opts.PermissionRequestHandler, rt.opts.ApprovalQueue, rt.opts.ApprovalApprover, rt.opts.ApprovalWhitelistTTL, rt.opts.ApprovalWait),
	}

	chainItems := make([]middleware.Middleware, 0, len(rt.opts.Middleware)+len(extras))
	if len(rt.opts.Middleware) > 0 {
		chainItems = append(chainItems, rt.opts.Middleware...)
	}
	if len(extras) > 0 {
		chainItems = append(chainItems, extras...)
	}
	chain := middleware.NewChain(chainItems, middleware.WithTimeout(rt.opts.MiddlewareTimeout))
	ag, err := agent.New(modelAdapter, toolExec, agent.Options{
		MaxIterations: rt.opts.MaxIterations,
		MaxBudgetUSD:  rt.opts.MaxBudgetUSD,
		CostFn:        func() float64 { return modelAdapter.costUSD },
		Timeout:       rt.opts.Timeout,
		Middleware:    chain,
	})
	if err != nil {
		return runResult{}, err
	}

	agentCtx := agent.NewContext()
	if sessionID := strings.TrimSpace(prep.normalized.SessionID); sessionID != "" {
		agentCtx.Values["session_id"] = sessionID
	}
	// Propagate RequestID through agent context for distributed tracing
	if requestID := strings.TrimSpace(prep.normalized.RequestID); requestID != "" {
		agentCtx.Values["request_id"] = requestID
	}
	out, err := ag.Run(prep.ctx, agentCtx)
	if err != nil {
		return runResult{}, err
	}
	if rt.tokens != nil && rt.tokens.IsEnabled() {
		stats := tokenStatsFromUsage(modelAdapter.usage, "", prep.normalized.SessionID, prep.normalized.RequestID)
		rt.tokens.Record(stats)
		payload := coreevents.TokenUsagePayload{
			InputTokens:   stats.InputTokens,
			OutputTokens:  stats.OutputTokens,
			TotalTokens:   stats.TotalTokens,
			CacheCreation: stats.CacheCreation,
			CacheRead:     stats.CacheRead,
			Model:         stats.Model,
			SessionID:     stats.SessionID,
			RequestID:     stats.RequestID,
		}
		if rt.hooks != nil {
			//nolint:errcheck // token usage events are non-critical notifications
			rt.hooks.Publish(coreevents.Event{
				Type:      coreevents.TokenUsage,
				SessionID: stats.SessionID,
				RequestID: stats.RequestID,
				Payload:   payload,
			})
		}
		if prep.recorder != nil {
			prep.recorder.Record(coreevents.Event{
				Type:      coreevents.TokenUsage,
				SessionID: stats.SessionID,
				RequestID: stats.RequestID,
				Payload:   payload,
			})
		}
	}
	return runResult{output: out, usage: modelAdapter.usage, reason: modelAdapter.stopReason}, nil
}

func (rt *Runtime) buildResponse(prep preparedRun, result runResult) *Response {
	events := []coreevents.Event(nil)
	if prep.recorder != nil {
		events = prep.recorder.Drain()
	}
	resp := &Response{
		Mode:            prep.mode,
		RequestID:       prep.normalized.RequestID,
		Result:          convertRunResult(result),
		HookEvents:      events,
		ProjectConfig:   rt.Settings(),
		Settings:        rt.Settings(),
		SandboxSnapshot: rt.sandboxReport(),
		Tags:            maps.Clone(prep.normalized.Tags),
	}
	return resp
}

func (rt *Runtime) sandboxReport() SandboxReport {
	report := snapshotSandbox(rt.sandbox)

	var roots []string
	if root := strings.TrimSpace(rt.sbRoot); root != "" {
		roots = append(roots, root)
	}
	report.Roots = cloneStrings(roots)

	allowed := make([]string, 0, len(rt.opts.Sandbox.AllowedPaths))
	for _, path := range rt.opts.Sandbox.AllowedPaths {
		if clean := strings.TrimSpace(path); clean != "" {
			allowed = append(allowed, clean)
		}
	}
	for _, path := range additionalSandboxPaths(rt.settings) {
		if clean := strings.TrimSpace(path); clean != "" {
			allowed = append(allowed, clean)
		}
	}
	report.AllowedPaths = cloneStrings(allowed)

	domains := rt.opts.Sandbox.NetworkAllow
	if len(domains) == 0 {
		domains = defaultNetworkAllowList(rt.opts.EntryPoint)
	}
	var cleanedDomains []string
	for _, domain := range domains {
		if host := strings.TrimSpace(domain); host != "" {
			cleanedDomains = append(cleanedDomains, host)
		}
	}
	report.AllowedDomains = cloneStrings(cleanedDomains)
	return report
}

func convertRunResult(res runResult) *Result {
	if res.output == nil {
		return nil
	}
	toolCalls := make([]model.ToolCall, len(res.output.ToolCalls))
	for i, call := range res.output.ToolCalls {
		toolCalls[i] = model.ToolCall{Name: call.Name, Arguments: call.Input}
	}
	return &Result{
		Output:     res.output.Content,
		ToolCalls:  toolCalls,
		Usage:      res.usage,
		StopReason: res.reason,
	}
}

// selectModel resolves the model for a run: a request-level tier override
// wins when the pool carries it, otherwise the default model is used.
// Returns the selected model and the tier used (empty string if default).
func (rt *Runtime) selectModel(requestTier ModelTier) (model.Model, ModelTier) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	if requestTier != "" {
		if m, ok := rt.opts.ModelPool[requestTier]; ok && m != nil {
			return m, requestTier
		}
	}
	return rt.opts.Model, ""
}

func (rt *Runtime) newTrimmer() *message.Trimmer {
	if rt.opts.TokenLimit <= 0 {
		return nil
	}
	return message.NewTrimmer(rt.opts.TokenLimit, nil)
}

// ----------------- adapters -----------------

type conversationModel struct {
	base          model.Model
	history       *message.History
	prompt        string
	contentBlocks []model.ContentBlock
	trimmer       *message.Trimmer
	tools         []model.ToolDefinition
	systemPrompt  string
	rulesLoader   *config.RulesLoader
	enableCache   bool // Enable prompt caching for this conversation
	modelName     string
	usage         model.Usage
	costUSD       float64
	stopReason    string
	hooks         *runtimeHookAdapter
	recorder      *hookRecorder
	compactor     *compactor
	sessionID     string
}

func (m *conversationModel) Generate(ctx context.Context, _ *agent.Context) (*agent.ModelOutput, error) {
	if m.base == nil {
		return nil, errors.New("model is nil")
	}

	if strings.TrimSpace(m.prompt) != "" || len(m.contentBlocks) > 0 {
		userMsg := message.Message{Role: "user", Content: strings.TrimSpace(m.prompt)}
		if len(m.contentBlocks) > 0 {
			userMsg.ContentBlocks = convertAPIContentBlocks(m.contentBlocks)
		}
		m.history.Append(userMsg)
		if err := m.hooks.UserPrompt(ctx, m.prompt); err != nil {
			return nil, err
		}
		m.prompt = ""
		m.contentBlocks = nil
	}

	if m.compactor != nil {
		if _, _, err := m.compactor.maybeCompact(ctx, m.history, m.sessionID, m.recorder); err != nil {
			return nil, err
		}
	}

	snapshot := m.history.All()
	if m.trimmer != nil {
		snapshot = m.trimmer.Trim(snapshot)
	}
	systemPrompt := m.systemPrompt
	if m.rulesLoader != nil {
		if rules := m.rulesLoader.GetContent(); rules != "" {
			systemPrompt = fmt.Sprintf("%s\n\n## Project Rules\n\n%s", systemPrompt, rules)
		}
	}
	req := model.Request{
		Messages:          convertMessages(snapshot),
		Tools:             m.tools,
		System:            systemPrompt,
		MaxTokens:         0,
		Model:             "",
		Temperature:       nil,
		EnablePromptCache: m.enableCache,
	}

	// Populate middleware state with model request if available
	if st, ok := ctx.Value(model.MiddlewareStateKey).(*middleware.State); ok && st != nil {
		st.ModelInput = req
		if st.Values == nil {
			st.Values = map[string]any{}
		}
		st.Values["model.request"] = req
	}

	// Use streaming internally: some API proxies return empty tool_use.input
	// in non-streaming mode but work correctly with streaming. Streaming is
	// also the production-standard path for the Anthropic API.
	var resp *model.Response
	if err := m.base.CompleteStream(ctx, req, func(sr model.StreamResult) error {
		if sr.Final && sr.Response != nil {
			resp = sr.Response
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("model returned no final response")
	}
	m.usage = resp.Usage
	m.costUSD += estimateCostUSD(m.modelName, resp.Usage)
	m.stopReason = resp.StopReason

	// Populate middleware state with model response and usage
	if st, ok := ctx.Value(model.MiddlewareStateKey).(*middleware.State); ok && st != nil {
		st.ModelOutput = resp
		if st.Values == nil {
			st.Values = map[string]any{}
		}
		st.Values["model.response"] = resp
		st.Values["model.usage"] = resp.Usage
		st.Values["model.stop_reason"] = resp.StopReason
	}

	assistant := message.Message{Role: resp.Message.Role, Content: strings.TrimSpace(resp.Message.Content), ReasoningContent: resp.Message.ReasoningContent}
	if len(resp.Message.ToolCalls) > 0 {
		assistant.ToolCalls = make([]message.ToolCall, len(resp.Message.ToolCalls))
		for i, call := range resp.Message.ToolCalls {
			assistant.ToolCalls[i] = message.ToolCall{ID: call.ID, Name: call.Name, Arguments: call.Arguments}
		}
	}
	m.history.Append(assistant)

	out := &agent.ModelOutput{Content: assistant.Content, Done: len(assistant.ToolCalls) == 0}
	if len(assistant.ToolCalls) > 0 {
		out.ToolCalls = make([]agent.ToolCall, len(assistant.ToolCalls))
		for i, call := range assistant.ToolCalls {
			out.ToolCalls[i] = agent.ToolCall{ID: call.ID, Name: call.Name, Input: call.Arguments}
		}
		for _, tc := range out.ToolCalls {
			if len(tc.Input) == 0 {
				obs.Logger().Warn().Str("tool", tc.Name).Str("id", tc.ID).
					Msg("tool call has empty arguments, API proxy may have stripped tool_use.input")
			}
		}
	}
	return out, nil
}

type runtimeToolExecutor struct {
	executor  *tool.Executor
	hooks     *runtimeHookAdapter
	history   *message.History
	allow     map[string]struct{}
	root      string
	host      string
	sessionID string

	permissionResolver tool.PermissionResolver
}

func (t *runtimeToolExecutor) measureUsage() sandbox.ResourceUsage {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return sandbox.ResourceUsage{MemoryBytes: stats.Alloc}
}

func (t *runtimeToolExecutor) isAllowed(name string) bool {
	canon := canonicalToolName(name)
	if canon == "" {
		return false
	}
	if len(t.allow) == 0 {
		return true
	}
	_, ok := t.allow[canon]
	return ok
}

func (t *runtimeToolExecutor) Execute(ctx context.Context, call agent.ToolCall, _ *agent.Context) (agent.ToolResult, error) {
	if t.executor == nil {
		return agent.ToolResult{}, errors.New("tool executor not initialised")
	}
	if !t.isAllowed(call.Name) {
		return agent.ToolResult{}, fmt.Errorf("tool %s is not whitelisted", call.Name)
	}

	// Defensive check: if tool call has empty/nil arguments but the tool requires
	// parameters, return a diagnostic error instead of executing with missing params.
	// This commonly happens when an API proxy strips tool_use.input (returns "input": {}).
	if len(call.Input) == 0 {
		if reg := t.executor.Registry(); reg != nil {
			if impl, err := reg.Get(call.Name); err == nil {
				if schema := impl.Schema(); schema != nil && len(schema.Required) > 0 {
					errMsg := fmt.Sprintf(
						"tool %q called with empty arguments but requires %v; "+
							"the API proxy likely stripped tool_use.input — check proxy configuration",
						call.Name, schema.Required)
					obs.Logger().Warn().Str("id", call.ID).Msg(errMsg)
					if t.history != nil {
						t.history.Append(message.Message{
							Role: "tool",
							ToolCalls: []message.ToolCall{{
								ID:     call.ID,
								Name:   call.Name,
								Result: errMsg,
							}},
						})
					}
					return agent.ToolResult{
						Name:     call.Name,
						Output:   errMsg,
						Metadata: map[string]any{"error": "empty_arguments"},
					}, nil
				}
			}
		}
	}

	// Helper to append tool result to history
	appendToolResult := func(content string) {
		if t.history != nil {
			t.history.Append(message.Message{
				Role: "tool",
				ToolCalls: []message.ToolCall{{
					ID:     call.ID,
					Name:   call.Name,
					Result: content,
				}},
			})
		}
	}

	params, preErr := t.hooks.PreToolUse(ctx, coreToolUsePayload(call))
	if preErr != nil {
		if errors.Is(preErr, ErrToolUseRequiresApproval) && t.permissionResolver != nil {
			checkParams := call.Input
			if params != nil {
				checkParams = params
			}
			decision, err := t.permissionResolver(ctx, tool.Call{
				Name:      call.Name,
				Params:    checkParams,
				SessionID: t.sessionID,
			}, security.PermissionDecision{
				Action: security.PermissionAsk,
				Tool:   call.Name,
				Rule:   "hook:pre_tool_use",
			})
			if err != nil {
				preErr = err
			} else {
				switch decision.Action {
				case security.PermissionAllow:
					preErr = nil
				case security.PermissionDeny:
					preErr = fmt.Errorf("%w: %s", ErrToolUseDenied, call.Name)
				default:
					preErr = fmt.Errorf("%w: %s", ErrToolUseRequiresApproval, call.Name)
				}
			}
		}
	}
	if preErr != nil {
		// Hook denied execution - still need to add tool_result to history
		errContent := fmt.Sprintf(`{"error":%q}`, preErr.Error())
		appendToolResult(errContent)
		return agent.ToolResult{Name: call.Name, Output: errContent, Metadata: map[string]any{"error": preErr.Error()}}, preErr
	}
	if params != nil {
		call.Input = params
	}

	callSpec := tool.Call{
		Name:      call.Name,
		Params:    call.Input,
		Path:      t.root,
		Host:      t.host,
		Usage:     t.measureUsage(),
		SessionID: t.sessionID,
	}
	if emit := streamEmitFromContext(ctx); emit != nil {
		callSpec.StreamSink = func(chunk string, isStderr bool) {
			evt := StreamEvent{
				Type:      EventToolExecutionOutput,
				ToolUseID: call.ID,
				Name:      call.Name,
				Output:    chunk,
			}
			evt.IsStderr = &isStderr
			emit(ctx, evt)
		}
	}
	if t.host != "" {
		callSpec.Host = t.host
	}
	exec := t.executor
	if t.permissionResolver != nil {
		exec = exec.WithPermissionResolver(t.permissionResolver)
	}
	result, err := exec.Execute(ctx, callSpec)
	toolResult := agent.ToolResult{Name: call.Name}
	meta := map[string]any{}
	content := ""
	if result != nil && result.Result != nil {
		toolResult.Output = result.Result.Output
		meta["data"] = result.Result.Data
		if result.Result.OutputRef != nil {
			meta["output_ref"] = result.Result.OutputRef
		}
		content = result.Result.Output
	}
	if err != nil {
		meta["error"] = err.Error()
		content = fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	if len(meta) > 0 {
		toolResult.Metadata = meta
	}

	if hookErr := t.hooks.PostToolUse(ctx, coreToolResultPayload(call, result, err)); hookErr != nil && err == nil {
		// Hook failed - still need to add tool_result to history
		appendToolResult(content)
		return toolResult, hookErr
	}

	appendToolResult(content)
	return toolResult, err
}

func coreToolUsePayload(call agent.ToolCall) coreevents.ToolUsePayload {
	return coreevents.ToolUsePayload{Name: call.Name, Params: call.Input}
}

func coreToolResultPayload(call agent.ToolCall, res *tool.CallResult, err error) coreevents.ToolResultPayload {
	payload := coreevents.ToolResultPayload{Name: call.Name}
	if res != nil && res.Result != nil {
		payload.Result = res.Result.Output
		payload.Duration = res.Duration()
	}
	payload.Err = err
	return payload
}

func buildPermissionResolver(gate *security.ModeGate, hooks *runtimeHookAdapter, handler PermissionRequestHandler, approvals *security.ApprovalQueue, approver string, whitelistTTL time.Duration, approvalWait bool) tool.PermissionResolver {
	if gate == nil && hooks == nil && handler == nil && approvals == nil {
		return nil
	}
	return func(ctx context.Context, call tool.Call, decision security.PermissionDecision) (security.PermissionDecision, error) {
		if decision.Action != security.PermissionAsk {
			return decision, nil
		}

		if gate != nil {
			switch gate.Check(call.Name, decision.Target, call.Params) {
			case security.VerdictAllow:
				return decisionWithAction(decision, security.PermissionAllow), nil
			case security.VerdictDeny:
				return decisionWithAction(decision, security.PermissionDeny), nil
			}
		}

		req := PermissionRequest{
			ToolName:   call.Name,
			ToolParams: call.Params,
			SessionID:  call.SessionID,
			Rule:       decision.Rule,
			Target:     decision.Target,
			Reason:     buildPermissionReason(decision),
		}

		var record *security.ApprovalRecord
		if approvals != nil && strings.TrimSpace(call.SessionID) != "" {
			command := formatApprovalCommand(call.Name, decision.Target)
			rec, err := approvals.Request(call.SessionID, command, nil)
			if err != nil {
				return decision, err
			}
			record = rec
			req.Approval = rec
			if rec != nil && rec.State == security.ApprovalApproved && rec.AutoApproved {
				return decisionWithAction(decision, security.PermissionAllow), nil
			}
		}

		if hooks != nil {
			hookDecision, err := hooks.PermissionRequest(ctx, coreevents.PermissionRequestPayload{
				ToolName:   call.Name,
				ToolParams: call.Params,
				Reason:     req.Reason,
			})
			if err != nil {
				return decision, err
			}
			switch hookDecision {
			case coreevents.PermissionAllow:
				if record != nil {
					if _, err := approvals.Approve(record.ID, approvalActor(approver), whitelistTTL); err != nil {
						return decision, err
					}
				}
				return decisionWithAction(decision, security.PermissionAllow), nil
			case coreevents.PermissionDeny:
				if record != nil {
					if _, err := approvals.Deny(record.ID, approvalActor(approver), "denied by permission hook"); err != nil {
						return decision, err
					}
				}
				return decisionWithAction(decision, security.PermissionDeny), nil
			}
		}

		if handler != nil {
			hostDecision, err := handler(ctx, req)
			if err != nil {
				return decision, err
			}
			switch hostDecision {
			case coreevents.PermissionAllow:
				if record != nil {
					if _, err := approvals.Approve(record.ID, approvalActor(approver), whitelistTTL); err != nil {
						return decision, err
					}
				}
				return decisionWithAction(decision, security.PermissionAllow), nil
			case coreevents.PermissionDeny:
				if record != nil {
					if _, err := approvals.Deny(record.ID, approvalActor(approver), "denied by host"); err != nil {
						return decision, err
					}
				}
				return decisionWithAction(decision, security.PermissionDeny), nil
			}
		}

		if approvalWait && approvals != nil && record != nil {
			resolved, err := approvals.Wait(ctx, record.ID)
			if err != nil {
				return decision, err
			}
			switch resolved.State {
			case security.ApprovalApproved:
				return decisionWithAction(decision, security.PermissionAllow), nil
			case security.ApprovalDenied:
				return decisionWithAction(decision, security.PermissionDeny), nil
			}
		}

		return decision, nil
	}
}

func buildPermissionReason(decision security.PermissionDecision) string {
	rule := strings.TrimSpace(decision.Rule)
	target := strings.TrimSpace(decision.Target)
	switch {
	case rule == "" && target == "":
		return ""
	case rule == "":
		return fmt.Sprintf("target %q", target)
	case target == "":
		return fmt.Sprintf("rule %q", rule)
	default:
		return fmt.Sprintf("rule %q for %s", rule, target)
	}
}

func formatApprovalCommand(toolName, target string) string {
	name := strings.TrimSpace(toolName)
	if name == "" {
		name = "tool"
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return name
	}
	return fmt.Sprintf("%s(%s)", name, target)
}

func decisionWithAction(base security.PermissionDecision, action security.PermissionAction) security.PermissionDecision {
	base.Action = action
	return base
}

func approvalActor(approver string) string {
	if strings.TrimSpace(approver) == "" {
		return "host"
	}
	return strings.TrimSpace(approver)
}

// ----------------- config + registries -----------------

func registerTools(registry *tool.Registry, opts Options, settings *config.Settings) error {
	entry := effectiveEntryPoint(opts)
	tools := opts.Tools

	if len(tools) == 0 {
		sandboxDisabled := settings != nil && settings.Sandbox != nil && settings.Sandbox.Enabled != nil && !*settings.Sandbox.Enabled

		factories := builtinToolFactories(opts.ProjectRoot, sandboxDisabled, entry, settings)
		names := builtinOrder()
		selectedNames := filterBuiltinNames(opts.EnabledBuiltinTools, names)
		for _, name := range selectedNames {
			ctor := factories[name]
			if ctor == nil {
				continue
			}
			impl := ctor()
			if impl == nil {
				continue
			}
			tools = append(tools, impl)
		}

		if len(opts.CustomTools) > 0 {
			tools = append(tools, opts.CustomTools...)
		}
	}

	disallowed := toLowerSet(opts.DisallowedTools)
	if settings != nil && len(settings.DisallowedTools) > 0 {
		if disallowed == nil {
			disallowed = map[string]struct{}{}
		}
		for _, name := range settings.DisallowedTools {
			if key := canonicalToolName(name); key != "" {
				disallowed[key] = struct{}{}
			}
		}
		if len(disallowed) == 0 {
			disallowed = nil
		}
	}

	seen := make(map[string]struct{})
	for _, impl := range tools {
		if impl == nil {
			continue
		}
		name := strings.TrimSpace(impl.Name())
		if name == "" {
			continue
		}
		canon := canonicalToolName(name)
		if disallowed != nil {
			if _, blocked := disallowed[canon]; blocked {
				obs.Logger().Debug().Str("tool", name).Msg("tool skipped: disallowed")
				continue
			}
		}
		if _, ok := seen[canon]; ok {
			obs.Logger().Debug().Str("tool", name).Msg("tool skipped: duplicate name")
			continue
		}
		seen[canon] = struct{}{}
		if err := registry.Register(impl); err != nil {
			return fmt.Errorf("api: register tool %s: %w", impl.Name(), err)
		}
	}
	return nil
}

func builtinToolFactories(root string, sandboxDisabled bool, entry EntryPoint, settings *config.Settings) map[string]func() tool.Tool {
	factories := map[string]func() tool.Tool{}

	var (
		syncThresholdBytes  int
		asyncThresholdBytes int
	)
	if settings != nil && settings.BashOutput != nil {
		if settings.BashOutput.SyncThresholdBytes != nil {
			syncThresholdBytes = *settings.BashOutput.SyncThresholdBytes
		}
		if settings.BashOutput.AsyncThresholdBytes != nil {
			asyncThresholdBytes = *settings.BashOutput.AsyncThresholdBytes
		}
	}
	if asyncThresholdBytes > 0 {
		toolbuiltin.DefaultAsyncTaskManager().SetMaxOutputLen(asyncThresholdBytes)
	}

	bashCtor := func() tool.Tool {
		var bash *toolbuiltin.BashTool
		if sandboxDisabled {
			bash = toolbuiltin.NewBashToolWithSandbox(root, security.NewDisabledSandbox())
		} else {
			bash = toolbuiltin.NewBashToolWithRoot(root)
		}
		if syncThresholdBytes > 0 {
			bash.SetOutputThresholdBytes(syncThresholdBytes)
		}
		if entry == EntryPointCLI {
			bash.AllowShellMetachars(true)
		}
		return bash
	}

	readCtor := func() tool.Tool {
		if sandboxDisabled {
			return toolbuiltin.NewReadToolWithSandbox(root, security.NewDisabledSandbox())
		}
		return toolbuiltin.NewReadToolWithRoot(root)
	}
	writeCtor := func() tool.Tool {
		if sandboxDisabled {
			return toolbuiltin.NewWriteToolWithSandbox(root, security.NewDisabledSandbox())
		}
		return toolbuiltin.NewWriteToolWithRoot(root)
	}
	editCtor := func() tool.Tool {
		if sandboxDisabled {
			return toolbuiltin.NewEditToolWithSandbox(root, security.NewDisabledSandbox())
		}
		return toolbuiltin.NewEditToolWithRoot(root)
	}

	taskStore := tasks.NewTaskStore()

	factories["bash"] = bashCtor
	factories["file_read"] = readCtor
	factories["file_write"] = writeCtor
	factories["file_edit"] = editCtor
	factories["bash_output"] = func() tool.Tool { return toolbuiltin.NewBashOutputTool(nil) }
	factories["bash_status"] = func() tool.Tool { return toolbuiltin.NewBashStatusTool() }
	factories["kill_task"] = func() tool.Tool { return toolbuiltin.NewKillTaskTool() }
	factories["task_create"] = func() tool.Tool { return toolbuiltin.NewTaskCreateTool(taskStore) }
	factories["task_list"] = func() tool.Tool { return toolbuiltin.NewTaskListTool(taskStore) }
	factories["task_get"] = func() tool.Tool { return toolbuiltin.NewTaskGetTool(taskStore) }
	factories["task_update"] = func() tool.Tool { return toolbuiltin.NewTaskUpdateTool(taskStore) }
	factories["ask_user_question"] = func() tool.Tool { return toolbuiltin.NewAskUserQuestionTool() }
	factories["todo_write"] = func() tool.Tool { return toolbuiltin.NewTodoWriteTool() }

	return factories
}

func builtinOrder() []string {
	return []string{
		"bash",
		"file_read",
		"file_write",
		"file_edit",
		"bash_output",
		"bash_status",
		"kill_task",
		"task_create",
		"task_list",
		"task_get",
		"task_update",
		"ask_user_question",
		"todo_write",
	}
}

func filterBuiltinNames(enabled []string, order []string) []string {
	if enabled == nil {
		return append([]string(nil), order...)
	}
	if len(enabled) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(enabled))
	repl := strings.NewReplacer("-", "_", " ", "_")
	for _, name := range enabled {
		key := strings.ToLower(strings.TrimSpace(name))
		key = repl.Replace(key)
		if key != "" {
			set[key] = struct{}{}
		}
	}
	var filtered []string
	for _, name := range order {
		if _, ok := set[name]; ok {
			filtered = append(filtered, name)
		}
	}
	return filtered
}

func effectiveEntryPoint(opts Options) EntryPoint {
	entry := opts.EntryPoint
	if entry == "" {
		entry = opts.Mode.EntryPoint
	}
	if entry == "" {
		entry = defaultEntrypoint
	}
	return entry
}

func registerMCPServers(ctx context.Context, registry *tool.Registry, manager *sandbox.Manager, servers []mcpServer) error {
	for _, server := range servers {
		spec := server.Spec
		if err := enforceSandboxHost(manager, spec); err != nil {
			return err
		}
		opts := tool.MCPServerOptions{Headers: server.Headers, Env: server.Env}
		if server.TimeoutSeconds > 0 {
			opts.Timeout = time.Duration(server.TimeoutSeconds) * time.Second
		}

		var err error
		if len(opts.Headers) == 0 && len(opts.Env) == 0 && opts.Timeout <= 0 {
			err = registry.RegisterMCPServer(ctx, spec, server.Name)
		} else {
			err = registry.RegisterMCPServerWithOptions(ctx, spec, server.Name, opts)
		}
		if err != nil {
			return fmt.Errorf("api: register MCP %s: %w", spec, err)
		}
	}
	return nil
}

func enforceSandboxHost(manager *sandbox.Manager, server string) error {
	if manager == nil || strings.TrimSpace(server) == "" {
		return nil
	}
	u, err := url.Parse(server)
	if err != nil || u == nil || strings.TrimSpace(u.Scheme) == "" {
		return nil
	}
	scheme := strings.ToLower(strings.TrimSpace(u.Scheme))
	base, _, _ := strings.Cut(scheme, "+")
	switch base {
	case "http", "https", "sse":
		if err := manager.CheckNetwork(u.Host); err != nil {
			return fmt.Errorf("api: MCP host denied: %w", err)
		}
	}
	return nil
}

func resolveModel(ctx context.Context, opts Options) (model.Model, error) {
	if opts.Model != nil {
		return opts.Model, nil
	}
	if opts.ModelFactory != nil {
		mdl, err := opts.ModelFactory.Model(ctx)
		if err != nil {
			return nil, fmt.Errorf("api: model factory: %w", err)
		}
		return mdl, nil
	}
	return nil, ErrMissingModel
}

func defaultSessionID(entry EntryPoint) string {
	prefix := strings.TrimSpace(string(entry))
	if prefix == "" {
		prefix = string(defaultEntrypoint)
	}
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
