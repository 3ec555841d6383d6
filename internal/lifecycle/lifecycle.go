// Package lifecycle implements the Assistant Lifecycle Controller: it
// spawns the child assistant with a customized environment, manages an
// SSO-authenticated proxy for it, handles signals, drains a grace period
// for late telemetry, and emits session-start/session-end lifecycle
// metrics. Grounded on three teacher pieces composed together: process
// spawning (internal/tools/exec/manager.go), signal handling/phased drain
// (internal/infra/shutdown.go's ShutdownCoordinator, adapted to one linear
// sequence), and async post-spawn work (internal/heartbeat/runner.go's
// goroutine-plus-done-channel shape).
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codemie-cli/agentwrap/internal/agentspec"
	"github.com/codemie-cli/agentwrap/internal/aggregator"
	"github.com/codemie-cli/agentwrap/internal/codemie"
	"github.com/codemie-cli/agentwrap/internal/codemieerr"
	"github.com/codemie-cli/agentwrap/internal/collector"
	"github.com/codemie-cli/agentwrap/internal/correlator"
	"github.com/codemie-cli/agentwrap/internal/deltastore"
	"github.com/codemie-cli/agentwrap/internal/gitinfo"
	"github.com/codemie-cli/agentwrap/internal/proxy"
	"github.com/codemie-cli/agentwrap/internal/proxy/interceptor"
	"github.com/codemie-cli/agentwrap/internal/sessionstore"
	"github.com/codemie-cli/agentwrap/internal/snapshot"
	"github.com/codemie-cli/agentwrap/internal/ssocreds"
	"github.com/codemie-cli/agentwrap/internal/syncstate"
	"github.com/codemie-cli/agentwrap/internal/transmitter"
)

// GracePeriod is the fixed wait for late LLM telemetry after child exit,
// per spec.md §4.10 step 8.
const GracePeriod = 2000 * time.Millisecond

// Options configures a Controller run.
type Options struct {
	DataRoot        string
	BaseURL         string
	DryRun          bool
	UpstreamTimeout time.Duration
	BlockedPatterns []string
	HeaderOptions   interceptor.HeaderOptions
}

// Controller orchestrates one assistant invocation end to end.
type Controller struct {
	Agent   agentspec.Definition
	Opts    Options
	SSOCache *ssocreds.Cache
}

// New constructs a Controller for one agent definition.
func New(agent agentspec.Definition, opts Options) *Controller {
	return &Controller{Agent: agent, Opts: opts, SSOCache: ssocreds.New(opts.DataRoot)}
}

// orchestrator bundles the metrics-pipeline components for one session.
// The Lifecycle Controller holds it by interface-shaped composition; the
// parser itself is stateless between calls, per spec.md §9.
type orchestrator struct {
	sessionID    string
	session      *codemie.MetricsSession
	sessionStore *sessionstore.Store
	syncMgr      *syncstate.Manager
	deltas       *deltastore.Store
	loop         *collector.Loop
	syncer       *interceptor.MetricsSyncer
	enabled      bool
}

// metricsSyncInterval bounds how often the proxy's metrics-sync
// interceptor harvests pending deltas while the child is running, per
// spec.md §4.9.
const metricsSyncInterval = 30 * time.Second

// Run executes the full spawn -> proxy -> correlate -> watch -> drain ->
// session-end sequence for one invocation and returns the child's exit
// code.
func (c *Controller) Run(ctx context.Context, args []string, envOverrides map[string]string) (int, error) {
	log := slog.Default().With("component", "lifecycle")
	sessionID := uuid.NewString()

	// 1. Compose child environment.
	env := composeEnv(envOverrides)

	var proxyServer *proxy.Server
	var proxyURL string
	var metricsSyncer *interceptor.MetricsSyncer
	if c.Agent.SSOConfig.Enabled {
		var err error
		proxyServer, proxyURL, metricsSyncer, err = c.startProxy(sessionID)
		if err != nil {
			return 1, fmt.Errorf("lifecycle: start proxy: %w", err)
		}
		env[c.Agent.SSOConfig.EnvOverrides.BaseURL] = proxyURL
		env[c.Agent.SSOConfig.EnvOverrides.APIKey] = "proxy-handled"
	}

	// 2. beforeRun hook.
	config := map[string]string{"baseUrl": c.Opts.BaseURL}
	if c.Agent.Lifecycle.BeforeRun != nil {
		var err error
		env, err = c.Agent.Lifecycle.BeforeRun(env, config)
		if err != nil {
			return 1, fmt.Errorf("lifecycle: beforeRun hook: %w", err)
		}
	}

	// 3. argumentTransform.
	finalArgs := args
	if c.Agent.ArgumentTransform != nil {
		finalArgs = c.Agent.ArgumentTransform(args, config)
	}

	workingDir, _ := os.Getwd()

	// 4. Construct MetricsOrchestrator if enabled.
	orch := &orchestrator{enabled: c.Agent.MetricsEnabled}
	var before *codemie.FileSnapshot
	if orch.enabled {
		var err error
		before, err = c.beforeAgentSpawn(sessionID, workingDir)
		if err != nil {
			log.Warn("metrics pipeline disabled for this session", "error", codemieerr.Wrap(err, sessionID, c.Agent.Name, c.Agent.Provider))
			orch.enabled = false
			c.sendSessionStart(ctx, proxyServer, sessionID, workingDir, codemie.LifecycleFailedState, err.Error())
		} else {
			c.sendSessionStart(ctx, proxyServer, sessionID, workingDir, codemie.LifecycleStarted, "")
		}
	}

	// 5. Spawn the child.
	cmd := exec.CommandContext(ctx, finalArgs[0], finalArgs[1:]...)
	cmd.Env = envSlice(env)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		if orch.enabled {
			c.sendSessionStart(ctx, proxyServer, sessionID, workingDir, codemie.LifecycleFailedState, err.Error())
		}
		return 1, fmt.Errorf("lifecycle: spawn child: %w", err)
	}

	// 6. Signal handling.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}
		log.Info("lifecycle: forwarding signal to child", "signal", sig)
		if proxyServer != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			proxyServer.Stop(stopCtx)
			cancel()
		}
		cmd.Process.Signal(sig)
	}()

	// 7. afterAgentSpawn, asynchronous.
	if orch.enabled {
		go c.afterAgentSpawn(ctx, orch, before, sessionID, workingDir, proxyServer, metricsSyncer)
	}

	startTime := time.Now()
	waitErr := cmd.Wait()
	signal.Stop(sigCh)
	close(sigCh)

	exitCode := 0
	if waitErr != nil {
		exitCode = 1
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
	}

	// 8. Grace period for late telemetry, then drain.
	time.Sleep(GracePeriod)
	if proxyServer != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		proxyServer.Stop(stopCtx)
		cancel()
	}
	if c.Agent.Lifecycle.AfterRun != nil {
		if err := c.Agent.Lifecycle.AfterRun(exitCode); err != nil {
			log.Warn("lifecycle: afterRun hook failed", "error", err)
		}
	}

	if orch.enabled {
		c.onAgentExit(ctx, orch, sessionID, workingDir, exitCode, time.Since(startTime))
	}

	if waitErr != nil {
		return exitCode, fmt.Errorf("lifecycle: child exited non-zero: %w", waitErr)
	}
	return 0, nil
}

func composeEnv(overrides map[string]string) map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				env[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	for k, v := range overrides {
		env[k] = v
	}
	return env
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func (c *Controller) startProxy(sessionID string) (*proxy.Server, string, *interceptor.MetricsSyncer, error) {
	c.Opts.HeaderOptions.SessionID = sessionID
	registry := prometheus.NewRegistry()
	recorder := interceptor.NewAnalyticsRecorder(registry)
	syncer := &interceptor.MetricsSyncer{Interval: metricsSyncInterval, Exclusions: c.Agent.ErrorExclusions}
	chain := interceptor.NewChain(
		interceptor.SSOAuth(c.SSOCache, c.Opts.BaseURL),
		interceptor.HeaderInjection(c.Opts.HeaderOptions),
		interceptor.EndpointBlocker(c.Opts.BlockedPatterns),
		recorder.Analytics(),
		syncer.Hook(),
	)
	server := proxy.New(c.Opts.BaseURL, chain, c.Opts.UpstreamTimeout, registry)
	server.MetricsSyncer = syncer
	url, err := server.Start()
	if err != nil {
		return nil, "", nil, err
	}
	return server, url, syncer, nil
}

func (c *Controller) beforeAgentSpawn(sessionID, workingDir string) (*codemie.FileSnapshot, error) {
	paths := c.Agent.Dialect.GetDataPaths()
	before, err := snapshot.Take(paths.SessionsDir, paths.SessionTemplate)
	if err != nil {
		return nil, fmt.Errorf("pre-spawn snapshot: %w", err)
	}

	store, err := sessionstore.Open(c.Opts.DataRoot, sessionID)
	if err != nil {
		return nil, err
	}
	session := &codemie.MetricsSession{
		SessionID:        sessionID,
		AgentName:        c.Agent.Name,
		Provider:         c.Agent.Provider,
		StartTime:        time.Now(),
		WorkingDirectory: workingDir,
		Status:           codemie.SessionActive,
		Correlation:      codemie.Correlation{Status: codemie.CorrelationPending},
	}
	if err := store.Create(session); err != nil {
		return nil, fmt.Errorf("persist initial session: %w", err)
	}
	return before, nil
}

func (c *Controller) afterAgentSpawn(ctx context.Context, orch *orchestrator, before *codemie.FileSnapshot, sessionID, workingDir string, proxyServer *proxy.Server, syncer *interceptor.MetricsSyncer) {
	log := slog.Default().With("component", "lifecycle", "session", sessionID)
	time.Sleep(c.Agent.Dialect.GetInitDelay())

	paths := c.Agent.Dialect.GetDataPaths()
	predicate := correlator.ByWorkingDirectory(workingDir)
	matchesDialect := func(path string) bool { return c.Agent.Dialect.MatchesSessionPattern(path, nil) }

	matched, retryCount, err := correlator.Correlate(ctx, paths.SessionsDir, paths.SessionTemplate, before, matchesDialect, predicate, correlator.DefaultPolicy)

	store, openErr := sessionstore.Open(c.Opts.DataRoot, sessionID)
	if openErr != nil {
		log.Warn("correlator: cannot reopen session store", "error", openErr)
		return
	}

	if err != nil {
		log.Info("correlator: no session file matched within retry budget", "retries", retryCount)
		store.Update(func(s *codemie.MetricsSession) {
			s.Correlation.Status = codemie.CorrelationFailed
			s.Correlation.RetryCount = retryCount
		})
		return
	}

	agentSessionFile := filepath.Join(paths.SessionsDir, matched)
	agentSessionID, _ := c.Agent.Dialect.ExtractSessionID(agentSessionFile)

	store.Update(func(s *codemie.MetricsSession) {
		s.Correlation.Status = codemie.CorrelationMatched
		s.Correlation.RetryCount = retryCount
		s.Correlation.AgentSessionID = agentSessionID
		s.Correlation.AgentSessionFile = agentSessionFile
		s.Monitoring.IsActive = true
	})

	syncMgr, err := syncstate.Open(c.Opts.DataRoot, sessionID)
	if err != nil {
		log.Warn("syncstate: open failed", "error", err)
		return
	}
	if err := syncMgr.Initialize(sessionID, agentSessionID, time.Now()); err != nil {
		log.Warn("syncstate: initialize failed", "error", err)
		return
	}

	deltaStore, err := deltastore.Open(c.Opts.DataRoot, sessionID)
	if err != nil {
		log.Warn("deltastore: open failed", "error", err)
		return
	}

	orch.sessionID = sessionID
	orch.sessionStore = store
	orch.syncMgr = syncMgr
	orch.deltas = deltaStore
	orch.loop = collector.New(sessionID, agentSessionFile, workingDir, c.Agent.Dialect, deltaStore, syncMgr, gitinfo.NewResolver())

	if err := orch.loop.Start(ctx); err != nil {
		log.Warn("collector: start failed", "error", err)
	}

	// syncer is nil when the agent's SSO-proxy is disabled; metrics then
	// flush only once, at session end, via onAgentExit's drain pass.
	if syncer != nil {
		syncer.Deltas = deltaStore
		syncer.Sessions = store
		transmit := c.transmitterFor(proxyServer)
		syncer.Transmit = func(ctx context.Context, m codemie.AggregatedMetric) error {
			return transmit.SendAggregatedMetric(ctx, m)
		}
		orch.syncer = syncer
		syncer.Start(ctx)
	}
}

func (c *Controller) sendSessionStart(ctx context.Context, proxyServer *proxy.Server, sessionID, workingDir, status, errMsg string) {
	t := c.transmitterFor(proxyServer)
	session := &codemie.MetricsSession{SessionID: sessionID, AgentName: c.Agent.Name, WorkingDirectory: workingDir}
	if err := t.SendSessionStart(ctx, session, status, errMsg); err != nil {
		slog.Warn("lifecycle: session-start transmission failed", "session", sessionID, "error", err)
	}
}

func (c *Controller) onAgentExit(ctx context.Context, orch *orchestrator, sessionID, workingDir string, exitCode int, duration time.Duration) {
	log := slog.Default().With("component", "lifecycle", "session", sessionID)

	status := codemie.SessionCompleted
	lifecycleStatus := codemie.LifecycleCompleted
	if exitCode != 0 {
		status = codemie.SessionFailed
		lifecycleStatus = codemie.LifecycleFailedState
	}

	if orch.loop != nil {
		orch.loop.Stop(ctx)
	}
	if orch.syncer != nil {
		orch.syncer.Stop()
	}
	if orch.syncMgr != nil {
		if err := orch.syncMgr.UpdateStatus(status); err != nil {
			log.Warn("syncstate: update status failed", "error", err)
		}
	}
	if orch.sessionStore != nil {
		orch.sessionStore.Update(func(s *codemie.MetricsSession) {
			s.Status = status
			end := time.Now()
			s.EndTime = &end
		})
	}

	t := c.transmitterFor(nil)
	session := &codemie.MetricsSession{SessionID: sessionID, AgentName: c.Agent.Name, WorkingDirectory: workingDir}
	if err := t.SendSessionEnd(ctx, session, lifecycleStatus, duration.Milliseconds(), ""); err != nil {
		log.Warn("session-end transmission failed", "error", err)
	}

	if orch.deltas != nil && orch.sessionStore != nil {
		pending, err := orch.deltas.FilterByStatus(codemie.SyncPending)
		if err != nil || len(pending) == 0 {
			return
		}
		persisted, err := orch.sessionStore.Load()
		if err != nil || persisted == nil {
			return
		}
		recordIDs := make([]string, 0, len(pending))
		for _, d := range pending {
			recordIDs = append(recordIDs, d.RecordID)
		}

		var lastErr error
		for _, m := range aggregator.Aggregate(persisted, pending, c.Agent.ErrorExclusions) {
			if err := t.SendAggregatedMetric(ctx, m); err != nil {
				lastErr = err
				log.Warn("aggregated metric transmission failed", "error", err)
			}
		}

		if lastErr != nil {
			_ = orch.deltas.UpdateSyncStatus(recordIDs, codemie.SyncFailed, lastErr.Error())
			return
		}
		_ = orch.deltas.UpdateSyncStatus(recordIDs, codemie.SyncSynced, "")
	}
}

func (c *Controller) transmitterFor(proxyServer *proxy.Server) *transmitter.Transmitter {
	var client *transmitter.Transmitter
	if proxyServer != nil {
		client = transmitter.New(proxyServer.HTTPClient(), c.Opts.BaseURL, c.Opts.DryRun)
	} else {
		client = transmitter.New(nil, c.Opts.BaseURL, c.Opts.DryRun)
	}
	return client
}
