// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package protocol is the request dispatcher: a named-method surface over
// length-delimited JSON messages, a read-only resource-URI projection of
// session state, and debounced change-notification subscriptions.
//
// It is the one place every other package gets wired together: the
// session engine owns state, everything else (mediator, differential,
// cache, pipeline, sampling, confidence, safeguards) is process-wide or
// per-session runtime the dispatcher holds on the caller's behalf and
// hands to the engine's snapshot on every call.
package protocol

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kraklabs/elenchus/internal/errors"
	"github.com/kraklabs/elenchus/pkg/ast"
	"github.com/kraklabs/elenchus/pkg/baseline"
	"github.com/kraklabs/elenchus/pkg/cache"
	"github.com/kraklabs/elenchus/pkg/config"
	"github.com/kraklabs/elenchus/pkg/differential"
	"github.com/kraklabs/elenchus/pkg/graph"
	"github.com/kraklabs/elenchus/pkg/mediator"
	"github.com/kraklabs/elenchus/pkg/pipeline"
	"github.com/kraklabs/elenchus/pkg/safeguards"
	"github.com/kraklabs/elenchus/pkg/sampling"
	"github.com/kraklabs/elenchus/pkg/session"
)

// Request is one inbound dispatch call: a method name plus its raw
// parameter object.
type Request struct {
	ID     any             `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// errorPayload is the {errorType, message, isError} shape every failure
// every error response to carry.
type errorPayload struct {
	ErrorType  string `json:"errorType"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
	IsError    bool   `json:"isError"`
}

// Response is one outbound dispatch result: exactly one of Result or Error
// is populated, mirroring the request-response pairing of the envelope
// this dispatcher generalizes from.
type Response struct {
	ID     any           `json:"id,omitempty"`
	Result any           `json:"result,omitempty"`
	Error  *errorPayload `json:"error,omitempty"`
}

// Notification is a server-initiated, ID-less message pushed to the
// client on a resource subscription firing.
type Notification struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

// handlerFunc is the signature every registered method implements: decode
// params, call into the engine/runtime, return a result or an error.
type handlerFunc func(a *App, ctx context.Context, params json.RawMessage) (any, error)

// sessionRuntime is the per-session process state that isn't itself part
// of model.Session: the dependency graph, the mediator tuned to it, the
// tiered pipeline escalator, the safeguards coordinator, and the
// differential scanner. Exactly one runtime exists per active session,
// built lazily on first use and torn down when the session ends.
type sessionRuntime struct {
	mu sync.Mutex

	graph      *graph.Graph
	mediator   *mediator.Mediator
	pipeline   *pipeline.State
	safeguards *safeguards.Coordinator
	scanner    *differential.Scanner
	runner     differential.GitRunner

	neverSample  *pipeline.PatternMatcher
	alwaysSample *pipeline.PatternMatcher
	productivity *sampling.ProductivityTracker

	verifiedCritical map[string]bool
	lastDiff         *differential.DiffResult
}

// App wires every domain package into one dispatcher: the session engine
// (the sole state mutator), process-wide caches/extractors/stores shared
// across every session, and the per-session runtimes above.
type App struct {
	cfg       *config.Config
	dataDir   string
	logger    *slog.Logger
	engine    *session.Engine
	cache     *cache.Cache
	watcher   *cache.Watcher
	baselines *baseline.Store
	trackers  *safeguards.TrackerStore
	extractor *ast.Extractor

	mu       sync.Mutex
	runtimes map[string]*sessionRuntime

	resources *resourceHub
	metrics   *Metrics
}

// NewApp builds the process-wide dispatcher state from a loaded config.
func NewApp(cfg *config.Config, dataDir string, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		cfg:       cfg,
		dataDir:   dataDir,
		logger:    logger,
		engine:    session.New(dataDir, logger),
		cache:     cache.New(time.Duration(cfg.Cache.TTLSeconds)*time.Second, cfg.Cache.DecayRatePerH, cfg.Cache.MinConfidence, cfg.Cache.MaxEntries),
		baselines: baseline.NewStore(dataDir),
		trackers:  safeguards.NewTrackerStore(dataDir),
		extractor: ast.NewExtractor(logger),
		runtimes:  make(map[string]*sessionRuntime),
		metrics:   newMetrics(),
	}
	a.resources = newResourceHub(a)
	if cfg.Cache.WatchFiles {
		w, err := cache.NewWatcher(a.cache, logger)
		if err != nil {
			logger.Warn("protocol.cache_watcher_unavailable", "error", err)
		} else {
			a.watcher = w
			go w.Start()
		}
	}
	return a
}

// Close releases process-wide resources held by the dispatcher (currently
// only the optional cache file watcher).
func (a *App) Close() error {
	if a.watcher != nil {
		return a.watcher.Close()
	}
	return nil
}

// watchFile registers path with the cache watcher when proactive
// invalidation is enabled. A watch failure only means the entry falls
// back to TTL expiry, so it is logged at debug and otherwise ignored.
func (a *App) watchFile(path, fingerprint string) {
	if a.watcher == nil {
		return
	}
	if err := a.watcher.Watch(path, fingerprint); err != nil {
		a.logger.Debug("protocol.cache_watch_failed", "path", path, "error", err)
	}
}

// methodTable maps every protocol method to its handler. Built
// once at package init so Dispatch itself stays a single map lookup.
var methodTable = map[string]handlerFunc{
	"start_session":             handleStartSession,
	"get_context":               handleGetContext,
	"submit_round":              handleSubmitRound,
	"end_session":               handleEndSession,
	"get_issues":                handleGetIssues,
	"checkpoint":                handleCheckpoint,
	"rollback":                  handleRollback,
	"apply_fix":                 handleApplyFix,
	"start_reverification":      handleStartReverification,
	"ripple_effect":             handleRippleEffect,
	"mediator_summary":          handleMediatorSummary,
	"get_role_prompt":           handleGetRolePrompt,
	"role_summary":              handleRoleSummary,
	"update_role_config":        handleUpdateRoleConfig,
	"save_baseline":             handleSaveBaseline,
	"get_diff_summary":          handleGetDiffSummary,
	"get_project_history":       handleGetProjectHistory,
	"get_cache_stats":           handleGetCacheStats,
	"clear_cache":               handleClearCache,
	"get_pipeline_status":       handleGetPipelineStatus,
	"escalate_tier":             handleEscalateTier,
	"complete_tier":             handleCompleteTier,
	"get_safeguards_status":     handleGetSafeguardsStatus,
	"update_confidence":         handleUpdateConfidence,
	"record_sampling_result":    handleRecordSamplingResult,
	"check_convergence_allowed": handleCheckConvergenceAllowed,
}

// Dispatch routes one request to its handler, translating any *errors.Error
// into the errorPayload shape above and
// notifying the resource hub of session-state-affecting methods so
// subscribers get their debounced update.
func (a *App) Dispatch(ctx context.Context, req Request) Response {
	h, ok := methodTable[req.Method]
	if !ok {
		return Response{ID: req.ID, Error: &errorPayload{
			ErrorType: string(errors.KindValidation),
			Message:   "unknown method " + req.Method,
			IsError:   true,
		}}
	}

	result, err := h(a, ctx, req.Params)
	if err != nil {
		return Response{ID: req.ID, Error: toErrorPayload(err, a.logger)}
	}

	if sid := sessionIDFromParams(req.Params); sid != "" && mutatesSession(req.Method) {
		a.resources.touch(sid)
	}

	return Response{ID: req.ID, Result: result}
}

func toErrorPayload(err error, logger *slog.Logger) *errorPayload {
	ee, ok := err.(*errors.Error)
	if !ok {
		return &errorPayload{ErrorType: string(errors.KindIO), Message: err.Error(), IsError: true}
	}
	if ee.Kind == errors.KindIntegrity || ee.Kind == errors.KindIO {
		logger.Error("protocol.dispatch.error", "kind", ee.Kind, "title", ee.Title, "detail", ee.Detail)
	}
	return &errorPayload{
		ErrorType:  string(ee.Kind),
		Message:    ee.Error(),
		Suggestion: ee.Suggestion,
		IsError:    true,
	}
}

// mutatesSession reports whether method can change visible session state,
// the trigger for a debounced resource notification.
func mutatesSession(method string) bool {
	switch method {
	case "submit_round", "end_session", "checkpoint", "rollback", "apply_fix",
		"start_reverification", "update_role_config":
		return true
	default:
		return false
	}
}

// sessionIDFromParams best-effort-extracts a "sessionId" field from a raw
// params object, used only to route change notifications — a miss here
// just means no notification fires, not a dispatch failure.
func sessionIDFromParams(raw json.RawMessage) string {
	var probe struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.SessionID
}

// runtimeFor returns the session runtime for id, building an empty one on
// first use. The runtime is populated incrementally by the methods that
// need it (start_session seeds the graph; get_diff_summary seeds the
// scanner, and so on) rather than all at once, since a session may never
// touch every subsystem.
func (a *App) runtimeFor(id string) *sessionRuntime {
	a.mu.Lock()
	defer a.mu.Unlock()
	rt, ok := a.runtimes[id]
	if !ok {
		rt = &sessionRuntime{verifiedCritical: make(map[string]bool)}
		a.runtimes[id] = rt
	}
	return rt
}

// dropRuntime discards a session's in-memory runtime, called once the
// session ends (mirrors the engine's own eviction-on-end behavior).
func (a *App) dropRuntime(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.runtimes, id)
}

func uuidString() string { return uuid.NewString() }

// Metrics returns the process-wide Prometheus registry, for a transport
// that wants to scrape it (e.g. `elenchus serve --metrics-addr`).
func (a *App) Metrics() *Metrics {
	return a.metrics
}

// NewErrorResponse builds the {errorType, message, isError} response
// payload for a transport-level error (malformed frame, unrecognized
// pseudo-method) that never reached a registered handler, so never went
// through Dispatch's own error translation.
func (a *App) NewErrorResponse(id any, err error) Response {
	return Response{ID: id, Error: toErrorPayload(err, a.logger)}
}
