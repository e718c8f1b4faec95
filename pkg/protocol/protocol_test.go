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

package protocol

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/elenchus/pkg/config"
	"github.com/kraklabs/elenchus/pkg/model"
	"github.com/kraklabs/elenchus/pkg/sampling"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := config.DefaultConfig(t.TempDir())
	return NewApp(cfg, cfg.DataDir, nil)
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestDispatch_UnknownMethodIsValidationError(t *testing.T) {
	a := newTestApp(t)
	resp := a.Dispatch(context.Background(), Request{ID: 1, Method: "no_such_method"})
	require.NotNil(t, resp.Error)
	assert.True(t, resp.Error.IsError)
}

func TestDispatch_StartSubmitEndSessionLifecycle(t *testing.T) {
	a := newTestApp(t)

	target := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(target, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644))

	startResp := a.Dispatch(context.Background(), Request{Method: "start_session", Params: mustJSON(t, startSessionParams{
		Target: target, Requirements: "review for correctness", MaxRounds: 10,
		Mode: model.ModeConfig{Mode: model.ModeFastTrack},
	})})
	require.Nil(t, startResp.Error)
	startResult, ok := startResp.Result.(startSessionResult)
	require.True(t, ok)
	sessionID := startResult.Session.ID
	assert.NotEmpty(t, sessionID)
	assert.Equal(t, 1, startResult.FilesFramed)

	submitResp := a.Dispatch(context.Background(), Request{Method: "submit_round", Params: mustJSON(t, submitRoundParams{
		SessionID: sessionID, Role: model.RoleVerifier, Output: "no issues found across all categories: security, correctness, reliability, maintainability, performance",
	})})
	require.Nil(t, submitResp.Error)

	issuesResp := a.Dispatch(context.Background(), Request{Method: "get_issues", Params: mustJSON(t, issueFilter{SessionID: sessionID})})
	require.Nil(t, issuesResp.Error)

	endResp := a.Dispatch(context.Background(), Request{Method: "end_session", Params: mustJSON(t, struct {
		SessionID string        `json:"sessionId"`
		Verdict   model.Verdict `json:"verdict"`
	}{SessionID: sessionID, Verdict: model.VerdictPass})})
	require.Nil(t, endResp.Error)
}

func TestDispatch_UpdateConfidenceCachesArtifactForContext(t *testing.T) {
	a := newTestApp(t)

	target := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(target, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644))

	startResp := a.Dispatch(context.Background(), Request{Method: "start_session", Params: mustJSON(t, startSessionParams{
		Target: target, Requirements: "review for correctness", MaxRounds: 10,
		Mode: model.ModeConfig{Mode: model.ModeStandard},
	})})
	require.Nil(t, startResp.Error)
	sessionID := startResp.Result.(startSessionResult).Session.ID

	updResp := a.Dispatch(context.Background(), Request{Method: "update_confidence", Params: mustJSON(t, map[string]any{
		"sessionId": sessionID,
		"path":      "main.go",
		"source":    "full",
		"artifact":  "no issues",
	})})
	require.Nil(t, updResp.Error)
	updResult := updResp.Result.(map[string]any)
	assert.NotEmpty(t, updResult["cachedFingerprint"])

	ctxResp := a.Dispatch(context.Background(), Request{Method: "get_context", Params: mustJSON(t, map[string]string{
		"sessionId": sessionID,
	})})
	require.Nil(t, ctxResp.Error)
	ctxResult := ctxResp.Result.(map[string]any)
	assert.Contains(t, ctxResult["cacheSkippable"], "main.go")

	statsResp := a.Dispatch(context.Background(), Request{Method: "get_cache_stats"})
	require.Nil(t, statsResp.Error)
	stats := statsResp.Result.(map[string]any)
	assert.Equal(t, 1, stats["entries"])
}

func TestDispatch_DiffSummarySamplesSkippedFiles(t *testing.T) {
	a := newTestApp(t)

	target := t.TempDir()
	for _, name := range []string{"a.go", "b.go", "c.go"} {
		require.NoError(t, os.WriteFile(filepath.Join(target, name), []byte("package main\n"), 0o644))
	}

	startResp := a.Dispatch(context.Background(), Request{Method: "start_session", Params: mustJSON(t, startSessionParams{
		Target: target, Requirements: "review", MaxRounds: 5,
		Mode: model.ModeConfig{Mode: model.ModeStandard},
	})})
	require.Nil(t, startResp.Error)
	sessionID := startResp.Result.(startSessionResult).Session.ID

	saveResp := a.Dispatch(context.Background(), Request{Method: "save_baseline", Params: mustJSON(t, map[string]string{
		"sessionId": sessionID,
	})})
	require.Nil(t, saveResp.Error)

	diffResp := a.Dispatch(context.Background(), Request{Method: "get_diff_summary", Params: mustJSON(t, map[string]string{
		"sessionId": sessionID, "baseRef": "last-verified",
	})})
	require.Nil(t, diffResp.Error)
	diffResult := diffResp.Result.(map[string]any)

	plan, ok := diffResult["sampling"].(sampling.Result)
	require.True(t, ok)
	// Nothing changed since the baseline, so every file was skipped and
	// the default min-samples floor draws a spot-check from them.
	assert.GreaterOrEqual(t, len(plan.Sampled), 2)

	// Same seed, same pool: the draw must be reproducible.
	diffResp2 := a.Dispatch(context.Background(), Request{Method: "get_diff_summary", Params: mustJSON(t, map[string]string{
		"sessionId": sessionID, "baseRef": "last-verified",
	})})
	require.Nil(t, diffResp2.Error)
	plan2 := diffResp2.Result.(map[string]any)["sampling"].(sampling.Result)
	assert.Equal(t, plan.Sampled, plan2.Sampled)
}

func TestDispatch_SubmitRoundMissingSessionIsValidationError(t *testing.T) {
	a := newTestApp(t)
	resp := a.Dispatch(context.Background(), Request{Method: "submit_round", Params: mustJSON(t, submitRoundParams{
		Role: model.RoleVerifier, Output: "x",
	})})
	require.NotNil(t, resp.Error)
}

func TestDispatch_GetIssuesUnknownSessionIsNotFound(t *testing.T) {
	a := newTestApp(t)
	resp := a.Dispatch(context.Background(), Request{Method: "get_issues", Params: mustJSON(t, issueFilter{SessionID: "nonexistent"})})
	require.NotNil(t, resp.Error)
}
