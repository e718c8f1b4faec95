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

package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	elenchuserrors "github.com/kraklabs/elenchus/internal/errors"
	"github.com/kraklabs/elenchus/pkg/config"
	"github.com/kraklabs/elenchus/pkg/protocol"
)

// shutdownGrace is how long the server waits for in-flight persistence to
// finish after a termination signal before exiting.
const shutdownGrace = 100 * time.Millisecond

// runServe starts the stdio request-protocol loop: length-delimited JSON
// requests read from stdin, dispatched one at a time on a single logical
// task, with responses and debounced resource-change notifications
// written back to stdout.
func runServe(args []string, g GlobalFlags) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	dataDir := fs.String("data-dir", "", "override the configured session storage directory")
	metricsAddr := fs.String("metrics-addr", "", "optional host:port to expose Prometheus metrics on (off by default)")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return elenchuserrors.NewValidationError("invalid serve flags", err.Error(), "")
	}

	cfg, err := config.Load(resolvedConfigPath(g.ConfigPath))
	if err != nil {
		cfg = config.DefaultConfig(*dataDir)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: levelFor(g),
	}))

	app := protocol.NewApp(cfg, cfg.DataDir, logger)
	defer func() { _ = app.Close() }()

	frameOut := protocol.NewFrameWriter(os.Stdout)
	frameIn := protocol.NewFrameReader(os.Stdin)

	app.SetNotifier(func(n protocol.Notification) {
		payload, merr := json.Marshal(n)
		if merr != nil {
			logger.Error("serve.notify.marshal_failed", "error", merr)
			return
		}
		writeFrame(frameOut, payload, logger)
	})

	if *metricsAddr != "" {
		srv := startMetricsServer(*metricsAddr, app, logger)
		defer srv.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logInfo(g, "elenchus serve listening on stdio (data dir: %s)", cfg.DataDir)

	for {
		select {
		case <-ctx.Done():
			return shutdown(logger)
		default:
		}

		frame, rerr := frameIn.ReadFrame()
		if rerr != nil {
			if rerr == io.EOF {
				return shutdown(logger)
			}
			logger.Error("serve.read_frame_failed", "error", rerr)
			return shutdown(logger)
		}

		resp := dispatchFrame(ctx, app, frame)

		respBytes, merr := json.Marshal(resp)
		if merr != nil {
			logger.Error("serve.marshal_response_failed", "error", merr)
			continue
		}
		writeFrame(frameOut, respBytes, logger)
	}
}

func levelFor(g GlobalFlags) slog.Level {
	if g.Verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// writeFrame writes one frame to w, logging rather than propagating a
// failure: FrameWriter's internal mutex is what keeps the main
// request/response loop and the asynchronous notification goroutine from
// interleaving their writes.
func writeFrame(w *protocol.FrameWriter, payload []byte, logger *slog.Logger) {
	if err := w.WriteFrame(payload); err != nil {
		logger.Error("serve.write_frame_failed", "error", err)
	}
}

// dispatchFrame decodes one request frame and routes it either to the
// resource-URI surface (methods prefixed "resources/") or to the named
// method dispatch table, translating any transport-level decode failure
// into the {errorType, message, isError} payload clients expect.
func dispatchFrame(ctx context.Context, app *protocol.App, frame []byte) protocol.Response {
	var req protocol.Request
	if err := json.Unmarshal(frame, &req); err != nil {
		return app.NewErrorResponse(nil, elenchuserrors.NewValidationError("malformed request frame", err.Error(), ""))
	}

	switch req.Method {
	case "resources/read":
		return handleResourceRead(app, req)
	case "resources/subscribe":
		return handleResourceSubscribe(app, req)
	case "resources/unsubscribe":
		return handleResourceUnsubscribe(app, req)
	default:
		return app.Dispatch(ctx, req)
	}
}

func handleResourceRead(app *protocol.App, req protocol.Request) protocol.Response {
	var p struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return app.NewErrorResponse(req.ID, elenchuserrors.NewValidationError("invalid resources/read parameters", err.Error(), ""))
	}
	result, err := app.ReadResource(p.URI)
	if err != nil {
		return app.NewErrorResponse(req.ID, err)
	}
	return protocol.Response{ID: req.ID, Result: result}
}

func handleResourceSubscribe(app *protocol.App, req protocol.Request) protocol.Response {
	var p struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return app.NewErrorResponse(req.ID, elenchuserrors.NewValidationError("invalid resources/subscribe parameters", err.Error(), ""))
	}
	id, err := app.Subscribe(p.URI)
	if err != nil {
		return app.NewErrorResponse(req.ID, err)
	}
	return protocol.Response{ID: req.ID, Result: map[string]string{"subscriptionId": id}}
}

func handleResourceUnsubscribe(app *protocol.App, req protocol.Request) protocol.Response {
	var p struct {
		SubscriptionID string `json:"subscriptionId"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return app.NewErrorResponse(req.ID, elenchuserrors.NewValidationError("invalid resources/unsubscribe parameters", err.Error(), ""))
	}
	if err := app.Unsubscribe(p.SubscriptionID); err != nil {
		return app.NewErrorResponse(req.ID, err)
	}
	return protocol.Response{ID: req.ID, Result: map[string]bool{"unsubscribed": true}}
}

// startMetricsServer exposes the process-wide Prometheus registry on addr
// when --metrics-addr is given; it serves only /metrics.
func startMetricsServer(addr string, app *protocol.App, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(app.Metrics().Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("serve.metrics_server_failed", "error", err)
		}
	}()
	return srv
}

// shutdown logs the shutdown and sleeps for shutdownGrace, giving in-flight
// persistence time to finish before the process exits. It does not touch
// resource subscriptions.
func shutdown(logger *slog.Logger) error {
	logger.Info("serve.shutdown", "grace", shutdownGrace)
	time.Sleep(shutdownGrace)
	return nil
}
