// Package api serves the overlay control API with Huma on chi.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/oi_overlay/internal/cdpcontrol"
	"github.com/dgnsrekt/oi_overlay/internal/controller"
	"github.com/dgnsrekt/oi_overlay/internal/scheduler"
	"github.com/dgnsrekt/oi_overlay/internal/snapshot"
)

type Service interface {
	State(ctx context.Context) (scheduler.State, error)
	Window(ctx context.Context) (controller.WindowView, error)
	History(ctx context.Context) (controller.HistoryView, error)
	Delta(ctx context.Context, strike float64, metric string, windowSec int) (controller.DeltaView, error)
	AdjustRadius(ctx context.Context, delta int) (scheduler.State, error)
	SetCentering(ctx context.Context, enabled bool) (scheduler.State, error)
	Refresh(ctx context.Context) (scheduler.State, error)
	ClosePanel(ctx context.Context) (scheduler.State, error)
	OpenPanel(ctx context.Context) (scheduler.State, error)
	TakeSnapshot(ctx context.Context, notes string) (snapshot.SnapshotMeta, error)
	ListSnapshots(ctx context.Context) ([]snapshot.SnapshotMeta, error)
	GetSnapshot(ctx context.Context, id string) (snapshot.SnapshotMeta, error)
	ReadSnapshotImage(ctx context.Context, id string) ([]byte, string, error)
	DeleteSnapshot(ctx context.Context, id string) error
}

// Extras are plain handlers mounted next to the Huma operations.
type Extras struct {
	// Metrics serves /metrics.
	Metrics http.Handler
	// Stream serves /stream.
	Stream http.Handler
}

func NewServer(svc Service, extras Extras) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("OI Overlay Control API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	if extras.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", extras.Metrics)
	}
	if extras.Stream != nil {
		router.Method(http.MethodGet, "/stream", extras.Stream)
	}

	registerOverlayHandlers(api, svc)
	registerSnapshotHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case cdpcontrol.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case cdpcontrol.CodeNotFound, cdpcontrol.CodePageNotFound:
			return huma.Error404NotFound(coded.Message)
		case cdpcontrol.CodeBusy:
			return huma.Error503ServiceUnavailable(coded.Message)
		case cdpcontrol.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case cdpcontrol.CodeCDPUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
