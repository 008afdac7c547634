package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/oi_overlay/internal/controller"
	"github.com/dgnsrekt/oi_overlay/internal/scheduler"
)

type stateOutput struct {
	Body scheduler.State
}

func registerOverlayHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-state", Method: http.MethodGet, Path: "/api/v1/state", Summary: "Get overlay render state", Tags: []string{"Overlay"}},
		func(ctx context.Context, input *struct{}) (*stateOutput, error) {
			st, err := svc.State(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &stateOutput{Body: st}, nil
		})

	type windowOutput struct {
		Body controller.WindowView
	}
	huma.Register(api, huma.Operation{OperationID: "get-window", Method: http.MethodGet, Path: "/api/v1/window", Summary: "Get the last drawn strike window with percent deltas", Tags: []string{"Overlay"}},
		func(ctx context.Context, input *struct{}) (*windowOutput, error) {
			view, err := svc.Window(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &windowOutput{Body: view}, nil
		})

	type historyOutput struct {
		Body controller.HistoryView
	}
	huma.Register(api, huma.Operation{OperationID: "get-history", Method: http.MethodGet, Path: "/api/v1/history", Summary: "List retained OI snapshots", Tags: []string{"History"}},
		func(ctx context.Context, input *struct{}) (*historyOutput, error) {
			view, err := svc.History(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &historyOutput{Body: view}, nil
		})

	type deltaOutput struct {
		Body controller.DeltaView
	}
	huma.Register(api, huma.Operation{OperationID: "get-delta", Method: http.MethodGet, Path: "/api/v1/history/delta", Summary: "Percent change of one strike metric", Tags: []string{"History"}},
		func(ctx context.Context, input *struct {
			Strike    float64 `query:"strike" required:"true" doc:"Strike price, e.g. 24000"`
			Metric    string  `query:"metric" required:"true" enum:"call_oi,put_oi,call_change,put_change"`
			WindowSec int     `query:"window_sec" doc:"Lookback in seconds; 0 uses the configured window"`
		}) (*deltaOutput, error) {
			view, err := svc.Delta(ctx, input.Strike, input.Metric, input.WindowSec)
			if err != nil {
				return nil, mapErr(err)
			}
			return &deltaOutput{Body: view}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "adjust-radius", Method: http.MethodPost, Path: "/api/v1/radius", Summary: "Adjust the strike radius", Description: "The resulting radius is clamped to 1..max.", Tags: []string{"Overlay"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Delta int `json:"delta" doc:"Radius change, e.g. 1 or -1" example:"1"`
			}
		}) (*stateOutput, error) {
			st, err := svc.AdjustRadius(ctx, input.Body.Delta)
			if err != nil {
				return nil, mapErr(err)
			}
			return &stateOutput{Body: st}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "set-centering", Method: http.MethodPost, Path: "/api/v1/centering", Summary: "Enable or disable ATM centering", Tags: []string{"Overlay"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Enabled bool `json:"enabled"`
			}
		}) (*stateOutput, error) {
			st, err := svc.SetCentering(ctx, input.Body.Enabled)
			if err != nil {
				return nil, mapErr(err)
			}
			return &stateOutput{Body: st}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "refresh", Method: http.MethodPost, Path: "/api/v1/refresh", Summary: "Await refreshed table content", Description: "Behaves like a click on the host page's refresh control.", Tags: []string{"Overlay"}},
		func(ctx context.Context, input *struct{}) (*stateOutput, error) {
			st, err := svc.Refresh(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &stateOutput{Body: st}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "close-panel", Method: http.MethodPost, Path: "/api/v1/panel/close", Summary: "Close the overlay panel", Tags: []string{"Overlay"}},
		func(ctx context.Context, input *struct{}) (*stateOutput, error) {
			st, err := svc.ClosePanel(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &stateOutput{Body: st}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "open-panel", Method: http.MethodPost, Path: "/api/v1/panel/open", Summary: "Reopen a closed overlay panel", Tags: []string{"Overlay"}},
		func(ctx context.Context, input *struct{}) (*stateOutput, error) {
			st, err := svc.OpenPanel(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &stateOutput{Body: st}, nil
		})
}
