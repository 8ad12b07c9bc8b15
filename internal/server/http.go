package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"PLPLedger/internal/errs"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

const maxCommandBody = 64 << 10

type route struct {
	method  string
	pattern string
	handle  runtime.HandlerFunc
}

func (s *GRPCServer) registerRoutes(mux *runtime.ServeMux) error {
	h := s.handlers
	routes := []route{
		{"GET", "/v1/markets", s.serve("ListMarkets", func(ctx context.Context, r *http.Request, _ map[string]string) (any, error) {
			q := r.URL.Query()
			limit, err := intParam(q.Get("limit"))
			if err != nil {
				return nil, err
			}
			return h.listMarkets(ctx, &ListMarketsRequest{Resolution: q.Get("resolution"), Limit: limit, After: q.Get("after")})
		})},
		{"GET", "/v1/markets/{market_id}", s.serve("GetMarket", func(ctx context.Context, _ *http.Request, p map[string]string) (any, error) {
			return h.getMarket(ctx, &MarketRequest{MarketID: p["market_id"]})
		})},
		{"GET", "/v1/markets/{market_id}/quote", s.serve("GetQuote", func(ctx context.Context, _ *http.Request, p map[string]string) (any, error) {
			return h.getQuote(ctx, &MarketRequest{MarketID: p["market_id"]})
		})},
		{"GET", "/v1/markets/{market_id}/positions/{user_id}", s.serve("GetPosition", func(ctx context.Context, _ *http.Request, p map[string]string) (any, error) {
			return h.getPosition(ctx, &PositionRequest{MarketID: p["market_id"], UserID: p["user_id"]})
		})},
		{"GET", "/v1/users/{user_id}/balance", s.serve("GetBalance", func(ctx context.Context, _ *http.Request, p map[string]string) (any, error) {
			return h.getBalance(ctx, &UserRequest{UserID: p["user_id"]})
		})},
		{"GET", "/v1/users/{user_id}/positions", s.serve("ListPositions", func(ctx context.Context, _ *http.Request, p map[string]string) (any, error) {
			return h.listPositions(ctx, &UserRequest{UserID: p["user_id"]})
		})},
		{"GET", "/v1/users/{user_id}/vesting", s.serve("ListVestingSchedules", func(ctx context.Context, _ *http.Request, p map[string]string) (any, error) {
			return h.listVesting(ctx, &UserRequest{UserID: p["user_id"]})
		})},
		{"GET", "/v1/users/{user_id}/payouts", s.serve("ListPayouts", func(ctx context.Context, r *http.Request, p map[string]string) (any, error) {
			req, err := historyRequest(r, p)
			if err != nil {
				return nil, err
			}
			return h.listPayouts(ctx, req)
		})},
		{"GET", "/v1/users/{user_id}/journals", s.serve("ListJournals", func(ctx context.Context, r *http.Request, p map[string]string) (any, error) {
			req, err := historyRequest(r, p)
			if err != nil {
				return nil, err
			}
			return h.listJournals(ctx, req)
		})},
		{"GET", "/v1/treasury", s.serve("GetTreasury", func(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
			return h.getTreasury(ctx, &Empty{})
		})},
		{"POST", "/v1/commands/{event_type}", s.serve("Submit", func(ctx context.Context, r *http.Request, p map[string]string) (any, error) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody+1))
			if err != nil {
				return nil, errs.Wrap(errs.KindInvalidArgument, "body", err)
			}
			if len(body) > maxCommandBody {
				return nil, errs.InvalidArgument("body", "request body too large")
			}
			return h.submit(ctx, &CommandRequest{EventType: p["event_type"], Payload: body})
		})},
		{"GET", "/v1/admin/integrity", s.serve("VerifyIntegrity", func(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
			return h.verifyIntegrity(ctx, &Empty{})
		})},
		{"GET", "/v1/admin/event-log", s.serve("GetEventLogInfo", func(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
			return h.eventLogInfo(ctx, &Empty{})
		})},
		{"POST", "/v1/admin/snapshot", s.serve("TakeSnapshot", func(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
			return h.takeSnapshot(ctx, &Empty{})
		})},
		{"POST", "/v1/admin/rebuild-projections", s.serve("RebuildProjections", func(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
			return h.rebuildProjections(ctx, &Empty{})
		})},
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.handle); err != nil {
			return err
		}
	}
	return nil
}

type httpCall func(ctx context.Context, r *http.Request, params map[string]string) (any, error)

// serve adapts a handler to the gateway mux with the same metrics as gRPC.
func (s *GRPCServer) serve(name string, call httpCall) runtime.HandlerFunc {
	endpoint := "http:" + name
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		resp, err := call(r.Context(), r, params)
		s.record(endpoint, start, err)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func historyRequest(r *http.Request, params map[string]string) (*HistoryRequest, error) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		return nil, err
	}
	req := &HistoryRequest{UserID: params["user_id"], Limit: limit}
	if after := q.Get("after_sequence"); after != "" {
		seq, err := strconv.ParseInt(after, 10, 64)
		if err != nil {
			return nil, errs.Wrap(errs.KindInvalidArgument, "after_sequence", err)
		}
		req.AfterSequence = &seq
	}
	return req, nil
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errs.Wrap(errs.KindInvalidArgument, "limit", err)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
