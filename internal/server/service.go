package server

import (
	"context"
	"encoding/json"
	"fmt"

	"PLPLedger/internal/core"
	"PLPLedger/internal/errs"
	"PLPLedger/internal/query"

	"github.com/google/uuid"
	"google.golang.org/grpc"
)

// Querier is the read side. *query.QueryService implements it.
type Querier interface {
	GetMarket(ctx context.Context, marketID uuid.UUID) (*query.MarketResponse, error)
	ListMarkets(ctx context.Context, resolution string, limit int, after *uuid.UUID) ([]query.MarketResponse, error)
	GetQuote(ctx context.Context, marketID uuid.UUID) (*query.QuoteResponse, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (*query.BalanceResponse, error)
	GetPositions(ctx context.Context, userID uuid.UUID) ([]query.PositionResponse, error)
	GetPosition(ctx context.Context, marketID, userID uuid.UUID) (*query.PositionResponse, error)
	GetVestingSchedules(ctx context.Context, beneficiary uuid.UUID) ([]query.VestingResponse, error)
	GetPayoutHistory(ctx context.Context, userID uuid.UUID, limit int) ([]query.PayoutResponse, error)
	GetJournalHistory(ctx context.Context, userID uuid.UUID, limit int, afterSequence *int64) ([]query.JournalHistoryEntry, error)
	GetTreasury(ctx context.Context) (*query.TreasuryResponse, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// Commander submits commands. *ingestion.Gateway implements it.
type Commander interface {
	Execute(ctx context.Context, eventType string, data []byte) (*core.Result, error)
}

// Admin holds operator actions.
type Admin interface {
	LatestSequence(ctx context.Context) (int64, error)
	TakeSnapshot(ctx context.Context) (int64, error)
	RebuildProjections(ctx context.Context) error
}

// --- messages ---

type MarketRequest struct {
	MarketID string `json:"market_id"`
}

type ListMarketsRequest struct {
	Resolution string `json:"resolution,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	After      string `json:"after,omitempty"`
}

type ListMarketsResponse struct {
	Markets []query.MarketResponse `json:"markets"`
}

type UserRequest struct {
	UserID string `json:"user_id"`
}

type PositionRequest struct {
	MarketID string `json:"market_id"`
	UserID   string `json:"user_id"`
}

type ListPositionsResponse struct {
	Positions []query.PositionResponse `json:"positions"`
}

type ListVestingResponse struct {
	Schedules []query.VestingResponse `json:"schedules"`
}

type HistoryRequest struct {
	UserID        string `json:"user_id"`
	Limit         int    `json:"limit,omitempty"`
	AfterSequence *int64 `json:"after_sequence,omitempty"`
}

type ListPayoutsResponse struct {
	Payouts []query.PayoutResponse `json:"payouts"`
}

type ListJournalsResponse struct {
	Journals []query.JournalHistoryEntry `json:"journals"`
}

type Empty struct{}

type CommandRequest struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// CommandResponse summarises an applied command. Fields not produced by the
// command are zero.
type CommandResponse struct {
	Sequence   int64  `json:"sequence"`
	Duplicate  bool   `json:"duplicate"`
	MarketID   string `json:"market_id,omitempty"`
	ScheduleID string `json:"schedule_id,omitempty"`
	Gross      int64  `json:"gross,omitempty"`
	Fee        int64  `json:"fee,omitempty"`
	Net        int64  `json:"net,omitempty"`
	Capped     bool   `json:"capped,omitempty"`
	Shares     int64  `json:"shares,omitempty"`
	Payout     int64  `json:"payout,omitempty"`
	Resolution string `json:"resolution,omitempty"`
}

func newCommandResponse(r *core.Result) *CommandResponse {
	resp := &CommandResponse{
		Sequence:  r.Sequence,
		Duplicate: r.Duplicate,
		Gross:     r.Charge.Gross,
		Fee:       r.Charge.Fee,
		Net:       r.Charge.Net,
		Capped:    r.Charge.Capped,
		Shares:    r.Shares,
		Payout:    r.Payout,
	}
	if r.Market != nil {
		resp.MarketID = r.Market.ID.String()
		if r.Market.Resolution.IsResolved() {
			resp.Resolution = r.Market.Resolution.String()
		}
	}
	if r.Schedule != nil {
		resp.ScheduleID = r.Schedule.ID.String()
	}
	return resp
}

type EventLogInfo struct {
	LastSequence int64 `json:"last_sequence"`
}

type SnapshotResponse struct {
	Sequence int64 `json:"sequence"`
}

type RebuildResponse struct {
	Completed bool `json:"completed"`
}

// --- handlers shared by gRPC and HTTP ---

type handlers struct {
	q     Querier
	cmd   Commander
	admin Admin
}

func parseID(field, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, errs.InvalidArgument(field, field+" is required")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, errs.Wrap(errs.KindInvalidArgument, field, err)
	}
	return id, nil
}

func (h *handlers) getMarket(ctx context.Context, req *MarketRequest) (*query.MarketResponse, error) {
	id, err := parseID("market_id", req.MarketID)
	if err != nil {
		return nil, err
	}
	return h.q.GetMarket(ctx, id)
}

func (h *handlers) listMarkets(ctx context.Context, req *ListMarketsRequest) (*ListMarketsResponse, error) {
	var after *uuid.UUID
	if req.After != "" {
		id, err := parseID("after", req.After)
		if err != nil {
			return nil, err
		}
		after = &id
	}
	markets, err := h.q.ListMarkets(ctx, req.Resolution, req.Limit, after)
	if err != nil {
		return nil, err
	}
	return &ListMarketsResponse{Markets: markets}, nil
}

func (h *handlers) getQuote(ctx context.Context, req *MarketRequest) (*query.QuoteResponse, error) {
	id, err := parseID("market_id", req.MarketID)
	if err != nil {
		return nil, err
	}
	return h.q.GetQuote(ctx, id)
}

func (h *handlers) getBalance(ctx context.Context, req *UserRequest) (*query.BalanceResponse, error) {
	id, err := parseID("user_id", req.UserID)
	if err != nil {
		return nil, err
	}
	return h.q.GetBalance(ctx, id)
}

func (h *handlers) listPositions(ctx context.Context, req *UserRequest) (*ListPositionsResponse, error) {
	id, err := parseID("user_id", req.UserID)
	if err != nil {
		return nil, err
	}
	positions, err := h.q.GetPositions(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ListPositionsResponse{Positions: positions}, nil
}

func (h *handlers) getPosition(ctx context.Context, req *PositionRequest) (*query.PositionResponse, error) {
	marketID, err := parseID("market_id", req.MarketID)
	if err != nil {
		return nil, err
	}
	userID, err := parseID("user_id", req.UserID)
	if err != nil {
		return nil, err
	}
	return h.q.GetPosition(ctx, marketID, userID)
}

func (h *handlers) listVesting(ctx context.Context, req *UserRequest) (*ListVestingResponse, error) {
	id, err := parseID("user_id", req.UserID)
	if err != nil {
		return nil, err
	}
	schedules, err := h.q.GetVestingSchedules(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ListVestingResponse{Schedules: schedules}, nil
}

func (h *handlers) listPayouts(ctx context.Context, req *HistoryRequest) (*ListPayoutsResponse, error) {
	id, err := parseID("user_id", req.UserID)
	if err != nil {
		return nil, err
	}
	payouts, err := h.q.GetPayoutHistory(ctx, id, req.Limit)
	if err != nil {
		return nil, err
	}
	return &ListPayoutsResponse{Payouts: payouts}, nil
}

func (h *handlers) listJournals(ctx context.Context, req *HistoryRequest) (*ListJournalsResponse, error) {
	id, err := parseID("user_id", req.UserID)
	if err != nil {
		return nil, err
	}
	journals, err := h.q.GetJournalHistory(ctx, id, req.Limit, req.AfterSequence)
	if err != nil {
		return nil, err
	}
	return &ListJournalsResponse{Journals: journals}, nil
}

func (h *handlers) getTreasury(ctx context.Context, _ *Empty) (*query.TreasuryResponse, error) {
	return h.q.GetTreasury(ctx)
}

func (h *handlers) submit(ctx context.Context, req *CommandRequest) (*CommandResponse, error) {
	if req.EventType == "" {
		return nil, errs.InvalidArgument("event_type", "event_type is required")
	}
	if len(req.Payload) == 0 {
		return nil, errs.InvalidArgument("payload", "payload is required")
	}
	res, err := h.cmd.Execute(ctx, req.EventType, req.Payload)
	if err != nil {
		return nil, err
	}
	return newCommandResponse(res), nil
}

func (h *handlers) verifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	return h.q.VerifyIntegrity(ctx)
}

func (h *handlers) eventLogInfo(ctx context.Context, _ *Empty) (*EventLogInfo, error) {
	seq, err := h.admin.LatestSequence(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest sequence: %w", err)
	}
	return &EventLogInfo{LastSequence: seq}, nil
}

func (h *handlers) takeSnapshot(ctx context.Context, _ *Empty) (*SnapshotResponse, error) {
	seq, err := h.admin.TakeSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return &SnapshotResponse{Sequence: seq}, nil
}

func (h *handlers) rebuildProjections(ctx context.Context, _ *Empty) (*RebuildResponse, error) {
	if err := h.admin.RebuildProjections(ctx); err != nil {
		return nil, fmt.Errorf("rebuild: %w", err)
	}
	return &RebuildResponse{Completed: true}, nil
}

// --- service descriptors ---

const (
	QueryServiceName   = "plpledger.query.v1.QueryService"
	CommandServiceName = "plpledger.command.v1.CommandService"
	AdminServiceName   = "plpledger.admin.v1.AdminService"
)

// unary builds a method descriptor whose handler decodes Req, runs the
// interceptor chain, and maps errors to gRPC statuses.
func unary[Req, Resp any](service, method string, call func(h *handlers, ctx context.Context, req *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			invoke := func(ctx context.Context, req any) (any, error) {
				resp, err := call(srv.(*handlers), ctx, req.(*Req))
				if err != nil {
					return nil, toStatus(err)
				}
				return resp, nil
			}
			if interceptor == nil {
				return invoke(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}, invoke)
		},
	}
}

var queryServiceDesc = grpc.ServiceDesc{
	ServiceName: QueryServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		unary(QueryServiceName, "GetMarket", (*handlers).getMarket),
		unary(QueryServiceName, "ListMarkets", (*handlers).listMarkets),
		unary(QueryServiceName, "GetQuote", (*handlers).getQuote),
		unary(QueryServiceName, "GetBalance", (*handlers).getBalance),
		unary(QueryServiceName, "ListPositions", (*handlers).listPositions),
		unary(QueryServiceName, "GetPosition", (*handlers).getPosition),
		unary(QueryServiceName, "ListVestingSchedules", (*handlers).listVesting),
		unary(QueryServiceName, "ListPayouts", (*handlers).listPayouts),
		unary(QueryServiceName, "ListJournals", (*handlers).listJournals),
		unary(QueryServiceName, "GetTreasury", (*handlers).getTreasury),
	},
}

var commandServiceDesc = grpc.ServiceDesc{
	ServiceName: CommandServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		unary(CommandServiceName, "Submit", (*handlers).submit),
	},
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: AdminServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		unary(AdminServiceName, "VerifyIntegrity", (*handlers).verifyIntegrity),
		unary(AdminServiceName, "GetEventLogInfo", (*handlers).eventLogInfo),
		unary(AdminServiceName, "TakeSnapshot", (*handlers).takeSnapshot),
		unary(AdminServiceName, "RebuildProjections", (*handlers).rebuildProjections),
	},
}
