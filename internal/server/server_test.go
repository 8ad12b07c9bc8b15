package server_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"PLPLedger/internal/core"
	"PLPLedger/internal/errs"
	"PLPLedger/internal/fees"
	"PLPLedger/internal/query"
	"PLPLedger/internal/server"
	"PLPLedger/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

var knownMarket = uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")

type fakeQ struct{}

func (fakeQ) GetMarket(_ context.Context, id uuid.UUID) (*query.MarketResponse, error) {
	if id != knownMarket {
		return nil, errs.NotFound("market", id.String())
	}
	return &query.MarketResponse{MarketID: id, Name: "Test", YesPrice: "0.500000000", AsOfSequence: 7}, nil
}

func (fakeQ) ListMarkets(_ context.Context, resolution string, _ int, _ *uuid.UUID) ([]query.MarketResponse, error) {
	if resolution == "Maybe" {
		return nil, errs.InvalidArgument("resolution", "unknown")
	}
	return []query.MarketResponse{{MarketID: knownMarket}}, nil
}

func (fakeQ) GetQuote(_ context.Context, id uuid.UUID) (*query.QuoteResponse, error) {
	return &query.QuoteResponse{MarketID: id, Source: "cache"}, nil
}

func (fakeQ) GetBalance(_ context.Context, id uuid.UUID) (*query.BalanceResponse, error) {
	return &query.BalanceResponse{UserID: id, Wallet: -1}, nil
}

func (fakeQ) GetPositions(context.Context, uuid.UUID) ([]query.PositionResponse, error) {
	return []query.PositionResponse{}, nil
}

func (fakeQ) GetPosition(_ context.Context, m, u uuid.UUID) (*query.PositionResponse, error) {
	return &query.PositionResponse{MarketID: m, Owner: u}, nil
}

func (fakeQ) GetVestingSchedules(context.Context, uuid.UUID) ([]query.VestingResponse, error) {
	return nil, nil
}

func (fakeQ) GetPayoutHistory(context.Context, uuid.UUID, int) ([]query.PayoutResponse, error) {
	return nil, nil
}

func (fakeQ) GetJournalHistory(_ context.Context, _ uuid.UUID, limit int, after *int64) ([]query.JournalHistoryEntry, error) {
	var seq int64
	if after != nil {
		seq = *after
	}
	return []query.JournalHistoryEntry{{Sequence: seq, Amount: int64(limit)}}, nil
}

func (fakeQ) GetTreasury(context.Context) (*query.TreasuryResponse, error) {
	return &query.TreasuryResponse{TotalFees: 42}, nil
}

func (fakeQ) VerifyIntegrity(context.Context) (*query.IntegrityReport, error) {
	return &query.IntegrityReport{IsHealthy: true}, nil
}

type fakeCommander struct {
	gotType string
	gotBody string
}

func (f *fakeCommander) Execute(_ context.Context, eventType string, data []byte) (*core.Result, error) {
	f.gotType, f.gotBody = eventType, string(data)
	switch eventType {
	case "Buy":
		return &core.Result{
			Sequence: 9,
			Market:   &state.Market{ID: knownMarket},
			Charge:   fees.Charge{Gross: 100, Fee: 1, Net: 99},
			Shares:   50,
		}, nil
	case "Claim":
		return nil, errs.New(errs.KindAlreadyClaimed, "position", "already claimed")
	default:
		return nil, errs.InvalidArgument("event_type", "unknown event type")
	}
}

type fakeAdmin struct{ rebuilt bool }

func (a *fakeAdmin) LatestSequence(context.Context) (int64, error) { return 12, nil }
func (a *fakeAdmin) TakeSnapshot(context.Context) (int64, error)   { return 11, nil }
func (a *fakeAdmin) RebuildProjections(context.Context) error {
	a.rebuilt = true
	return nil
}

func newServer(t *testing.T) (*server.GRPCServer, *fakeCommander, *fakeAdmin) {
	t.Helper()
	cmd, admin := &fakeCommander{}, &fakeAdmin{}
	srv := server.NewGRPCServer("", "", &server.ServerDeps{
		Query:    fakeQ{},
		Commands: cmd,
		Admin:    admin,
		Logger:   zerolog.Nop(),
	})
	return srv, cmd, admin
}

func dial(t *testing.T, srv *server.GRPCServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.ServeGRPC(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(server.CodecName)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestGRPC_GetMarket(t *testing.T) {
	srv, _, _ := newServer(t)
	conn := dial(t, srv)
	ctx := context.Background()

	var resp query.MarketResponse
	err := conn.Invoke(ctx, "/"+server.QueryServiceName+"/GetMarket",
		&server.MarketRequest{MarketID: knownMarket.String()}, &resp)
	require.NoError(t, err)
	assert.Equal(t, knownMarket, resp.MarketID)
	assert.Equal(t, int64(7), resp.AsOfSequence)

	err = conn.Invoke(ctx, "/"+server.QueryServiceName+"/GetMarket",
		&server.MarketRequest{MarketID: uuid.NewString()}, &resp)
	assert.Equal(t, codes.NotFound, status.Code(err))

	err = conn.Invoke(ctx, "/"+server.QueryServiceName+"/GetMarket",
		&server.MarketRequest{MarketID: "not-a-uuid"}, &resp)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPC_SubmitMapsRejections(t *testing.T) {
	srv, cmd, _ := newServer(t)
	conn := dial(t, srv)
	ctx := context.Background()

	var resp server.CommandResponse
	err := conn.Invoke(ctx, "/"+server.CommandServiceName+"/Submit",
		&server.CommandRequest{EventType: "Buy", Payload: json.RawMessage(`{"amount":100}`)}, &resp)
	require.NoError(t, err)
	assert.Equal(t, int64(9), resp.Sequence)
	assert.Equal(t, int64(99), resp.Net)
	assert.Equal(t, knownMarket.String(), resp.MarketID)
	assert.Equal(t, `{"amount":100}`, cmd.gotBody)

	err = conn.Invoke(ctx, "/"+server.CommandServiceName+"/Submit",
		&server.CommandRequest{EventType: "Claim", Payload: json.RawMessage(`{}`)}, &resp)
	assert.Equal(t, codes.AlreadyExists, status.Code(err))

	err = conn.Invoke(ctx, "/"+server.CommandServiceName+"/Submit",
		&server.CommandRequest{EventType: "Buy"}, &resp)
	assert.Equal(t, codes.InvalidArgument, status.Code(err), "missing payload")
}

func TestGRPC_Health(t *testing.T) {
	srv, _, _ := newServer(t)
	conn := dial(t, srv)
	client := healthpb.NewHealthClient(conn)
	ctx := context.Background()

	// The health service speaks protobuf, not JSON
	proto := grpc.CallContentSubtype("proto")
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{}, proto)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)

	srv.SetServing(true)
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: server.QueryServiceName}, proto)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestCodeForKind(t *testing.T) {
	tests := []struct {
		kind errs.Kind
		want codes.Code
	}{
		{errs.KindUnauthorized, codes.PermissionDenied},
		{errs.KindInvalidState, codes.FailedPrecondition},
		{errs.KindBelowMinimum, codes.InvalidArgument},
		{errs.KindCapacityExceeded, codes.ResourceExhausted},
		{errs.KindConflictingPosition, codes.FailedPrecondition},
		{errs.KindArithmeticOverflow, codes.OutOfRange},
		{errs.KindAlreadyClaimed, codes.AlreadyExists},
		{errs.KindNothingToClaim, codes.FailedPrecondition},
		{errs.KindExternalServiceFailure, codes.Unavailable},
		{errs.KindNotFound, codes.NotFound},
		{errs.KindUnknown, codes.Internal},
	}
	for _, tt := range tests {
		if got := server.CodeForKind(tt.kind); got != tt.want {
			t.Errorf("CodeForKind(%s) = %s, want %s", tt.kind, got, tt.want)
		}
	}
}

func newHTTP(t *testing.T) (*httptest.Server, *fakeCommander, *fakeAdmin) {
	t.Helper()
	srv, cmd, admin := newServer(t)
	h, err := srv.Handler()
	require.NoError(t, err)
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts, cmd, admin
}

func TestHTTP_Routes(t *testing.T) {
	ts, _, _ := newHTTP(t)

	res, err := http.Get(ts.URL + "/v1/markets/" + knownMarket.String())
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	var m query.MarketResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&m))
	assert.Equal(t, "Test", m.Name)

	res2, err := http.Get(ts.URL + "/v1/markets/" + uuid.NewString())
	require.NoError(t, err)
	defer res2.Body.Close()
	assert.Equal(t, http.StatusNotFound, res2.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(res2.Body).Decode(&body))
	assert.Equal(t, "NotFound", body["kind"])

	res3, err := http.Get(ts.URL + "/v1/markets?resolution=Maybe")
	require.NoError(t, err)
	defer res3.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res3.StatusCode)

	res4, err := http.Get(ts.URL + "/v1/users/" + uuid.NewString() + "/journals?limit=3&after_sequence=10")
	require.NoError(t, err)
	defer res4.Body.Close()
	var journals server.ListJournalsResponse
	require.NoError(t, json.NewDecoder(res4.Body).Decode(&journals))
	require.Len(t, journals.Journals, 1)
	assert.Equal(t, int64(10), journals.Journals[0].Sequence)
	assert.Equal(t, int64(3), journals.Journals[0].Amount)

	res5, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer res5.Body.Close()
	assert.Equal(t, http.StatusOK, res5.StatusCode)
}

func TestHTTP_Commands(t *testing.T) {
	ts, cmd, admin := newHTTP(t)

	res, err := http.Post(ts.URL+"/v1/commands/Buy", "application/json", strings.NewReader(`{"side":"YES"}`))
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "Buy", cmd.gotType)
	assert.Equal(t, `{"side":"YES"}`, cmd.gotBody)

	res2, err := http.Post(ts.URL+"/v1/commands/Claim", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer res2.Body.Close()
	assert.Equal(t, http.StatusConflict, res2.StatusCode)

	res3, err := http.Post(ts.URL+"/v1/admin/rebuild-projections", "application/json", nil)
	require.NoError(t, err)
	defer res3.Body.Close()
	assert.Equal(t, http.StatusOK, res3.StatusCode)
	assert.True(t, admin.rebuilt)
}
