package server

import (
	"context"
	"errors"
	"net/http"

	"PLPLedger/internal/errs"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CodeForKind maps a rejection kind to the gRPC status code callers see.
func CodeForKind(k errs.Kind) codes.Code {
	switch k {
	case errs.KindUnauthorized:
		return codes.PermissionDenied
	case errs.KindInvalidState, errs.KindConflictingPosition, errs.KindNothingToClaim:
		return codes.FailedPrecondition
	case errs.KindBelowMinimum, errs.KindInvalidArgument:
		return codes.InvalidArgument
	case errs.KindCapacityExceeded:
		return codes.ResourceExhausted
	case errs.KindArithmeticOverflow:
		return codes.OutOfRange
	case errs.KindAlreadyClaimed:
		return codes.AlreadyExists
	case errs.KindExternalServiceFailure:
		return codes.Unavailable
	case errs.KindNotFound:
		return codes.NotFound
	default:
		return codes.Internal
	}
}

// toStatus converts a service error into a gRPC status error.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	var e *errs.Error
	if errors.As(err, &e) {
		return status.Error(CodeForKind(e.Kind), e.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

type errorBody struct {
	Code    string `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// writeError renders err as JSON with the HTTP status the gateway runtime
// assigns to its gRPC code.
func writeError(w http.ResponseWriter, err error) {
	st, _ := status.FromError(toStatus(err))
	body := errorBody{Code: st.Code().String(), Message: st.Message()}
	var e *errs.Error
	if errors.As(err, &e) {
		body.Kind = e.Kind.String()
	}
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), body)
}
