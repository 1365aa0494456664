package api

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/solatis/propfilter/internal/ast"
	"github.com/solatis/propfilter/internal/types"
)

// ErrMalformedRequest indicates a payload that does not decode as a compile request.
var ErrMalformedRequest = errors.New("malformed request")

// Errors caused by the request content. They map to INVALID_ARGUMENT,
// including a reference to an action that does not exist.
var validationErrors = []error{
	ErrMalformedRequest,
	types.ErrActionNotFound,
	types.ErrUnknownPropertyType,
	types.ErrUnsupportedOperator,
	types.ErrUnsupportedElementKey,
	types.ErrInvalidCombinator,
	types.ErrInvalidEntity,
	types.ErrGroupTooDeep,
	types.ErrInvalidValue,
	types.ErrSelectorTooLong,
}

// toStatus maps errors to gRPC status codes.
// Team lookups map to NOT_FOUND.
// Context timeouts map to DEADLINE_EXCEEDED.
// Rendering failures map to INTERNAL.
// Anything else is a store failure and maps to UNAVAILABLE.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, types.ErrTeamNotFound):
		return status.Error(codes.NotFound, err.Error())
	case IsValidationError(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ast.ErrUnprintable):
		return status.Error(codes.Internal, err.Error())
	default:
		return status.Error(codes.Unavailable, err.Error())
	}
}

// IsValidationError reports whether err was caused by the request content.
func IsValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
