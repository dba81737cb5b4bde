package api

import (
	"context"
	"errors"

	"github.com/matheus3301/courier/internal/messaging"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

var kindCodes = map[messaging.Kind]codes.Code{
	messaging.KindUnauthenticated: codes.Unauthenticated,
	messaging.KindForbidden:       codes.PermissionDenied,
	messaging.KindValidation:      codes.InvalidArgument,
	messaging.KindNotFound:        codes.NotFound,
	messaging.KindUnavailable:     codes.Unavailable,
	messaging.KindConflict:        codes.AlreadyExists,
	messaging.KindInternal:        codes.Internal,
}

// toStatus converts a service error into a gRPC status error.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return grpcstatus.Error(codes.Canceled, err.Error())
	}
	code, ok := kindCodes[messaging.KindOf(err)]
	if !ok {
		code = codes.Internal
	}
	return grpcstatus.Error(code, err.Error())
}

// KindFromStatus maps a gRPC error back to a messaging kind.
func KindFromStatus(err error) messaging.Kind {
	code := grpcstatus.Code(err)
	for k, c := range kindCodes {
		if c == code {
			return k
		}
	}
	return messaging.KindInternal
}
