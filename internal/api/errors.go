package api

import (
	"context"
	"errors"

	"github.com/matheus3301/bolechat/internal/backend"
	"github.com/matheus3301/bolechat/internal/chat"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toStatus maps domain errors onto gRPC codes.
func toStatus(op string, err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, chat.ErrEmptyContent):
		code = codes.InvalidArgument
	case errors.Is(err, chat.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, chat.ErrNotFailed):
		code = codes.FailedPrecondition
	case errors.Is(err, backend.ErrUnauthorized):
		code = codes.Unauthenticated
	case errors.Is(err, backend.ErrTransport):
		code = codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	}
	var se *backend.StatusError
	if errors.As(err, &se) && code == codes.Internal {
		switch {
		case se.Code == 404:
			code = codes.NotFound
		case se.Code == 403:
			code = codes.PermissionDenied
		case se.Code >= 400 && se.Code < 500:
			code = codes.InvalidArgument
		}
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}
