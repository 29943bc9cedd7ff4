package api

import (
	"context"
	"errors"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/mmynk/chamaledger/internal/service"
	"github.com/mmynk/chamaledger/internal/storage"
)

var errInternal = errors.New("internal error")

// toConnectError maps engine errors to Connect codes. Unclassified errors are
// logged and hidden from the caller.
func toConnectError(err error) error {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, storage.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, storage.ErrConflict):
		return connect.NewError(connect.CodeAborted, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	}
	slog.Error("Request failed", "error", err)
	return connect.NewError(connect.CodeInternal, errInternal)
}
