package middleware

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// requestKeys are the request fields that identify what a ledger call is about.
var requestKeys = []string{"group_id", "user_id", "tx_ref"}

// LoggingInterceptor logs one line per ledger RPC with the caller, the entity
// the request addresses and, for the enqueue calls, the job that was queued.
// Rejected requests log at warn; internal failures at error.
// Install it after RequireAuth so the caller is known.
func LoggingInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			attrs := []any{
				"rpc", rpcName(req.Spec().Procedure),
				"subject", GetSubject(ctx),
			}
			attrs = append(attrs, requestAttrs(req.Any())...)

			resp, err := next(ctx, req)
			attrs = append(attrs, "duration", time.Since(start))

			if err != nil {
				code := connect.CodeOf(err)
				attrs = append(attrs, "code", code.String(), "error", err)
				if code == connect.CodeInternal || code == connect.CodeUnknown {
					slog.Error("Ledger RPC failed", attrs...)
				} else {
					slog.Warn("Ledger RPC rejected", attrs...)
				}
				return resp, err
			}

			if resp != nil {
				attrs = append(attrs, jobAttrs(resp.Any())...)
			}
			slog.Info("Ledger RPC served", attrs...)
			return resp, nil
		}
	}
}

// rpcName strips the service prefix from a procedure path.
func rpcName(procedure string) string {
	if i := strings.LastIndexByte(procedure, '/'); i >= 0 {
		return procedure[i+1:]
	}
	return procedure
}

func requestAttrs(msg any) []any {
	switch m := msg.(type) {
	case *wrapperspb.StringValue:
		return []any{"id", m.GetValue()}
	case *structpb.Struct:
		var attrs []any
		for _, key := range requestKeys {
			if v, ok := m.GetFields()[key]; ok {
				attrs = append(attrs, key, v.GetStringValue())
			}
		}
		return attrs
	}
	return nil
}

// jobAttrs returns the kind and ID of a queued job response, or nothing.
func jobAttrs(msg any) []any {
	s, ok := msg.(*structpb.Struct)
	if !ok {
		return nil
	}
	fields := s.GetFields()
	kind := fields["kind"].GetStringValue()
	if kind == "" {
		return nil
	}
	return []any{"job_kind", kind, "job_id", fields["id"].GetStringValue(), "not_before", fields["not_before"].GetStringValue()}
}
