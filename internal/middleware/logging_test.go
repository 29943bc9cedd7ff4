package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// captureLogs routes the default logger into a buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestLoggingInterceptor(t *testing.T) {
	ctx := WithSubject(context.Background(), "operator")

	t.Run("enqueue logs the queued job", func(t *testing.T) {
		buf := captureLogs(t)
		job, err := structpb.NewStruct(map[string]any{
			"id": "job-1", "kind": "execute_payout", "not_before": "2026-01-06T09:00:00Z",
		})
		require.NoError(t, err)

		handler := LoggingInterceptor()(func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			return connect.NewResponse(job), nil
		})
		_, err = handler(ctx, connect.NewRequest(wrapperspb.String("payout-1")))
		require.NoError(t, err)

		entry := lastEntry(t, buf)
		assert.Equal(t, "Ledger RPC served", entry["msg"])
		assert.Equal(t, "INFO", entry["level"])
		assert.Equal(t, "operator", entry["subject"])
		assert.Equal(t, "payout-1", entry["id"])
		assert.Equal(t, "execute_payout", entry["job_kind"])
		assert.Equal(t, "job-1", entry["job_id"])
		assert.Equal(t, "2026-01-06T09:00:00Z", entry["not_before"])
	})

	t.Run("rejected request logs the addressed group", func(t *testing.T) {
		buf := captureLogs(t)
		body, err := structpb.NewStruct(map[string]any{"group_id": "g-1", "user_id": "alice", "amount": "10"})
		require.NoError(t, err)

		handler := LoggingInterceptor()(func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			return nil, connect.NewError(connect.CodeNotFound, errors.New("group g-1: not found"))
		})
		_, err = handler(ctx, connect.NewRequest(body))
		assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

		entry := lastEntry(t, buf)
		assert.Equal(t, "Ledger RPC rejected", entry["msg"])
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "not_found", entry["code"])
		assert.Equal(t, "g-1", entry["group_id"])
		assert.Equal(t, "alice", entry["user_id"])
		assert.NotContains(t, entry, "amount")
		assert.NotContains(t, entry, "job_kind")
	})

	t.Run("internal failure logs at error", func(t *testing.T) {
		buf := captureLogs(t)
		handler := LoggingInterceptor()(func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			return nil, errors.New("disk full")
		})
		_, err := handler(ctx, connect.NewRequest(wrapperspb.String("g-2")))
		require.Error(t, err)

		entry := lastEntry(t, buf)
		assert.Equal(t, "Ledger RPC failed", entry["msg"])
		assert.Equal(t, "ERROR", entry["level"])
		assert.Equal(t, "unknown", entry["code"])
	})
}

func TestRPCName(t *testing.T) {
	assert.Equal(t, "ExecutePayout", rpcName("/chama.v1.LedgerService/ExecutePayout"))
	assert.Equal(t, "", rpcName(""))
}
