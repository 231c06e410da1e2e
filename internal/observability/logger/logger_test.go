package logger

import (
	"context"
	"testing"

	obscontext "github.com/smallbiznis/dashvault/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDescribeSQL(t *testing.T) {
	cases := []struct {
		sql   string
		op    string
		table string
	}{
		{`SELECT * FROM "submissions" WHERE id = $1`, "SELECT", "submissions"},
		{"INSERT INTO `webhook_logs` (id) VALUES (?)", "INSERT", "webhook_logs"},
		{`UPDATE "submissions" SET "status"=$1 WHERE id = $2 AND status IN ($3)`, "UPDATE", "submissions"},
		{`WITH x AS (SELECT 1) DELETE FROM earnings`, "SELECT", "earnings"},
		{``, "UNKNOWN", ""},
	}
	for _, tc := range cases {
		op, table := describeSQL(tc.sql)
		assert.Equal(t, tc.op, op, tc.sql)
		assert.Equal(t, tc.table, table, tc.sql)
	}
}

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithActor(ctx, "operator_key", "42")
	ctx = obscontext.WithSubmissionID(ctx, "sub-9")

	WithContext(ctx, base).Info("hello")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "req-1", fields["request_id"])
		assert.Equal(t, "operator_key", fields["actor_type"])
		assert.Equal(t, "42", fields["actor_id"])
		assert.Equal(t, "sub-9", fields["submission_id"])
		assert.Equal(t, "", fields["trace_id"])
	}
}
