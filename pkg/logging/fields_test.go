package logging

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErr(t *testing.T) {
	assert.Equal(t, "boom", Err(errors.New("boom")).Value.String())
	assert.Equal(t, "", Err(nil).Value.String())
}

func TestDomainAttrs(t *testing.T) {
	assert.Equal(t, "conv_id", Conversation("c1").Key)
	assert.Equal(t, "member_id", Member("m1").Key)
	assert.Equal(t, "owner_id", Owner("o1").Key)
}

func TestContextCarriesLogger(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := WithContext(context.Background(), log)
	assert.Same(t, log, FromContext(ctx))
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestWithAddsAttrs(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := With(WithContext(context.Background(), base), TraceID("abc"), RequestID("r1"))

	FromContext(ctx).Info("ops - request - done")
	assert.Contains(t, buf.String(), `"trace_id":"abc"`)
	assert.Contains(t, buf.String(), `"request_id":"r1"`)

	plain := context.Background()
	assert.Equal(t, plain, With(plain))
}
