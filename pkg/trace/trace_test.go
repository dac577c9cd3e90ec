package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel/trace"
)

func TestBuildParseRoundTrip(t *testing.T) {
	original := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})

	parsed, err := Parse(Build(original))
	require.NoError(t, err)
	assert.True(t, parsed.IsValid())
	assert.Equal(t, original.TraceID(), parsed.TraceID())
	assert.Equal(t, original.SpanID(), parsed.SpanID())
	assert.Equal(t, original.TraceFlags(), parsed.TraceFlags())
	assert.True(t, parsed.IsRemote())
}

func TestContinueContextInvalidLeavesContextUntouched(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, ContinueContext(ctx, SpanContext{}))
}

func TestContinueContextRestoresRemoteParent(t *testing.T) {
	sc := SpanContext{
		TraceID:    [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: byte(trace.FlagsSampled),
	}
	ctx := ContinueContext(context.Background(), sc)
	restored := trace.SpanContextFromContext(ctx)
	require.True(t, restored.IsValid())
	assert.True(t, restored.IsRemote())
	assert.Equal(t, sc.TraceID, [16]byte(restored.TraceID()))
}

func TestFromContextWithoutSpan(t *testing.T) {
	sc := FromContext(context.Background())
	parsed, err := Parse(sc)
	require.NoError(t, err)
	assert.False(t, parsed.IsValid())
}
