package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestInitTracing_NoneIsNoop(t *testing.T) {
	shutdown, err := InitTracing("vision-test", "none")
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	ctx, span := StartSpan(context.Background(), "test.span", attribute.String("k", "v"))
	assert.NotNil(t, ctx)
	EndSpan(span, errors.New("boom"))

	assert.NoError(t, shutdown(context.Background()))
}
