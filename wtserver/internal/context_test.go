// SPDX-License-Identifier: ice License 1.0

package internal

import (
	"context"
	"testing"
	stdlibtime "time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomCancelContext(t *testing.T) {
	t.Parallel()
	type ctxValueKey struct{}
	parent := context.WithValue(context.Background(), ctxValueKey{}, "value")
	ch := make(chan struct{})
	ctx := NewCustomCancelContext(parent, ch)

	require.NoError(t, ctx.Err())
	assert.Equal(t, "value", ctx.Value(ctxValueKey{}))
	deadline, ok := ctx.Deadline()
	assert.False(t, ok)
	assert.Zero(t, deadline)
	select {
	case <-ctx.Done():
		t.Fatal("context done before the channel closed")
	default:
	}

	close(ch)
	select {
	case <-ctx.Done():
	case <-stdlibtime.After(stdlibtime.Second):
		t.Fatal("context not done after the channel closed")
	}
	require.ErrorIs(t, ctx.Err(), context.Canceled)
}
