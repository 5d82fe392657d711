package auditctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestActorRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)

	ctx := WithActor(context.Background(), Actor{IPAddress: "192.0.2.10"})
	actor, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "192.0.2.10", actor.IPAddress)
}

func TestAnnotate(t *testing.T) {
	require.Nil(t, Actor{IPAddress: "192.0.2.10"}.Annotate(nil, "issued_by"))

	got := Actor{Subject: "board-portal", RequestID: "req-1"}.Annotate(nil, "issued_by")
	require.Equal(t, map[string]any{"issued_by": "board-portal", "request_id": "req-1"}, got)

	existing := map[string]any{"decision": "approved"}
	got = Actor{Subject: "ignored", RequestID: "req-2"}.Annotate(existing, "")
	require.Equal(t, map[string]any{"decision": "approved", "request_id": "req-2"}, got)
}
