package notify

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	domain "github.com/donaldgifford/price-watch/pkg/types"
)

func TestNoOpNotifier(t *testing.T) {
	t.Parallel()

	n := NewNoOpNotifier(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	alert := testAlert(domain.ChangePriceDrop)
	require.NoError(t, n.SendAlert(ctx, &alert))
	require.NoError(t, n.SendBatchAlert(ctx, []AlertPayload{alert, alert}, "grinder"))
	require.NoError(t, n.SendBatchAlert(ctx, nil, "empty"))
	require.NoError(t, n.SendTest(ctx))
}

// compile-time interface checks.
var (
	_ Notifier = (*NoOpNotifier)(nil)
	_ Notifier = (*DiscordNotifier)(nil)
	_ Notifier = (*EmailNotifier)(nil)
	_ Notifier = Multi(nil)
)
