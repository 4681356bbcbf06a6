package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	domain "github.com/donaldgifford/price-watch/pkg/types"
)

// StreamPath is the route of the change event stream.
const StreamPath = "/api/v1/events/stream"

// EventSource broadcasts new change events.
type EventSource interface {
	Subscribe(buffer int) (<-chan domain.ChangeEvent, func())
}

// StreamHandler pushes change events to clients over server-sent events.
type StreamHandler struct {
	source EventSource
	buffer int
}

// NewStreamHandler creates a StreamHandler.
func NewStreamHandler(src EventSource) *StreamHandler {
	return &StreamHandler{source: src, buffer: 64}
}

// StreamInput optionally restricts the stream to one product.
type StreamInput struct {
	ProductID string `query:"product_id" doc:"Only stream events for this product"`
}

// Stream sends each new change event as a "change" message until the
// client disconnects or the feed closes.
func (h *StreamHandler) Stream(ctx context.Context, input *StreamInput, send sse.Sender) {
	events, cancel := h.source.Subscribe(h.buffer)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if input.ProductID != "" && ev.ProductID != input.ProductID {
				continue
			}
			if err := send.Data(ev); err != nil {
				return
			}
		}
	}
}

// RegisterStreamRoutes registers the event stream with the Huma API.
func RegisterStreamRoutes(api huma.API, h *StreamHandler) {
	sse.Register(api, huma.Operation{
		OperationID: "stream-events",
		Method:      http.MethodGet,
		Path:        StreamPath,
		Summary:     "Stream change events",
		Description: "Server-sent event stream of change events as they are detected.",
		Tags:        []string{"events"},
	}, map[string]any{
		"change": domain.ChangeEvent{},
	}, h.Stream)
}
