package omq

import (
	"context"

	"github.com/overlaymesh/omq/internal/peer"
)

// Outcome is what a completion callback reports back to the OMQ: either
// delivered, or failed with the transport-specific error.
type Outcome struct {
	Delivered bool
	Err       error
}

// Delivered is the Outcome for a successful send.
func Delivered() Outcome { return Outcome{Delivered: true} }

// Failed is the Outcome for a send the transport could not complete.
func Failed(err error) Outcome { return Outcome{Delivered: false, Err: err} }

// Handle is an opaque reference to one in-flight submission. The OMQ
// never inspects it; transports may use it internally for cancellation
// or bookkeeping.
type Handle interface{}

// Transport is the non-blocking submission primitive the OMQ dispatches
// onto. Submit must return quickly: it hands the payload to the
// network layer and returns, reporting completion or failure later by
// calling complete exactly once. If Submit itself returns a non-nil
// error, the OMQ treats the send as immediately failed and complete is
// not called.
//
// Concrete adapters (HTTP, gRPC) live in internal/transport.
type Transport interface {
	Submit(ctx context.Context, p peer.ID, payload []byte, complete func(Outcome)) (Handle, error)
}
