package transport

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/overlaymesh/omq/internal/security"
)

// InboundHandler returns an http.HandlerFunc that decodes a
// wireEnvelope, verifies its signature when secret is non-nil, and
// passes the payload to onDeliver. Wire this at the HTTP transport's
// path on the node's admin/inbound router.
func InboundHandler(secret []byte, onDeliver func(payload []byte)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}

		var envelope wireEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			http.Error(w, "invalid envelope", http.StatusBadRequest)
			return
		}

		if secret != nil && !security.Verify(secret, envelope.Payload, envelope.Signature) {
			http.Error(w, "signature verification failed", http.StatusUnauthorized)
			return
		}

		onDeliver(envelope.Payload)
		w.WriteHeader(http.StatusOK)
	}
}
