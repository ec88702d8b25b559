// Package transport implements concrete adapters for the omq.Transport
// interface the Outbound Queue dispatches onto.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/overlaymesh/omq/internal/logging"
	"github.com/overlaymesh/omq/internal/omq"
	"github.com/overlaymesh/omq/internal/peer"
	"github.com/overlaymesh/omq/internal/security"
)

// wireEnvelope is the HTTP wire format a receiving node decodes. The
// OMQ's payload is carried opaque; the envelope only adds the signature
// field the transport itself needs.
type wireEnvelope struct {
	Payload   []byte `json:"payload"`
	Signature string `json:"signature,omitempty"`
}

// HTTP is an omq.Transport that POSTs each payload to a peer's inbound
// endpoint. Submit returns as soon as the request goroutine is
// launched; completion is reported asynchronously by calling complete
// once the round trip (or its timeout) resolves.
type HTTP struct {
	client    *http.Client
	secret    []byte // nil disables signing
	resolve   func(peer.ID) string
	path      string
}

// NewHTTP builds an HTTP transport. resolve maps a peer.ID (typically
// already "host:port") to the "host:port" to POST to over plain http;
// secret, if non-nil,
// HMAC-signs every outgoing payload the way the gossip layer signed
// inter-node messages.
func NewHTTP(resolve func(peer.ID) string, secret []byte) *HTTP {
	return &HTTP{
		client:  &http.Client{Timeout: 5 * time.Second},
		secret:  secret,
		resolve: resolve,
		path:    "/omq/v1/deliver",
	}
}

// Submit implements omq.Transport.
func (t *HTTP) Submit(ctx context.Context, p peer.ID, payload []byte, complete func(omq.Outcome)) (omq.Handle, error) {
	envelope := wireEnvelope{Payload: payload}
	if t.secret != nil {
		envelope.Signature = security.Sign(t.secret, payload)
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal envelope: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", t.resolve(p), t.path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	go func() {
		resp, err := t.client.Do(req)
		if err != nil {
			logging.Debug("[transport] send to %s failed: %v", p, err)
			complete(omq.Failed(err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			complete(omq.Failed(fmt.Errorf("peer %s rejected delivery with status %d", p, resp.StatusCode)))
			return
		}
		complete(omq.Delivered())
	}()

	return nil, nil
}
