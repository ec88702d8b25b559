package discovery

import (
	"context"
	"fmt"
	"testing"

	"github.com/overlaymesh/omq/internal/peer"
)

func TestDNSWorkerAddsResolvedPeers(t *testing.T) {
	pm := peer.NewModel()
	w := NewDNSWorker(pm, []string{"seed.example.com"}, 3000, peer.Edge, 2, 1)
	w.Resolve = func(ctx context.Context, domain string) ([]string, error) {
		return []string{"10.0.0.1", "10.0.0.2"}, nil
	}

	w.resolveOnce(context.Background())

	peers := pm.PeersOfClass(peer.Edge)
	if len(peers) != 2 {
		t.Fatalf("expected 2 peers from resolution, got %d: %v", len(peers), peers)
	}
}

func TestDNSWorkerDropsStalePeersOnReResolution(t *testing.T) {
	pm := peer.NewModel()
	w := NewDNSWorker(pm, []string{"seed.example.com"}, 3000, peer.Edge, 1, 1)

	calls := 0
	w.Resolve = func(ctx context.Context, domain string) ([]string, error) {
		calls++
		if calls == 1 {
			return []string{"10.0.0.1", "10.0.0.2"}, nil
		}
		return []string{"10.0.0.1"}, nil
	}

	w.resolveOnce(context.Background())
	if n := len(pm.PeersOfClass(peer.Edge)); n != 2 {
		t.Fatalf("expected 2 peers after first resolution, got %d", n)
	}

	w.resolveOnce(context.Background())
	peers := pm.PeersOfClass(peer.Edge)
	if len(peers) != 1 || peers[0].ID != "10.0.0.1:3000" {
		t.Fatalf("expected only 10.0.0.1 to survive re-resolution, got %v", peers)
	}
}

func TestDNSWorkerSkipsFailingDomainWithoutFailingOthers(t *testing.T) {
	pm := peer.NewModel()
	w := NewDNSWorker(pm, []string{"bad.example.com", "good.example.com"}, 3000, peer.Edge, 2, 0)
	w.Resolve = func(ctx context.Context, domain string) ([]string, error) {
		if domain == "bad.example.com" {
			return nil, fmt.Errorf("no such host")
		}
		return []string{"10.0.0.9"}, nil
	}

	w.resolveOnce(context.Background())
	peers := pm.PeersOfClass(peer.Edge)
	if len(peers) != 1 || peers[0].ID != "10.0.0.9:3000" {
		t.Fatalf("expected the good domain's peer despite the bad domain failing, got %v", peers)
	}
}
