package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/overlaymesh/omq/internal/discovery"
	"github.com/overlaymesh/omq/internal/logging"
	"github.com/overlaymesh/omq/internal/omq"
	"github.com/overlaymesh/omq/internal/peer"
	"github.com/overlaymesh/omq/internal/policy"
	"github.com/overlaymesh/omq/internal/topology"
	"github.com/overlaymesh/omq/internal/transport"
)

const inboundPath = "/omq/v1/deliver"

func main() {
	logging.Init()

	topologyPath := envOr("OMQ_TOPOLOGY_FILE", "topology.yaml")
	selfName := os.Getenv("OMQ_SELF_NAME")

	raw, err := os.ReadFile(topologyPath)
	if err != nil {
		logging.Error("failed to read topology file %s: %v", topologyPath, err)
		os.Exit(1)
	}

	result, err := topology.Interpret(raw, selfName)
	if err != nil {
		logging.Error("bad topology document: %v", err)
		os.Exit(1)
	}

	peers := peer.NewModel()
	peers.AddKnownPeers(result.InitialPeers)

	policyModel := policy.DefaultModel(result.SelfClass)
	if policyPath := os.Getenv("OMQ_POLICY_FILE"); policyPath != "" {
		raw, err := os.ReadFile(policyPath)
		if err != nil {
			logging.Error("failed to read policy file %s: %v", policyPath, err)
			os.Exit(1)
		}
		policyModel, err = policy.ParseDocument(raw, result.SelfClass)
		if err != nil {
			logging.Error("bad policy document: %v", err)
			os.Exit(1)
		}
	}

	var secret []byte
	if s := os.Getenv("OMQ_SHARED_SECRET"); s != "" {
		secret = []byte(s)
	}

	advertisePort := envOr("OMQ_ADVERTISE_PORT", "7080")
	tr := transport.NewHTTP(func(id peer.ID) string { return resolvePeerAddr(id, advertisePort) }, secret)

	registry := prometheus.NewRegistry()
	queue := omq.NewQueue(peers, policyModel, tr, omq.WithRegisterer(registry))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, d := range result.Discovery {
		spawnDiscoveryWorker(ctx, peers, d, advertisePort)
	}

	tickInterval := 200 * time.Millisecond
	if ms := os.Getenv("OMQ_TICK_INTERVAL_MS"); ms != "" {
		if n, err := strconv.Atoi(ms); err == nil && n > 0 {
			tickInterval = time.Duration(n) * time.Millisecond
		}
	}
	go queue.Run(ctx, tickInterval)

	srv := &http.Server{
		Addr:    ":" + envOr("OMQ_HTTP_PORT", "8080"),
		Handler: router(peers, result, secret, registry),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.Info("shutdown signal received")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Error("http server shutdown: %v", err)
		}
	}()

	logging.Info("node starting: class=%s http=%s peers=%d", result.SelfClass, srv.Addr, countPeers(result))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Error("http server: %v", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// resolvePeerAddr treats a peer.ID as already being a dialable
// host:port, the shape every topology view in this module assigns,
// falling back to pairing it with the local advertise port if it
// turns out to be a bare host.
func resolvePeerAddr(id peer.ID, fallbackPort string) string {
	s := string(id)
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return s
		}
	}
	return s + ":" + fallbackPort
}

func countPeers(result *topology.Result) int {
	n := 0
	for _, groups := range result.InitialPeers {
		for _, g := range groups {
			n += len(g)
		}
	}
	return n
}

// spawnDiscoveryWorker maps a topology.DiscoveryDescriptor onto a
// concrete discovery worker and runs it in the background. DHT
// discovery has no real Kademlia client wired in (see
// internal/discovery.LookupFunc's doc comment); it runs a stub lookup
// that reports no peers until an operator supplies a real one.
func spawnDiscoveryWorker(ctx context.Context, peers *peer.Model, d topology.DiscoveryDescriptor, advertisePort string) {
	switch d.Kind {
	case topology.DiscoveryDNS:
		port, err := strconv.Atoi(advertisePort)
		if err != nil {
			port = 7080
		}
		w := discovery.NewDNSWorker(peers, d.Domains, uint16(port), d.SubscriberClass, d.Valency, d.Fallbacks)
		go w.Run(ctx)
	case topology.DiscoveryDHT:
		lookup := func(ctx context.Context) ([]peer.Peer, error) {
			logging.Debug("discovery: no DHT client configured, reporting an empty round")
			return nil, nil
		}
		w := discovery.NewDHTWorker(peers, lookup, d.SubscriberClass, d.Valency)
		go w.Run(ctx)
	}
}

func router(peers *peer.Model, result *topology.Result, secret []byte, registry *prometheus.Registry) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.HandleFunc("/status", statusHandler(peers, result)).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc(inboundPath, transport.InboundHandler(secret, inboundDeliveryLogger)).Methods("POST")

	return r
}

func inboundDeliveryLogger(payload []byte) {
	logging.Debug("omq: inbound delivery received, %d bytes", len(payload))
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func statusHandler(peers *peer.Model, result *topology.Result) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts := map[string]int{
			string(peer.Core):  len(peers.PeersOfClass(peer.Core)),
			string(peer.Relay): len(peers.PeersOfClass(peer.Relay)),
			string(peer.Edge):  len(peers.PeersOfClass(peer.Edge)),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"self_class":  result.SelfClass,
			"peer_counts": counts,
		})
	}
}
