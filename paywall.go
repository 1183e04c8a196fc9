// Package paywall gates HTTP endpoints behind proof of an on-chain USDC
// payment, inspected through a Base node's read API. Callers register paid
// endpoints explicitly; requests without proof receive an HTTP 402 challenge,
// requests with proof are verified against the chain before the protected
// handler runs.
package paywall

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/vitwit/x402-paywall/clients"
	"github.com/vitwit/x402-paywall/gate"
	"github.com/vitwit/x402-paywall/logger"
	"github.com/vitwit/x402-paywall/marketplace"
	"github.com/vitwit/x402-paywall/metrics"
	"github.com/vitwit/x402-paywall/reservation"
	"github.com/vitwit/x402-paywall/types"
	"github.com/vitwit/x402-paywall/verification"
)

// Version information.
const (
	Version         = "1.0.0"
	ProtocolVersion = 1
)

// DefaultSweepInterval is how often the reservation store evicts expired
// entries.
const DefaultSweepInterval = time.Minute

// Paywall wires the engine together: chain client, reservation store,
// verifier, gate and marketplace client.
type Paywall struct {
	cfg      *types.Config
	client   *clients.EVMClient
	reader   clients.ChainReader
	store    *reservation.Store
	verifier *verification.Verifier
	gate     *gate.Gate
	registry *marketplace.Client

	log logger.Logger
	rec metrics.Recorder
}

// New creates a paywall from the given configuration. The configuration is
// normalized and validated; a nil chain reader is replaced by a client dialed
// against the configured RPC endpoint.
func New(cfg *types.Config, opts ...Option) (*Paywall, error) {
	if cfg == nil {
		cfg = &types.Config{}
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Paywall{
		cfg: cfg,
		log: logger.NoopLogger{},
		rec: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.store == nil {
		p.store = reservation.NewStore(cfg.ReservationTTL, DefaultSweepInterval)
	}

	if p.reader == nil {
		client, err := clients.NewEVMClient(cfg.RPCURL, cfg.RPCTimeout)
		if err != nil {
			return nil, err
		}
		p.client = client
		p.reader = client
	} else {
		p.reader = clients.NewEVMClientWithReader(p.reader, cfg.RPCTimeout)
	}

	p.verifier = verification.NewVerifier(p.reader, p.store, cfg.MaxTxAge, p.log, p.rec)
	p.gate = gate.New(cfg, p.verifier, p.log, p.rec)
	p.registry = marketplace.NewClient(cfg.BazaarURL, p.log)

	return p, nil
}

// Register adds a protected endpoint. Call during startup, before Handler.
func (p *Paywall) Register(ep gate.Endpoint) error {
	return p.gate.Register(ep)
}

// Handler returns the HTTP handler serving all registered endpoints, the
// index and the health check.
func (p *Paywall) Handler() http.Handler {
	return p.gate.Handler()
}

// Verify exposes the verification engine directly, for callers embedding the
// paywall behind their own transport.
func (p *Paywall) Verify(ctx context.Context, proof types.PaymentProof, req types.PaymentRequirement) (*types.VerificationVerdict, error) {
	return p.verifier.Verify(ctx, proof, req)
}

// Announce registers every endpoint on the configured marketplace.
// Best-effort: failures are logged, not returned.
func (p *Paywall) Announce(ctx context.Context) {
	eps := p.gate.Endpoints()
	listings := make([]marketplace.Listing, 0, len(eps))
	base := strings.TrimRight(p.cfg.APIBaseURL, "/")
	for _, ep := range eps {
		listings = append(listings, marketplace.Listing{
			Name:        ep.Name,
			URL:         base + ep.Path,
			Price:       ep.Price.String(),
			Currency:    p.cfg.Currency,
			Network:     p.cfg.Network,
			Description: ep.Description,
			Tags:        ep.Tags,
			Protocol:    "x402",
		})
	}
	p.registry.Announce(ctx, listings)
}

// Close stops the reservation sweep and releases the RPC connection.
func (p *Paywall) Close() {
	p.store.Close()
	if p.client != nil {
		p.client.Close()
	}
}
