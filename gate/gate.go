// Package gate is the HTTP boundary of the paywall. It inspects incoming
// requests for payment-proof headers, drives the verifier, and answers with
// either the protected action's result or a 402 challenge/rejection. It also
// holds the registry of protected endpoints.
package gate

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vitwit/x402-paywall/logger"
	"github.com/vitwit/x402-paywall/metrics"
	"github.com/vitwit/x402-paywall/types"
)

// Handler is a protected action. It runs only after authorization succeeds.
// A []byte result is served as image/png, a string as text/plain, anything
// else as JSON wrapped together with the payment metadata.
type Handler func(r *http.Request) (any, error)

// Verifier is the slice of the verification engine the gate drives.
type Verifier interface {
	Verify(ctx context.Context, proof types.PaymentProof, req types.PaymentRequirement) (*types.VerificationVerdict, error)
}

// Endpoint is an explicit registration of a protected action: a name, a
// path, a price and a handler. Request parameters are read by the handler
// from the query string.
type Endpoint struct {
	Name        string
	Path        string
	Price       decimal.Decimal
	Description string
	Tags        []string
	Handler     Handler
}

// Validate checks the registration fields.
func (e *Endpoint) Validate() error {
	if e.Name == "" {
		return &types.PaywallError{Code: types.ErrInvalidEndpoint, Message: "endpoint name is required"}
	}
	if !strings.HasPrefix(e.Path, "/") || e.Path == "/" {
		return &types.PaywallError{Code: types.ErrInvalidEndpoint, Message: "endpoint path must start with / and not be the root"}
	}
	if !e.Price.IsPositive() {
		return &types.PaywallError{Code: types.ErrInvalidEndpoint, Message: "endpoint price must be positive"}
	}
	if e.Handler == nil {
		return &types.PaywallError{Code: types.ErrInvalidEndpoint, Message: "endpoint handler is required"}
	}
	return nil
}

// Gate enforces payment on registered endpoints.
type Gate struct {
	cfg      *types.Config
	verifier Verifier
	log      logger.Logger
	rec      metrics.Recorder

	mu        sync.Mutex
	endpoints []Endpoint
	byPath    map[string]struct{}
}

// New creates a gate over a normalized, validated configuration.
func New(cfg *types.Config, verifier Verifier, log logger.Logger, rec metrics.Recorder) *Gate {
	return &Gate{
		cfg:      cfg,
		verifier: verifier,
		log:      logger.OrNoop(log),
		rec:      metrics.OrNoop(rec),
		byPath:   make(map[string]struct{}),
	}
}

// Register adds a protected endpoint to the lookup table. Registration
// happens at startup, before Handler is called.
func (g *Gate) Register(ep Endpoint) error {
	if err := ep.Validate(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.byPath[ep.Path]; exists {
		return &types.PaywallError{
			Code:    types.ErrDuplicateEndpoint,
			Message: "an endpoint is already registered at " + ep.Path,
		}
	}
	g.byPath[ep.Path] = struct{}{}
	g.endpoints = append(g.endpoints, ep)
	return nil
}

// Endpoints returns a snapshot of the registered endpoints in registration
// order.
func (g *Gate) Endpoints() []Endpoint {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Endpoint, len(g.endpoints))
	copy(out, g.endpoints)
	return out
}

// Handler builds the HTTP handler serving every registered endpoint behind
// the paywall, plus the index and health endpoints.
func (g *Gate) Handler() http.Handler {
	mux := http.NewServeMux()
	for _, ep := range g.Endpoints() {
		mux.HandleFunc(ep.Path, g.paid(ep))
	}
	mux.HandleFunc("/health", g.health)
	mux.HandleFunc("/", g.index)
	return mux
}

// paid wraps one protected action in the authorization state machine.
func (g *Gate) paid(ep Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)

		txHash := r.Header.Get(types.HeaderTxHash)
		if txHash == "" {
			g.rec.IncCounter("challenge", map[string]string{"outcome": "issued"})
			g.writeChallenge(w, ep)
			return
		}

		proof := types.PaymentProof{
			TxHash: txHash,
			Payer:  r.Header.Get(types.HeaderPayerAddress),
		}.Normalize()

		verdict, err := g.verifier.Verify(r.Context(), proof, g.cfg.Requirement(ep.Price))
		if err != nil {
			// Infrastructure failure: reject generically, never leak
			// transport detail to the caller.
			g.log.Error("payment verification error", map[string]any{
				"request_id": requestID,
				"endpoint":   ep.Name,
				"error":      err.Error(),
			})
			writeJSON(w, http.StatusPaymentRequired, types.RejectionResponse{
				Error: "Payment verification failed. Please try again.",
			})
			return
		}
		if !verdict.Valid {
			g.log.Info("payment rejected", map[string]any{
				"request_id": requestID,
				"endpoint":   ep.Name,
				"reason":     verdict.InvalidReason,
			})
			writeJSON(w, http.StatusPaymentRequired, types.RejectionResponse{Error: verdict.Message})
			return
		}

		result, err := ep.Handler(r)
		if err != nil {
			g.log.Error("endpoint handler failed", map[string]any{
				"request_id": requestID,
				"endpoint":   ep.Name,
				"error":      err.Error(),
			})
			writeJSON(w, http.StatusInternalServerError, types.RejectionResponse{Error: "Internal Server Error"})
			return
		}

		g.log.Info("request authorized", map[string]any{
			"request_id": requestID,
			"endpoint":   ep.Name,
			"tx_hash":    proof.TxHash,
		})

		switch out := result.(type) {
		case []byte:
			w.Header().Set("Content-Type", "image/png")
			w.WriteHeader(http.StatusOK)
			w.Write(out)
		case string:
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(out))
		default:
			writeJSON(w, http.StatusOK, map[string]any{
				"result": result,
				"payment": types.PaymentMeta{
					TxHash:        proof.TxHash,
					AmountCharged: ep.Price.String(),
					Currency:      g.cfg.Currency,
				},
			})
		}
	}
}

// writeChallenge emits the 402 challenge describing what payment would
// satisfy the endpoint's requirement.
func (g *Gate) writeChallenge(w http.ResponseWriter, ep Endpoint) {
	writeJSON(w, http.StatusPaymentRequired, types.ChallengeResponse{
		Error: "Payment Required",
		PaymentDetails: types.PaymentDetails{
			Amount:       ep.Price.String(),
			Currency:     g.cfg.Currency,
			Network:      g.cfg.Network,
			ChainID:      g.cfg.ChainID,
			Recipient:    g.cfg.WalletAddress,
			USDCContract: g.cfg.USDCContract,
			RPCURL:       g.cfg.RPCURL,
			Instructions: "Send " + g.cfg.Currency + " on " + g.cfg.Network +
				" to the recipient address, then retry with headers " +
				types.HeaderTxHash + ": 0x... and " + types.HeaderPayerAddress + ": 0x...",
		},
	})
}

type endpointInfo struct {
	Path        string   `json:"path"`
	PriceUSDC   string   `json:"price_usdc"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

func (g *Gate) index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSON(w, http.StatusNotFound, types.RejectionResponse{Error: "Not Found"})
		return
	}
	eps := g.Endpoints()
	infos := make([]endpointInfo, 0, len(eps))
	for _, ep := range eps {
		infos = append(infos, endpointInfo{
			Path:        ep.Path,
			PriceUSDC:   ep.Price.String(),
			Description: ep.Description,
			Tags:        ep.Tags,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   "x402 paywall",
		"endpoints": infos,
	})
}

func (g *Gate) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
