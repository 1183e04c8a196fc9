package paywall

import (
	"github.com/vitwit/x402-paywall/clients"
	"github.com/vitwit/x402-paywall/logger"
	"github.com/vitwit/x402-paywall/metrics"
	"github.com/vitwit/x402-paywall/reservation"
)

// Option customizes a Paywall at construction time.
type Option func(*Paywall)

// WithLogger wires a structured logger through every component.
func WithLogger(l logger.Logger) Option {
	return func(p *Paywall) {
		p.log = logger.OrNoop(l)
	}
}

// WithMetrics wires a metrics recorder through every component.
func WithMetrics(r metrics.Recorder) Option {
	return func(p *Paywall) {
		p.rec = metrics.OrNoop(r)
	}
}

// WithChainReader substitutes the chain access, bypassing the RPC dial.
// The reader is still wrapped with the configured per-call timeout.
func WithChainReader(r clients.ChainReader) Option {
	return func(p *Paywall) {
		p.reader = r
	}
}

// WithStore substitutes the reservation store, e.g. to share one across
// several paywalls in the same process.
func WithStore(s *reservation.Store) Option {
	return func(p *Paywall) {
		p.store = s
	}
}
