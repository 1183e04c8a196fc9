// Package verification implements the payment-authorization core: the
// claim-first state machine that turns a transaction reference into a
// verdict against a payment requirement.
package verification

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/vitwit/x402-paywall/clients"
	"github.com/vitwit/x402-paywall/logger"
	"github.com/vitwit/x402-paywall/metrics"
	"github.com/vitwit/x402-paywall/reservation"
	"github.com/vitwit/x402-paywall/types"
)

// Verifier answers whether a transaction reference, as proof of payment for a
// requirement, holds. It claims the reference before any node call so that
// two racing requests cannot both accept the same transaction; the claim is
// released on every path except a valid verdict.
type Verifier struct {
	client   clients.ChainReader
	store    *reservation.Store
	maxTxAge time.Duration

	log logger.Logger
	rec metrics.Recorder

	now func() time.Time
}

// NewVerifier creates a verifier. A non-positive maxTxAge selects the default
// freshness window; nil log and rec select no-ops.
func NewVerifier(
	client clients.ChainReader,
	store *reservation.Store,
	maxTxAge time.Duration,
	log logger.Logger,
	rec metrics.Recorder,
) *Verifier {
	if maxTxAge <= 0 {
		maxTxAge = types.DefaultMaxTxAge
	}
	return &Verifier{
		client:   client,
		store:    store,
		maxTxAge: maxTxAge,
		log:      logger.OrNoop(log),
		rec:      metrics.OrNoop(rec),
		now:      time.Now,
	}
}

// Verify evaluates proof against req and returns a verdict. A non-nil error
// is an infrastructure failure, never a judgment on the payment; the
// reservation is released before such an error propagates, so the reference
// stays retryable.
func (v *Verifier) Verify(
	ctx context.Context,
	proof types.PaymentProof,
	req types.PaymentRequirement,
) (verdict *types.VerificationVerdict, err error) {
	start := v.now()
	proof = proof.Normalize()

	defer func() {
		outcome := "error"
		if verdict != nil {
			if verdict.Valid {
				outcome = "valid"
			} else {
				outcome = verdict.InvalidReason
			}
		}
		v.rec.IncCounter("verification", map[string]string{"outcome": outcome})
		v.rec.ObserveLatency("verify", time.Since(start), map[string]string{"outcome": outcome})
	}()

	claim, ok := v.store.TryClaim(proof.TxHash)
	if !ok {
		// Claimed by a concurrent verification or already consumed; the two
		// cases are indistinguishable to the caller.
		v.log.Debug("reference already claimed", map[string]any{"tx_hash": proof.TxHash})
		return types.InvalidAlreadyUsed(), nil
	}
	// Every exit below either consumes the claim (the single success path) or
	// hits this release, which is a no-op after consume.
	defer claim.Release()

	receipt, err := v.client.TransactionReceipt(ctx, common.HexToHash(proof.TxHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return types.InvalidNotFound(), nil
		}
		return nil, &types.PaywallError{
			Code:    types.ErrRPCFailure,
			Message: "receipt lookup failed",
			Err:     err,
		}
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return types.InvalidReverted(), nil
	}

	if verdict, err := v.checkFreshness(ctx, receipt); verdict != nil || err != nil {
		return verdict, err
	}

	event, found := firstMatchingTransfer(receipt.Logs, req)
	if !found {
		return types.InvalidNoMatchingTransfer(), nil
	}

	if proof.Payer != "" && !strings.EqualFold(event.From.Hex(), proof.Payer) {
		return types.InvalidSenderMismatch(proof.Payer, strings.ToLower(event.From.Hex())), nil
	}

	if event.RawAmount.Cmp(req.RawAmount()) < 0 {
		return types.InvalidInsufficientAmount(req.Amount, event.Amount()), nil
	}

	claim.Consume()
	v.log.Info("payment verified", map[string]any{
		"tx_hash": proof.TxHash,
		"amount":  event.Amount().String(),
		"sender":  strings.ToLower(event.From.Hex()),
	})
	return &types.VerificationVerdict{Valid: true}, nil
}

// checkFreshness compares the confirming block's timestamp against the
// freshness window. A missing block number or an absent header skips the
// check; a failed header fetch propagates as an infrastructure error.
func (v *Verifier) checkFreshness(ctx context.Context, receipt *ethtypes.Receipt) (*types.VerificationVerdict, error) {
	if receipt.BlockNumber == nil {
		return nil, nil
	}

	header, err := v.client.HeaderByNumber(ctx, receipt.BlockNumber)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, &types.PaywallError{
			Code:    types.ErrRPCFailure,
			Message: "block lookup failed",
			Err:     err,
		}
	}

	maxAge := int64(v.maxTxAge.Seconds())
	if v.now().Unix()-int64(header.Time) > maxAge {
		return types.InvalidExpired(maxAge), nil
	}
	return nil, nil
}

// firstMatchingTransfer scans logs in order and returns the first one that
// passes the contract, topic-signature and recipient filters. Only that log
// is evaluated further; a later log that would satisfy the amount does not
// rescue a rejection.
func firstMatchingTransfer(logs []*ethtypes.Log, req types.PaymentRequirement) (types.TransferEvent, bool) {
	for _, entry := range logs {
		if entry.Address != req.Token {
			continue
		}
		if len(entry.Topics) < 3 || entry.Topics[0] != types.TransferEventTopic {
			continue
		}
		to := common.BytesToAddress(entry.Topics[2].Bytes())
		if to != req.Recipient {
			continue
		}
		return types.TransferEvent{
			Contract:  entry.Address,
			From:      common.BytesToAddress(entry.Topics[1].Bytes()),
			To:        to,
			RawAmount: new(big.Int).SetBytes(entry.Data),
		}, true
	}
	return types.TransferEvent{}, false
}
