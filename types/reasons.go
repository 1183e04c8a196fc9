package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Closed taxonomy of invalid-verdict reasons. Every rejection the verifier can
// produce carries exactly one of these codes.
const (
	ReasonAlreadyUsed        = "tx_already_used"
	ReasonNotFound           = "tx_not_found"
	ReasonReverted           = "tx_reverted"
	ReasonExpired            = "tx_expired"
	ReasonSenderMismatch     = "sender_mismatch"
	ReasonInsufficientAmount = "insufficient_amount"
	ReasonNoMatchingTransfer = "no_matching_transfer"
)

// Engine-level error codes, distinct from verdict reasons. These surface as
// PaywallError values and never as verdicts.
const (
	ErrInvalidConfig     = "invalid_config"
	ErrInvalidEndpoint   = "invalid_endpoint"
	ErrDuplicateEndpoint = "duplicate_endpoint"
	ErrRPCFailure        = "rpc_failure"
)

// PaywallError is a structured engine-level error.
type PaywallError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *PaywallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PaywallError) Unwrap() error { return e.Err }

// Invalid builds an invalid verdict for a reason code with its standard
// message.
func Invalid(reason, message string) *VerificationVerdict {
	return &VerificationVerdict{InvalidReason: reason, Message: message}
}

// InvalidAlreadyUsed reports a reference that is claimed or consumed. Both
// cases surface identically so callers cannot probe reservation state.
func InvalidAlreadyUsed() *VerificationVerdict {
	return Invalid(ReasonAlreadyUsed, "Transaction already used")
}

// InvalidNotFound reports a reference the node does not know about.
func InvalidNotFound() *VerificationVerdict {
	return Invalid(ReasonNotFound, "Transaction not found or invalid")
}

// InvalidReverted reports a transaction whose receipt status is not success.
func InvalidReverted() *VerificationVerdict {
	return Invalid(ReasonReverted, "Transaction reverted")
}

// InvalidExpired reports a transaction outside the freshness window.
func InvalidExpired(maxAge int64) *VerificationVerdict {
	return Invalid(ReasonExpired,
		fmt.Sprintf("Transaction too old (>%ds). Only recent transactions accepted.", maxAge))
}

// InvalidSenderMismatch reports a transfer sent by someone other than the
// declared payer.
func InvalidSenderMismatch(expected, got string) *VerificationVerdict {
	return Invalid(ReasonSenderMismatch,
		fmt.Sprintf("Payment sender mismatch: expected %s, got %s", expected, got))
}

// InvalidInsufficientAmount reports a transfer below the required amount.
// The message carries both decimal amounts.
func InvalidInsufficientAmount(expected, got decimal.Decimal) *VerificationVerdict {
	return Invalid(ReasonInsufficientAmount,
		fmt.Sprintf("Insufficient payment: expected %s USDC, got %s", expected.String(), got.String()))
}

// InvalidNoMatchingTransfer reports a receipt with no transfer satisfying the
// contract/topic/recipient filters.
func InvalidNoMatchingTransfer() *VerificationVerdict {
	return Invalid(ReasonNoMatchingTransfer, "No matching USDC transfer found in transaction")
}
