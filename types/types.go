// Package types defines the shared value objects and protocol constants of
// the x402 paywall engine: payment requirements, payment proofs, verification
// verdicts and the wire shapes of the 402 challenge protocol.
package types

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Fixed constants the engine depends on. USDC on Base uses a 6-decimal
// smallest-unit scale; the transfer topic is keccak256("Transfer(address,address,uint256)").
const (
	USDCDecimals = 6

	BaseChainID = 8453

	NetworkBase  = "Base"
	CurrencyUSDC = "USDC"

	DefaultRPCURL = "https://mainnet.base.org"

	DefaultRPCTimeout = 15 * time.Second

	// DefaultMaxTxAge is the freshness window: transactions whose confirming
	// block is older than this are not accepted as proof of payment.
	DefaultMaxTxAge = 300 * time.Second
)

var (
	// USDCContract is the USDC token contract on Base mainnet.
	USDCContract = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")

	// TransferEventTopic is the first topic of an ERC-20 Transfer event log.
	TransferEventTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
)

// Request headers of the payment-proof protocol. Header names are matched
// case-insensitively by net/http.
const (
	HeaderTxHash       = "X-Payment-TxHash"
	HeaderPayerAddress = "X-Payer-Address"
)

// PaymentRequirement describes the payment that unlocks a protected action.
// It is supplied at registration time and never mutated by the engine.
type PaymentRequirement struct {
	// Amount is the human-readable token amount, converted to smallest units
	// with the USDCDecimals scale during verification.
	Amount decimal.Decimal

	// Recipient is the address that must have received the transfer.
	Recipient common.Address

	// Token is the ERC-20 contract the transfer must have been emitted by.
	Token common.Address

	// ChainID identifies the network the payment must have settled on.
	ChainID int64
}

// RawAmount returns Amount scaled to smallest units, truncated to an integer.
func (r PaymentRequirement) RawAmount() *big.Int {
	return r.Amount.Shift(USDCDecimals).BigInt()
}

// PaymentProof is the caller-supplied claim that a payment already happened.
type PaymentProof struct {
	// TxHash is the transaction reference, trimmed and lower-cased before use.
	TxHash string

	// Payer optionally declares who sent the payment; when set, the decoded
	// transfer sender must match it.
	Payer string
}

// Normalize returns a copy with the reference and payer case-normalized.
func (p PaymentProof) Normalize() PaymentProof {
	return PaymentProof{
		TxHash: strings.ToLower(strings.TrimSpace(p.TxHash)),
		Payer:  strings.ToLower(strings.TrimSpace(p.Payer)),
	}
}

// VerificationVerdict is the outcome of evaluating a payment proof against a
// requirement. Invalid verdicts carry one of the Reason* codes and a
// human-readable message safe to surface to the caller.
type VerificationVerdict struct {
	Valid         bool   `json:"valid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Message       string `json:"message,omitempty"`
}

// TransferEvent is an ERC-20 Transfer decoded from a receipt log. Derived
// during verification, never stored.
type TransferEvent struct {
	Contract  common.Address
	From      common.Address
	To        common.Address
	RawAmount *big.Int
}

// Amount returns the transfer value converted back to the decimal scale.
func (t TransferEvent) Amount() decimal.Decimal {
	return decimal.NewFromBigInt(t.RawAmount, -USDCDecimals)
}

// PaymentDetails is the body of the payment_details object in a 402 challenge.
type PaymentDetails struct {
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Network      string `json:"network"`
	ChainID      int64  `json:"chain_id"`
	Recipient    string `json:"recipient"`
	USDCContract string `json:"usdc_contract"`
	RPCURL       string `json:"rpc_url"`
	Instructions string `json:"instructions"`
}

// ChallengeResponse is returned when a request carries no payment proof.
type ChallengeResponse struct {
	Error          string         `json:"error"`
	PaymentDetails PaymentDetails `json:"payment_details"`
}

// RejectionResponse is returned when a supplied proof does not hold.
type RejectionResponse struct {
	Error string `json:"error"`
}

// PaymentMeta is attached to successful responses alongside the protected
// action's result.
type PaymentMeta struct {
	TxHash        string `json:"tx_hash"`
	AmountCharged string `json:"amount_charged"`
	Currency      string `json:"currency"`
}

// Config carries the deployment-wide settings of the paywall.
type Config struct {
	// WalletAddress receives all payments. Required.
	WalletAddress string `validate:"required,eth_addr"`

	// RPCURL is the JSON-RPC endpoint of the chain node.
	RPCURL string `validate:"omitempty,url"`

	// USDCContract overrides the token contract address.
	USDCContract string `validate:"omitempty,eth_addr"`

	ChainID  int64
	Network  string
	Currency string

	// RPCTimeout bounds each individual node call.
	RPCTimeout time.Duration

	// MaxTxAge is the freshness window for confirming blocks.
	MaxTxAge time.Duration

	// ReservationTTL bounds how long consumed references are remembered.
	// Zero selects twice the freshness window.
	ReservationTTL time.Duration

	// BazaarURL, when set, enables marketplace self-registration.
	BazaarURL string `validate:"omitempty,url"`

	// APIBaseURL is the public base URL announced to the marketplace.
	APIBaseURL string `validate:"omitempty,url"`
}

var validate = validator.New()

// Normalize fills in defaults and case-normalizes addresses. It returns the
// receiver for chaining.
func (c *Config) Normalize() *Config {
	c.WalletAddress = strings.ToLower(strings.TrimSpace(c.WalletAddress))
	if c.RPCURL == "" {
		c.RPCURL = DefaultRPCURL
	}
	if c.USDCContract == "" {
		c.USDCContract = strings.ToLower(USDCContract.Hex())
	} else {
		c.USDCContract = strings.ToLower(strings.TrimSpace(c.USDCContract))
	}
	if c.ChainID == 0 {
		c.ChainID = BaseChainID
	}
	if c.Network == "" {
		c.Network = NetworkBase
	}
	if c.Currency == "" {
		c.Currency = CurrencyUSDC
	}
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = DefaultRPCTimeout
	}
	if c.MaxTxAge <= 0 {
		c.MaxTxAge = DefaultMaxTxAge
	}
	if c.ReservationTTL <= 0 {
		c.ReservationTTL = 2 * c.MaxTxAge
	}
	return c
}

// Validate checks the configuration using struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return &PaywallError{
			Code:    ErrInvalidConfig,
			Message: fmt.Sprintf("invalid paywall configuration: %v", err),
		}
	}
	return nil
}

// Requirement builds the PaymentRequirement for a given price under this
// configuration.
func (c *Config) Requirement(price decimal.Decimal) PaymentRequirement {
	return PaymentRequirement{
		Amount:    price,
		Recipient: common.HexToAddress(c.WalletAddress),
		Token:     common.HexToAddress(c.USDCContract),
		ChainID:   c.ChainID,
	}
}
