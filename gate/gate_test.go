package gate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/x402-paywall/types"
)

const (
	testWallet = "0x70997970c51812dc3a010c7d01b50e0d17dc79c8"
	testTx     = "0x2f1c8a55e0bd9d1c2b2f9f06a3d41e0e55aa08f9a4a8f3c2de6b1f4a9c0d7e31"
)

type stubVerifier struct {
	verdict *types.VerificationVerdict
	err     error

	gotProof types.PaymentProof
	gotReq   types.PaymentRequirement
}

func (s *stubVerifier) Verify(_ context.Context, proof types.PaymentProof, req types.PaymentRequirement) (*types.VerificationVerdict, error) {
	s.gotProof = proof
	s.gotReq = req
	return s.verdict, s.err
}

func testConfig() *types.Config {
	return (&types.Config{WalletAddress: testWallet}).Normalize()
}

func jokeEndpoint(handler Handler) Endpoint {
	return Endpoint{
		Name:        "random_joke",
		Path:        "/random_joke",
		Price:       decimal.RequireFromString("0.01"),
		Description: "Get a random programming joke",
		Tags:        []string{"fun", "joke"},
		Handler:     handler,
	}
}

func newTestGate(t *testing.T, v Verifier, eps ...Endpoint) *Gate {
	t.Helper()
	g := New(testConfig(), v, nil, nil)
	for _, ep := range eps {
		require.NoError(t, g.Register(ep))
	}
	return g
}

func TestGate_ChallengeWithoutProof(t *testing.T) {
	g := newTestGate(t, &stubVerifier{}, jokeEndpoint(func(*http.Request) (any, error) {
		return map[string]string{"joke": "nope"}, nil
	}))

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/random_joke", nil))

	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	var challenge types.ChallengeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &challenge))
	assert.Equal(t, "Payment Required", challenge.Error)
	assert.Equal(t, "0.01", challenge.PaymentDetails.Amount)
	assert.Equal(t, "USDC", challenge.PaymentDetails.Currency)
	assert.Equal(t, "Base", challenge.PaymentDetails.Network)
	assert.Equal(t, int64(8453), challenge.PaymentDetails.ChainID)
	assert.Equal(t, testWallet, challenge.PaymentDetails.Recipient)
	assert.Equal(t, "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913", challenge.PaymentDetails.USDCContract)
	assert.NotEmpty(t, challenge.PaymentDetails.RPCURL)
	assert.Contains(t, challenge.PaymentDetails.Instructions, types.HeaderTxHash)
}

func TestGate_AuthorizedJSONResult(t *testing.T) {
	verifier := &stubVerifier{verdict: &types.VerificationVerdict{Valid: true}}
	g := newTestGate(t, verifier, jokeEndpoint(func(*http.Request) (any, error) {
		return map[string]string{"joke": "a classic"}, nil
	}))

	req := httptest.NewRequest(http.MethodGet, "/random_joke", nil)
	req.Header.Set(types.HeaderTxHash, " "+testTx+" ")
	req.Header.Set(types.HeaderPayerAddress, "0xF39FD6E51AAD88F6F4CE6AB8827279CFFFB92266")
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	// The verifier saw the normalized proof and the deployment requirement.
	assert.Equal(t, testTx, verifier.gotProof.TxHash)
	assert.Equal(t, "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266", verifier.gotProof.Payer)
	assert.Equal(t, common.HexToAddress(testWallet), verifier.gotReq.Recipient)
	assert.Equal(t, "0.01", verifier.gotReq.Amount.String())

	var body struct {
		Result  map[string]string `json:"result"`
		Payment types.PaymentMeta `json:"payment"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "a classic", body.Result["joke"])
	assert.Equal(t, testTx, body.Payment.TxHash)
	assert.Equal(t, "0.01", body.Payment.AmountCharged)
	assert.Equal(t, "USDC", body.Payment.Currency)
}

func TestGate_RejectionSurfacesVerdictMessage(t *testing.T) {
	verifier := &stubVerifier{verdict: types.InvalidAlreadyUsed()}
	g := newTestGate(t, verifier, jokeEndpoint(func(*http.Request) (any, error) {
		t.Fatal("handler must not run on rejection")
		return nil, nil
	}))

	req := httptest.NewRequest(http.MethodGet, "/random_joke", nil)
	req.Header.Set(types.HeaderTxHash, testTx)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	var body types.RejectionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Transaction already used", body.Error)
}

func TestGate_EngineErrorRejectsGenerically(t *testing.T) {
	verifier := &stubVerifier{err: errors.New("dial tcp 10.0.0.1:8545: i/o timeout")}
	g := newTestGate(t, verifier, jokeEndpoint(func(*http.Request) (any, error) {
		t.Fatal("handler must not run on engine error")
		return nil, nil
	}))

	req := httptest.NewRequest(http.MethodGet, "/random_joke", nil)
	req.Header.Set(types.HeaderTxHash, testTx)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	var body types.RejectionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Payment verification failed. Please try again.", body.Error)
	assert.NotContains(t, rec.Body.String(), "dial tcp")
}

func TestGate_BytesResultServedAsPNG(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	g := newTestGate(t, &stubVerifier{verdict: &types.VerificationVerdict{Valid: true}},
		Endpoint{
			Name:    "generate_qr",
			Path:    "/generate_qr",
			Price:   decimal.RequireFromString("0.05"),
			Handler: func(*http.Request) (any, error) { return png, nil },
		})

	req := httptest.NewRequest(http.MethodGet, "/generate_qr?text=hello", nil)
	req.Header.Set(types.HeaderTxHash, testTx)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, png, rec.Body.Bytes())
}

func TestGate_StringResultServedAsPlainText(t *testing.T) {
	g := newTestGate(t, &stubVerifier{verdict: &types.VerificationVerdict{Valid: true}},
		Endpoint{
			Name:    "motd",
			Path:    "/motd",
			Price:   decimal.RequireFromString("0.01"),
			Handler: func(*http.Request) (any, error) { return "hello", nil },
		})

	req := httptest.NewRequest(http.MethodGet, "/motd", nil)
	req.Header.Set(types.HeaderTxHash, testTx)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "hello", rec.Body.String())
}

func TestGate_HandlerFailure(t *testing.T) {
	g := newTestGate(t, &stubVerifier{verdict: &types.VerificationVerdict{Valid: true}},
		jokeEndpoint(func(*http.Request) (any, error) {
			return nil, errors.New("joke database offline")
		}))

	req := httptest.NewRequest(http.MethodGet, "/random_joke", nil)
	req.Header.Set(types.HeaderTxHash, testTx)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "joke database")
}

func TestGate_IndexListsEndpoints(t *testing.T) {
	g := newTestGate(t, &stubVerifier{},
		jokeEndpoint(func(*http.Request) (any, error) { return nil, nil }),
		Endpoint{
			Name:        "summarize",
			Path:        "/summarize",
			Price:       decimal.RequireFromString("0.03"),
			Description: "Summarize text",
			Handler:     func(*http.Request) (any, error) { return nil, nil },
		})

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Service   string         `json:"service"`
		Endpoints []endpointInfo `json:"endpoints"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Endpoints, 2)
	assert.Equal(t, "/random_joke", body.Endpoints[0].Path)
	assert.Equal(t, "0.01", body.Endpoints[0].PriceUSDC)
	assert.Equal(t, "/summarize", body.Endpoints[1].Path)
}

func TestGate_Health(t *testing.T) {
	g := newTestGate(t, &stubVerifier{})

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestGate_UnknownPath(t *testing.T) {
	g := newTestGate(t, &stubVerifier{})

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGate_RegisterRejectsInvalidEndpoints(t *testing.T) {
	g := New(testConfig(), &stubVerifier{}, nil, nil)
	handler := func(*http.Request) (any, error) { return nil, nil }
	price := decimal.RequireFromString("0.01")

	cases := []struct {
		name string
		ep   Endpoint
	}{
		{"missing name", Endpoint{Path: "/a", Price: price, Handler: handler}},
		{"bad path", Endpoint{Name: "a", Path: "a", Price: price, Handler: handler}},
		{"root path", Endpoint{Name: "a", Path: "/", Price: price, Handler: handler}},
		{"zero price", Endpoint{Name: "a", Path: "/a", Handler: handler}},
		{"negative price", Endpoint{Name: "a", Path: "/a", Price: decimal.RequireFromString("-1"), Handler: handler}},
		{"nil handler", Endpoint{Name: "a", Path: "/a", Price: price}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := g.Register(tc.ep)
			var pwErr *types.PaywallError
			require.ErrorAs(t, err, &pwErr)
			assert.Equal(t, types.ErrInvalidEndpoint, pwErr.Code)
		})
	}
}

func TestGate_RegisterRejectsDuplicatePath(t *testing.T) {
	g := New(testConfig(), &stubVerifier{}, nil, nil)
	ep := jokeEndpoint(func(*http.Request) (any, error) { return nil, nil })

	require.NoError(t, g.Register(ep))
	err := g.Register(ep)

	var pwErr *types.PaywallError
	require.ErrorAs(t, err, &pwErr)
	assert.Equal(t, types.ErrDuplicateEndpoint, pwErr.Code)
}
