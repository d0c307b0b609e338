package swap

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/swap_dispatcher/internal/httputil"
	"github.com/R3E-Network/swap_dispatcher/pkg/logger"
)

var txPayload = []byte("unsigned-swap-tx")

type provider struct {
	t          *testing.T
	quoteCalls int
	submitted  submitRequest
	swapBody   map[string]any
}

func (p *provider) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		p.quoteCalls++
		q := r.URL.Query()
		if q.Get("amount") == "13" {
			http.Error(w, `{"error":"no route"}`, http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `{"inAmount":"`+q.Get("amount")+`","outAmount":"777","slippageBps":`+q.Get("slippageBps")+`,"routePlan":[]}`)
	})
	mux.HandleFunc("/swap", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(p.t, json.NewDecoder(r.Body).Decode(&p.swapBody))
		_, _ = io.WriteString(w, `{"swapTransaction":"`+hex.EncodeToString(txPayload)+`"}`)
	})
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(p.t, json.NewDecoder(r.Body).Decode(&p.submitted))
		pub, err := keys.NewPublicKeyFromString(p.submitted.PublicKey)
		if err != nil {
			http.Error(w, "bad key", http.StatusBadRequest)
			return
		}
		sig, _ := hex.DecodeString(p.submitted.Signature)
		digest := sha256.Sum256(txPayload)
		if !pub.Verify(sig, digest[:]) {
			http.Error(w, "bad signature", http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"txid":"0xabc","confirmation":"HALT"}`)
	})
	return mux
}

func newTestClient(t *testing.T) (*Client, *provider) {
	t.Helper()
	p := &provider{t: t}
	srv := httptest.NewServer(p.handler())
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/", RateLimit: 100, RateBurst: 10}, logger.Discard()), p
}

func TestQuoteAndExecute(t *testing.T) {
	client, p := newTestClient(t)
	priv, err := keys.NewPrivateKey()
	require.NoError(t, err)

	q, err := client.Quote(context.Background(), QuoteRequest{InputAsset: "gas", OutputAsset: "neo", Amount: 4000, SlippageBps: 50})
	require.NoError(t, err)
	assert.Equal(t, "4000", q.InAmount)
	assert.Equal(t, "777", q.OutAmount)
	assert.Equal(t, 50, q.SlippageBps)

	res, err := client.Execute(context.Background(), q, priv, ExecuteOptions{PriorityFee: 100000, DynamicSlippageMin: 50, DynamicSlippageMax: 2000})
	require.NoError(t, err)
	assert.Equal(t, Result{TxID: "0xabc", Confirmation: "HALT"}, res)

	assert.Equal(t, priv.PublicKey().StringCompressed(), p.submitted.PublicKey)
	assert.Equal(t, priv.Address(), p.swapBody["userAddress"])
	assert.Equal(t, float64(100000), p.swapBody["prioritizationFee"])
	quote, ok := p.swapBody["quoteResponse"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "777", quote["outAmount"])
}

func TestQuoteProviderError(t *testing.T) {
	client, _ := newTestClient(t)
	_, err := client.Quote(context.Background(), QuoteRequest{InputAsset: "gas", OutputAsset: "neo", Amount: 13})
	var statusErr *httputil.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Contains(t, err.Error(), "no route")
}

func TestQuoteRejectsNonPositiveAmount(t *testing.T) {
	client, p := newTestClient(t)
	_, err := client.Quote(context.Background(), QuoteRequest{Amount: 0})
	require.Error(t, err)
	assert.Zero(t, p.quoteCalls)
}

func TestExecuteMalformedSwap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()
	client := New(Config{BaseURL: srv.URL}, logger.Discard())
	priv, err := keys.NewPrivateKey()
	require.NoError(t, err)

	_, err = client.Execute(context.Background(), Quote{Raw: json.RawMessage(`{}`)}, priv, ExecuteOptions{})
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestLimiterHonoursContext(t *testing.T) {
	client, p := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Quote(ctx, QuoteRequest{InputAsset: "gas", OutputAsset: "neo", Amount: 1})
	require.Error(t, err)
	assert.Zero(t, p.quoteCalls)
}
