// Package swap talks to the external quote/swap provider.
package swap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/R3E-Network/swap_dispatcher/internal/app/services/signer"
	"github.com/R3E-Network/swap_dispatcher/internal/httputil"
	"github.com/R3E-Network/swap_dispatcher/pkg/logger"
)

// ErrMalformedResponse is returned when a provider response lacks a required
// field.
var ErrMalformedResponse = errors.New("malformed provider response")

// Config configures the provider client.
type Config struct {
	BaseURL    string
	RateLimit  float64
	RateBurst  int
	HTTPClient *http.Client
}

// QuoteRequest asks for a price on amount base units of InputAsset.
type QuoteRequest struct {
	InputAsset  string
	OutputAsset string
	Amount      int64
	SlippageBps int
}

// Quote is a provider quote. Raw is passed back verbatim on execution.
type Quote struct {
	InputAsset  string
	OutputAsset string
	InAmount    string
	OutAmount   string
	SlippageBps int
	Raw         json.RawMessage
}

// ExecuteOptions carries the fee and slippage settings for a swap.
type ExecuteOptions struct {
	PriorityFee        int64
	DynamicSlippageMin int
	DynamicSlippageMax int
}

// Result identifies a submitted swap.
type Result struct {
	TxID         string
	Confirmation string
}

// Client is an HTTP client for the provider's quote, swap and submit calls.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

// New creates a client. A zero rate limit disables throttling.
func New(cfg Config, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewDefault("swap")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
		log:     log,
	}
}

// Quote fetches a price quote.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	if req.Amount <= 0 {
		return Quote{}, fmt.Errorf("quote amount must be positive, got %d", req.Amount)
	}
	params := url.Values{}
	params.Set("inputAsset", req.InputAsset)
	params.Set("outputAsset", req.OutputAsset)
	params.Set("amount", strconv.FormatInt(req.Amount, 10))
	params.Set("slippageBps", strconv.Itoa(req.SlippageBps))

	body, err := c.do(ctx, http.MethodGet, "/quote?"+params.Encode(), nil)
	if err != nil {
		return Quote{}, fmt.Errorf("quote: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return Quote{}, fmt.Errorf("quote: %w: invalid json", ErrMalformedResponse)
	}

	parsed := gjson.ParseBytes(body)
	out := parsed.Get("outAmount")
	if !out.Exists() {
		return Quote{}, fmt.Errorf("quote: %w: missing outAmount", ErrMalformedResponse)
	}
	q := Quote{
		InputAsset:  req.InputAsset,
		OutputAsset: req.OutputAsset,
		InAmount:    parsed.Get("inAmount").String(),
		OutAmount:   out.String(),
		SlippageBps: req.SlippageBps,
		Raw:         json.RawMessage(body),
	}
	if v := parsed.Get("slippageBps"); v.Exists() {
		q.SlippageBps = int(v.Int())
	}
	return q, nil
}

type swapRequest struct {
	QuoteResponse      json.RawMessage  `json:"quoteResponse"`
	UserPublicKey      string           `json:"userPublicKey"`
	UserAddress        string           `json:"userAddress"`
	PriorityFee        int64            `json:"prioritizationFee,omitempty"`
	DynamicComputeUnit bool             `json:"dynamicComputeUnitLimit"`
	DynamicSlippage    *dynamicSlippage `json:"dynamicSlippage,omitempty"`
}

type dynamicSlippage struct {
	MinBps int `json:"minBps"`
	MaxBps int `json:"maxBps"`
}

type submitRequest struct {
	Transaction string `json:"transaction"`
	Signature   string `json:"signature"`
	PublicKey   string `json:"publicKey"`
}

// Execute builds the swap transaction for q, signs it with priv and submits it.
func (c *Client) Execute(ctx context.Context, q Quote, priv *keys.PrivateKey, opts ExecuteOptions) (Result, error) {
	if priv == nil {
		return Result{}, signer.ErrInvalidKeyMaterial
	}
	swapReq := swapRequest{
		QuoteResponse:      q.Raw,
		UserPublicKey:      priv.PublicKey().StringCompressed(),
		UserAddress:        priv.Address(),
		PriorityFee:        opts.PriorityFee,
		DynamicComputeUnit: true,
	}
	if opts.DynamicSlippageMax > 0 {
		swapReq.DynamicSlippage = &dynamicSlippage{MinBps: opts.DynamicSlippageMin, MaxBps: opts.DynamicSlippageMax}
	}

	body, err := c.do(ctx, http.MethodPost, "/swap", swapReq)
	if err != nil {
		return Result{}, fmt.Errorf("swap: %w", err)
	}
	payload := gjson.GetBytes(body, "swapTransaction").String()
	if payload == "" {
		return Result{}, fmt.Errorf("swap: %w: missing swapTransaction", ErrMalformedResponse)
	}

	sig, err := signer.SignHex(priv, payload)
	if err != nil {
		return Result{}, fmt.Errorf("sign swap transaction: %w", err)
	}

	body, err = c.do(ctx, http.MethodPost, "/submit", submitRequest{
		Transaction: payload,
		Signature:   sig.Signature,
		PublicKey:   sig.PublicKey,
	})
	if err != nil {
		return Result{}, fmt.Errorf("submit: %w", err)
	}
	parsed := gjson.ParseBytes(body)
	txID := parsed.Get("txid").String()
	if txID == "" {
		return Result{}, fmt.Errorf("submit: %w: missing txid", ErrMalformedResponse)
	}
	res := Result{TxID: txID, Confirmation: parsed.Get("confirmation").String()}

	c.log.WithField("tx_id", res.TxID).
		WithField("address", sig.Address).
		Debug("swap submitted")
	return res, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reader *bytes.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	var req *http.Request
	var err error
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	return httputil.ReadResponse(resp)
}
