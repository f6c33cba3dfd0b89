package openpayments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTimeout = 30 * time.Second

	incomingPaymentsPath = "/incoming-payments"
	outgoingPaymentsPath = "/outgoing-payments"
	quotesPath           = "/quotes"
)

// Config identifies this service to the provider.
type Config struct {
	// WalletAddressURL is the wallet address this client acts as.
	WalletAddressURL string
	// KeyID and PrivateKeyPath identify the signing key registered with the
	// provider for this client.
	KeyID          string
	PrivateKeyPath string
	Timeout        time.Duration
}

// HTTPClient talks to a remote Open Payments provider over HTTP. Resource
// calls authenticate with the grant access token for that resource; grant
// requests identify the acting client wallet.
type HTTPClient struct {
	http   *http.Client
	cfg    Config
	logger *slog.Logger
}

// NewHTTPClient builds a provider client from configuration.
func NewHTTPClient(cfg Config, logger *slog.Logger) (*HTTPClient, error) {
	if cfg.WalletAddressURL == "" {
		return nil, fmt.Errorf("client wallet address url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		http:   &http.Client{Timeout: timeout},
		cfg:    cfg,
		logger: logger,
	}, nil
}

// ClientWallet returns the wallet address URL this client acts as.
func (c *HTTPClient) ClientWallet() string { return c.cfg.WalletAddressURL }

// WalletAddress fetches the public description of a wallet address.
func (c *HTTPClient) WalletAddress(ctx context.Context, addr string) (WalletAddress, error) {
	var wa WalletAddress
	if err := c.do(ctx, http.MethodGet, addr, "", nil, &wa); err != nil {
		return WalletAddress{}, err
	}
	if wa.ResourceServer == "" {
		// Older providers host resources on the wallet address origin itself.
		wa.ResourceServer = strings.TrimSuffix(addr, "/")
	}
	return wa, nil
}

type grantWireRequest struct {
	AccessToken struct {
		Access []AccessItem `json:"access"`
	} `json:"access_token"`
	Client   string `json:"client"`
	Interact *struct {
		Start []string `json:"start"`
	} `json:"interact,omitempty"`
}

type grantWireResponse struct {
	AccessToken *struct {
		Value  string `json:"value"`
		Manage string `json:"manage,omitempty"`
	} `json:"access_token,omitempty"`
	Continue *struct {
		AccessToken struct {
			Value string `json:"value"`
		} `json:"access_token"`
		URI string `json:"uri"`
	} `json:"continue,omitempty"`
	Interact *struct {
		Redirect string `json:"redirect"`
	} `json:"interact,omitempty"`
}

func (r grantWireResponse) grant() Grant {
	var g Grant
	if r.AccessToken != nil {
		g.AccessToken = r.AccessToken.Value
		g.ManageURL = r.AccessToken.Manage
	}
	if r.Continue != nil {
		g.ContinueURI = r.Continue.URI
		g.ContinueToken = r.Continue.AccessToken.Value
	}
	if r.Interact != nil {
		g.InteractRedirectURL = r.Interact.Redirect
	}
	return g
}

// RequestGrant negotiates a grant against the wallet's auth server.
func (c *HTTPClient) RequestGrant(ctx context.Context, authServer, clientWallet string, req GrantRequest) (Grant, error) {
	body := grantWireRequest{Client: clientWallet}
	body.AccessToken.Access = req.Access
	if req.Interactive {
		body.Interact = &struct {
			Start []string `json:"start"`
		}{Start: []string{"redirect"}}
	}

	var resp grantWireResponse
	if err := c.do(ctx, http.MethodPost, authServer, "", body, &resp); err != nil {
		return Grant{}, err
	}
	return resp.grant(), nil
}

// ContinueGrant polls the continuation endpoint of a pending grant. While the
// human has not approved the interaction, providers answer with a grant that
// is still pending.
func (c *HTTPClient) ContinueGrant(ctx context.Context, continueURI, continueToken string) (Grant, error) {
	var resp grantWireResponse
	if err := c.do(ctx, http.MethodPost, continueURI, continueToken, struct{}{}, &resp); err != nil {
		return Grant{}, err
	}
	g := resp.grant()
	if g.ContinueURI == "" {
		g.ContinueURI = continueURI
		g.ContinueToken = continueToken
	}
	return g, nil
}

// CreateIncomingPayment creates a receiver-side payment resource.
func (c *HTTPClient) CreateIncomingPayment(ctx context.Context, resourceServer, accessToken string, in NewIncomingPayment) (IncomingPayment, error) {
	var out IncomingPayment
	err := c.do(ctx, http.MethodPost, resourceServer+incomingPaymentsPath, accessToken, in, &out)
	return out, err
}

// CreateQuote creates a quote on the sender's resource server.
func (c *HTTPClient) CreateQuote(ctx context.Context, resourceServer, accessToken string, in NewQuote) (Quote, error) {
	var out Quote
	err := c.do(ctx, http.MethodPost, resourceServer+quotesPath, accessToken, in, &out)
	return out, err
}

// CreateOutgoingPayment creates the sender-side debit resource.
func (c *HTTPClient) CreateOutgoingPayment(ctx context.Context, resourceServer, accessToken string, in NewOutgoingPayment) (OutgoingPayment, error) {
	var out OutgoingPayment
	err := c.do(ctx, http.MethodPost, resourceServer+outgoingPaymentsPath, accessToken, in, &out)
	return out, err
}

type pageWire[T any] struct {
	Result     []T `json:"result"`
	Pagination struct {
		Next        string `json:"next,omitempty"`
		HasNextPage bool   `json:"hasNextPage"`
	} `json:"pagination"`
}

// ListIncomingPayments retrieves one page of incoming payments for a wallet.
func (c *HTTPClient) ListIncomingPayments(ctx context.Context, resourceServer, accessToken, walletAddress string, opts ListOptions) (IncomingPaymentPage, error) {
	var wire pageWire[IncomingPayment]
	u := listURL(resourceServer+incomingPaymentsPath, walletAddress, opts)
	if err := c.do(ctx, http.MethodGet, u, accessToken, nil, &wire); err != nil {
		return IncomingPaymentPage{}, err
	}
	page := IncomingPaymentPage{Result: wire.Result}
	if wire.Pagination.HasNextPage {
		page.NextCursor = wire.Pagination.Next
	}
	return page, nil
}

// ListOutgoingPayments retrieves one page of outgoing payments for a wallet.
func (c *HTTPClient) ListOutgoingPayments(ctx context.Context, resourceServer, accessToken, walletAddress string, opts ListOptions) (OutgoingPaymentPage, error) {
	var wire pageWire[OutgoingPayment]
	u := listURL(resourceServer+outgoingPaymentsPath, walletAddress, opts)
	if err := c.do(ctx, http.MethodGet, u, accessToken, nil, &wire); err != nil {
		return OutgoingPaymentPage{}, err
	}
	page := OutgoingPaymentPage{Result: wire.Result}
	if wire.Pagination.HasNextPage {
		page.NextCursor = wire.Pagination.Next
	}
	return page, nil
}

func listURL(base, walletAddress string, opts ListOptions) string {
	q := url.Values{}
	q.Set("wallet-address", walletAddress)
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}
	if opts.Limit > 0 {
		q.Set("first", strconv.Itoa(opts.Limit))
	}
	return base + "?" + q.Encode()
}

func (c *HTTPClient) do(ctx context.Context, method, rawURL, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "GNAP "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		provErr := &Error{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if err := json.Unmarshal(raw, provErr); err != nil && len(raw) > 0 {
			provErr.Description = strings.TrimSpace(string(raw))
		}
		if c.logger != nil {
			c.logger.Warn("provider call failed", "method", method, "url", rawURL, "status", resp.StatusCode, "code", provErr.Code)
		}
		return provErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", rawURL, err)
	}
	return nil
}
