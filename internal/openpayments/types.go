package openpayments

import (
	"context"
	"fmt"
	"time"

	"github.com/pocket-pay/pocket_pay/internal/asset"
)

// WalletAddress describes a payment account exposed by the provider. The
// auth server issues grants for it and the resource server hosts its
// payment resources.
type WalletAddress struct {
	ID             string `json:"id"`
	PublicName     string `json:"publicName,omitempty"`
	AssetCode      string `json:"assetCode"`
	AssetScale     int32  `json:"assetScale"`
	AuthServer     string `json:"authServer"`
	ResourceServer string `json:"resourceServer"`
}

// Grant is the flattened view of a grant response. A finalized grant carries
// an access token; a pending grant carries only the continuation handle and
// the URL a human must visit to approve it.
type Grant struct {
	AccessToken         string
	ManageURL           string
	ContinueURI         string
	ContinueToken       string
	InteractRedirectURL string
}

// Finalized reports whether the grant is immediately usable.
func (g Grant) Finalized() bool { return g.AccessToken != "" }

// Pending reports whether the grant still awaits out-of-band approval.
func (g Grant) Pending() bool { return g.AccessToken == "" && g.ContinueURI != "" }

// AccessLimits scopes what an access token may spend.
type AccessLimits struct {
	DebitAmount *asset.Amount `json:"debitAmount,omitempty"`
}

// AccessItem is one requested capability inside a grant request.
type AccessItem struct {
	Type       string        `json:"type"`
	Actions    []string      `json:"actions"`
	Identifier string        `json:"identifier,omitempty"`
	Limits     *AccessLimits `json:"limits,omitempty"`
}

// GrantRequest captures a grant negotiation against an auth server.
// Interactive requests start a redirect interaction and are expected to come
// back pending.
type GrantRequest struct {
	Access      []AccessItem
	Interactive bool
}

// Metadata carries free-form payment annotations.
type Metadata struct {
	Description string `json:"description,omitempty"`
}

// IncomingPayment is a receiver-side resource representing an expected credit.
type IncomingPayment struct {
	ID             string       `json:"id"`
	WalletAddress  string       `json:"walletAddress"`
	Completed      bool         `json:"completed"`
	IncomingAmount asset.Amount `json:"incomingAmount"`
	ReceivedAmount asset.Amount `json:"receivedAmount"`
	Metadata       *Metadata    `json:"metadata,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// Quote is a binding commitment for moving funds; its debit amount is
// authoritative and may include provider fees or FX on top of the requested
// receive amount.
type Quote struct {
	ID            string       `json:"id"`
	WalletAddress string       `json:"walletAddress"`
	Receiver      string       `json:"receiver"`
	DebitAmount   asset.Amount `json:"debitAmount"`
	ReceiveAmount asset.Amount `json:"receiveAmount"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// OutgoingPayment is a sender-side resource that executes a debit once its
// grant has been authorized.
type OutgoingPayment struct {
	ID            string       `json:"id"`
	WalletAddress string       `json:"walletAddress"`
	QuoteID       string       `json:"quoteId,omitempty"`
	Receiver      string       `json:"receiver"`
	Failed        bool         `json:"failed"`
	DebitAmount   asset.Amount `json:"debitAmount"`
	SentAmount    asset.Amount `json:"sentAmount"`
	Metadata      *Metadata    `json:"metadata,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// NewIncomingPayment is the creation payload for an incoming payment.
type NewIncomingPayment struct {
	WalletAddress  string       `json:"walletAddress"`
	IncomingAmount asset.Amount `json:"incomingAmount"`
	Metadata       *Metadata    `json:"metadata,omitempty"`
}

// NewQuote is the creation payload for a quote.
type NewQuote struct {
	WalletAddress string `json:"walletAddress"`
	Receiver      string `json:"receiver"`
	Method        string `json:"method"`
}

// NewOutgoingPayment is the creation payload for an outgoing payment.
type NewOutgoingPayment struct {
	WalletAddress string    `json:"walletAddress"`
	QuoteID       string    `json:"quoteId"`
	Metadata      *Metadata `json:"metadata,omitempty"`
}

// IncomingPaymentPage is one page of an incoming payment listing.
type IncomingPaymentPage struct {
	Result     []IncomingPayment `json:"result"`
	NextCursor string            `json:"-"`
}

// OutgoingPaymentPage is one page of an outgoing payment listing.
type OutgoingPaymentPage struct {
	Result     []OutgoingPayment `json:"result"`
	NextCursor string            `json:"-"`
}

// ListOptions control pagination of payment listings.
type ListOptions struct {
	Cursor string
	Limit  int
}

// Error is a structured failure reported by the provider.
type Error struct {
	Status      int    `json:"-"`
	Code        string `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
}

func (e *Error) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("provider responded %d %s: %s", e.Status, e.Code, e.Description)
	}
	return fmt.Sprintf("provider responded %d %s", e.Status, e.Code)
}

// Expired reports whether the provider considers the referenced grant gone.
func (e *Error) Expired() bool {
	return e.Status == 410 || e.Code == "grant_expired"
}

// Client is the provider surface consumed by the negotiator, the payment
// orchestrator and the reconciliation engine. All resources are addressed by
// full URL and authorized with grant access tokens.
type Client interface {
	WalletAddress(ctx context.Context, url string) (WalletAddress, error)
	RequestGrant(ctx context.Context, authServer, clientWallet string, req GrantRequest) (Grant, error)
	ContinueGrant(ctx context.Context, continueURI, continueToken string) (Grant, error)
	CreateIncomingPayment(ctx context.Context, resourceServer, accessToken string, in NewIncomingPayment) (IncomingPayment, error)
	ListIncomingPayments(ctx context.Context, resourceServer, accessToken, walletAddress string, opts ListOptions) (IncomingPaymentPage, error)
	CreateQuote(ctx context.Context, resourceServer, accessToken string, in NewQuote) (Quote, error)
	CreateOutgoingPayment(ctx context.Context, resourceServer, accessToken string, in NewOutgoingPayment) (OutgoingPayment, error)
	ListOutgoingPayments(ctx context.Context, resourceServer, accessToken, walletAddress string, opts ListOptions) (OutgoingPaymentPage, error)
}
