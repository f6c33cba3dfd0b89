package grants

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pocket-pay/pocket_pay/internal/asset"
	"github.com/pocket-pay/pocket_pay/internal/openpayments"
)

// Kind identifies the provider resource a grant is scoped to.
type Kind string

const (
	KindIncomingPayment Kind = "incoming-payment"
	KindQuote           Kind = "quote"
	KindOutgoingPayment Kind = "outgoing-payment"
)

var (
	// ErrGrantNotFinalized signals the grant is not usable yet. For pending
	// interactive grants this is the expected "still waiting for the human"
	// state and callers should retry later; it is not an alarm.
	ErrGrantNotFinalized = errors.New("grant not finalized")

	// ErrGrantExpired indicates the provider reports the grant as gone; the
	// flow must be restarted rather than retried.
	ErrGrantExpired = errors.New("grant expired")

	// ErrProtocolViolation indicates the provider answered in a shape the
	// protocol does not allow at that step.
	ErrProtocolViolation = errors.New("provider protocol violation")
)

// Options tune a grant request.
type Options struct {
	// DebitLimit scopes an outgoing-payment grant to at most this amount.
	DebitLimit *asset.Amount
	// Identifier restricts the grant to one wallet address.
	Identifier string
}

// Negotiator requests, continues and inspects authorization grants against
// wallet auth servers.
type Negotiator struct {
	client       openpayments.Client
	clientWallet string
	logger       *slog.Logger
}

// NewNegotiator builds a negotiator acting as the given client wallet.
func NewNegotiator(client openpayments.Client, clientWallet string, logger *slog.Logger) *Negotiator {
	return &Negotiator{client: client, clientWallet: clientWallet, logger: logger}
}

// Request negotiates a grant for the payment flow. Incoming-payment and
// quote grants must come back finalized. Outgoing-payment grants always
// start a redirect interaction and must come back pending with a complete
// continuation handle.
func (n *Negotiator) Request(ctx context.Context, wallet openpayments.WalletAddress, kind Kind, actions []string, opts *Options) (openpayments.Grant, error) {
	item := openpayments.AccessItem{Type: string(kind), Actions: actions}
	interactive := kind == KindOutgoingPayment
	if opts != nil {
		item.Identifier = opts.Identifier
		if opts.DebitLimit != nil {
			item.Limits = &openpayments.AccessLimits{DebitAmount: opts.DebitLimit}
		}
	}

	grant, err := n.client.RequestGrant(ctx, wallet.AuthServer, n.clientWallet, openpayments.GrantRequest{
		Access:      []openpayments.AccessItem{item},
		Interactive: interactive,
	})
	if err != nil {
		return openpayments.Grant{}, fmt.Errorf("request %s grant: %w", kind, err)
	}

	if !interactive {
		if !grant.Finalized() {
			return openpayments.Grant{}, fmt.Errorf("%w: %s grant came back pending", ErrGrantNotFinalized, kind)
		}
		return grant, nil
	}

	if !grant.Pending() || grant.ContinueToken == "" || grant.InteractRedirectURL == "" {
		return openpayments.Grant{}, fmt.Errorf("%w: expected pending %s grant with continuation and interact redirect", ErrProtocolViolation, kind)
	}
	n.logger.Debug("interactive grant pending", "kind", string(kind), "interact_url", grant.InteractRedirectURL)
	return grant, nil
}

// RequestReadOnly negotiates a finalized list/read grant used by
// reconciliation. Listing moves no money, so interaction is never started;
// a provider that still answers pending leaves the grant unusable and the
// caller sees ErrGrantNotFinalized.
func (n *Negotiator) RequestReadOnly(ctx context.Context, wallet openpayments.WalletAddress, kind Kind, actions []string) (openpayments.Grant, error) {
	item := openpayments.AccessItem{Type: string(kind), Actions: actions}
	if kind == KindOutgoingPayment {
		item.Identifier = wallet.ID
	}

	grant, err := n.client.RequestGrant(ctx, wallet.AuthServer, n.clientWallet, openpayments.GrantRequest{
		Access: []openpayments.AccessItem{item},
	})
	if err != nil {
		return openpayments.Grant{}, fmt.Errorf("request %s list grant: %w", kind, err)
	}
	if !grant.Finalized() {
		return openpayments.Grant{}, fmt.Errorf("%w: %s list grant came back pending", ErrGrantNotFinalized, kind)
	}
	return grant, nil
}

// Continue resumes a pending grant after (presumed) human approval. A grant
// the provider still holds pending maps to ErrGrantNotFinalized so callers
// can retry; provider-reported expiry maps to ErrGrantExpired.
func (n *Negotiator) Continue(ctx context.Context, continueURI, continueToken string) (openpayments.Grant, error) {
	grant, err := n.client.ContinueGrant(ctx, continueURI, continueToken)
	if err != nil {
		var provErr *openpayments.Error
		if errors.As(err, &provErr) && provErr.Expired() {
			return openpayments.Grant{}, fmt.Errorf("%w: %s", ErrGrantExpired, provErr.Description)
		}
		return openpayments.Grant{}, fmt.Errorf("continue grant: %w", err)
	}
	if !grant.Finalized() {
		return openpayments.Grant{}, fmt.Errorf("%w: authorization not completed", ErrGrantNotFinalized)
	}
	return grant, nil
}
