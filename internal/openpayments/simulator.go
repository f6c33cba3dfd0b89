package openpayments

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/pocket-pay/pocket_pay/internal/asset"
)

const defaultSimPageSize = 10

// Simulator is an in-process provider used by tests and local development.
// It mirrors the remote grant protocol faithfully: outgoing-payment grants
// stay pending until AuthorizeInteraction is called, continuation before
// approval yields a still-pending grant, and payment listings paginate.
type Simulator struct {
	mu       sync.Mutex
	pageSize int
	quoteFee int64
	seq      int

	wallets      map[string]WalletAddress
	grants       map[string]*simGrant
	tokens       map[string]bool
	quotes       map[string]Quote
	incoming     map[string][]*IncomingPayment
	outgoing     map[string][]*OutgoingPayment
	incomingByID map[string]*IncomingPayment

	nextOutgoingErr error
}

type simGrant struct {
	continueURI   string
	continueToken string
	interactive   bool
	authorized    bool
	expired       bool
}

// NewSimulator builds an empty simulated provider.
func NewSimulator() *Simulator {
	return &Simulator{
		pageSize:     defaultSimPageSize,
		wallets:      make(map[string]WalletAddress),
		grants:       make(map[string]*simGrant),
		tokens:       make(map[string]bool),
		quotes:       make(map[string]Quote),
		incoming:     make(map[string][]*IncomingPayment),
		outgoing:     make(map[string][]*OutgoingPayment),
		incomingByID: make(map[string]*IncomingPayment),
	}
}

// SetPageSize caps listing pages so pagination paths get exercised.
func (s *Simulator) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.pageSize = n
	}
}

// SetQuoteFee adds a flat atomic fee to every quoted debit amount.
func (s *Simulator) SetQuoteFee(atomic int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quoteFee = atomic
}

// RegisterWallet provisions a wallet address on the simulated provider.
func (s *Simulator) RegisterWallet(url, assetCode string, assetScale int32) WalletAddress {
	s.mu.Lock()
	defer s.mu.Unlock()
	wa := WalletAddress{
		ID:             url,
		AssetCode:      assetCode,
		AssetScale:     assetScale,
		AuthServer:     url + "/auth",
		ResourceServer: url,
	}
	s.wallets[url] = wa
	return wa
}

// WalletAddress implements Client.
func (s *Simulator) WalletAddress(_ context.Context, url string) (WalletAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wa, ok := s.wallets[url]
	if !ok {
		return WalletAddress{}, &Error{Status: http.StatusNotFound, Code: "unknown_wallet", Description: url}
	}
	return wa, nil
}

// RequestGrant implements Client. Interactive requests come back pending.
func (s *Simulator) RequestGrant(_ context.Context, authServer, _ string, req GrantRequest) (Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	if req.Interactive {
		g := &simGrant{
			continueURI:   fmt.Sprintf("%s/continue/%d", authServer, s.seq),
			continueToken: fmt.Sprintf("cont-%d", s.seq),
			interactive:   true,
		}
		s.grants[g.continueToken] = g
		return Grant{
			ContinueURI:         g.continueURI,
			ContinueToken:       g.continueToken,
			InteractRedirectURL: fmt.Sprintf("%s/interact/%d", authServer, s.seq),
		}, nil
	}

	token := fmt.Sprintf("tok-%d", s.seq)
	s.tokens[token] = true
	return Grant{AccessToken: token}, nil
}

// AuthorizeInteraction simulates the human opening the interact URL and
// clicking approve.
func (s *Simulator) AuthorizeInteraction(continueToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[continueToken]
	if !ok {
		return fmt.Errorf("unknown continuation token %q", continueToken)
	}
	g.authorized = true
	return nil
}

// ExpireGrant makes further continuation of the grant report expiry.
func (s *Simulator) ExpireGrant(continueToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.grants[continueToken]; ok {
		g.expired = true
	}
}

// ContinueGrant implements Client.
func (s *Simulator) ContinueGrant(_ context.Context, continueURI, continueToken string) (Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[continueToken]
	if !ok {
		return Grant{}, &Error{Status: http.StatusNotFound, Code: "unknown_continuation"}
	}
	if g.expired {
		return Grant{}, &Error{Status: http.StatusGone, Code: "grant_expired"}
	}
	if !g.authorized {
		return Grant{ContinueURI: continueURI, ContinueToken: continueToken}, nil
	}

	s.seq++
	token := fmt.Sprintf("tok-%d", s.seq)
	s.tokens[token] = true
	return Grant{AccessToken: token}, nil
}

// CreateIncomingPayment implements Client.
func (s *Simulator) CreateIncomingPayment(_ context.Context, resourceServer, accessToken string, in NewIncomingPayment) (IncomingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkToken(accessToken); err != nil {
		return IncomingPayment{}, err
	}

	s.seq++
	p := &IncomingPayment{
		ID:             fmt.Sprintf("%s/incoming-payments/%d", resourceServer, s.seq),
		WalletAddress:  in.WalletAddress,
		IncomingAmount: in.IncomingAmount,
		ReceivedAmount: asset.New(0, in.IncomingAmount.AssetCode, in.IncomingAmount.AssetScale),
		Metadata:       in.Metadata,
		CreatedAt:      time.Now().UTC(),
	}
	s.incoming[in.WalletAddress] = append([]*IncomingPayment{p}, s.incoming[in.WalletAddress]...)
	s.incomingByID[p.ID] = p
	return *p, nil
}

// CreateQuote implements Client. The quoted debit amount is the receiver's
// incoming amount plus the configured fee.
func (s *Simulator) CreateQuote(_ context.Context, resourceServer, accessToken string, in NewQuote) (Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkToken(accessToken); err != nil {
		return Quote{}, err
	}
	target, ok := s.incomingByID[in.Receiver]
	if !ok {
		return Quote{}, &Error{Status: http.StatusNotFound, Code: "unknown_receiver", Description: in.Receiver}
	}

	receive := target.IncomingAmount
	atomic, err := receive.Atomic()
	if err != nil {
		return Quote{}, &Error{Status: http.StatusBadRequest, Code: "invalid_amount", Description: err.Error()}
	}

	s.seq++
	q := Quote{
		ID:            fmt.Sprintf("%s/quotes/%d", resourceServer, s.seq),
		WalletAddress: in.WalletAddress,
		Receiver:      in.Receiver,
		DebitAmount:   asset.New(atomic+s.quoteFee, receive.AssetCode, receive.AssetScale),
		ReceiveAmount: receive,
		CreatedAt:     time.Now().UTC(),
	}
	s.quotes[q.ID] = q
	return q, nil
}

// FailNextOutgoing makes the next CreateOutgoingPayment call fail with err.
func (s *Simulator) FailNextOutgoing(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOutgoingErr = err
}

// CreateOutgoingPayment implements Client. Settling the debit also credits
// the receiving incoming payment, as the provider network would.
func (s *Simulator) CreateOutgoingPayment(_ context.Context, resourceServer, accessToken string, in NewOutgoingPayment) (OutgoingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nextOutgoingErr != nil {
		err := s.nextOutgoingErr
		s.nextOutgoingErr = nil
		return OutgoingPayment{}, err
	}
	if err := s.checkToken(accessToken); err != nil {
		return OutgoingPayment{}, err
	}
	q, ok := s.quotes[in.QuoteID]
	if !ok {
		return OutgoingPayment{}, &Error{Status: http.StatusNotFound, Code: "unknown_quote", Description: in.QuoteID}
	}

	s.seq++
	p := &OutgoingPayment{
		ID:            fmt.Sprintf("%s/outgoing-payments/%d", resourceServer, s.seq),
		WalletAddress: in.WalletAddress,
		QuoteID:       q.ID,
		Receiver:      q.Receiver,
		DebitAmount:   q.DebitAmount,
		SentAmount:    q.ReceiveAmount,
		Metadata:      in.Metadata,
		CreatedAt:     time.Now().UTC(),
	}
	s.outgoing[in.WalletAddress] = append([]*OutgoingPayment{p}, s.outgoing[in.WalletAddress]...)

	if target, ok := s.incomingByID[q.Receiver]; ok {
		target.ReceivedAmount = q.ReceiveAmount
		target.Completed = true
	}
	return *p, nil
}

// SeedIncomingPayment injects historical provider state for tests.
func (s *Simulator) SeedIncomingPayment(walletID string, amount asset.Amount, completed bool, createdAt time.Time, description string) IncomingPayment {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	p := &IncomingPayment{
		ID:             fmt.Sprintf("%s/incoming-payments/seed-%d", walletID, s.seq),
		WalletAddress:  walletID,
		Completed:      completed,
		IncomingAmount: amount,
		ReceivedAmount: amount,
		CreatedAt:      createdAt,
	}
	if description != "" {
		p.Metadata = &Metadata{Description: description}
	}
	s.incoming[walletID] = insertDescending(s.incoming[walletID], p, func(x *IncomingPayment) time.Time { return x.CreatedAt })
	s.incomingByID[p.ID] = p
	return *p
}

// SeedOutgoingPayment injects historical provider state for tests.
func (s *Simulator) SeedOutgoingPayment(walletID string, amount asset.Amount, failed bool, createdAt time.Time, receiver string) OutgoingPayment {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	p := &OutgoingPayment{
		ID:            fmt.Sprintf("%s/outgoing-payments/seed-%d", walletID, s.seq),
		WalletAddress: walletID,
		Receiver:      receiver,
		Failed:        failed,
		DebitAmount:   amount,
		SentAmount:    amount,
		CreatedAt:     createdAt,
	}
	s.outgoing[walletID] = insertDescending(s.outgoing[walletID], p, func(x *OutgoingPayment) time.Time { return x.CreatedAt })
	return *p
}

// ListIncomingPayments implements Client.
func (s *Simulator) ListIncomingPayments(_ context.Context, _, accessToken, walletAddress string, opts ListOptions) (IncomingPaymentPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkToken(accessToken); err != nil {
		return IncomingPaymentPage{}, err
	}
	items, next, err := paginate(s.incoming[walletAddress], opts, s.pageSize)
	if err != nil {
		return IncomingPaymentPage{}, err
	}
	page := IncomingPaymentPage{NextCursor: next}
	for _, p := range items {
		page.Result = append(page.Result, *p)
	}
	return page, nil
}

// ListOutgoingPayments implements Client.
func (s *Simulator) ListOutgoingPayments(_ context.Context, _, accessToken, walletAddress string, opts ListOptions) (OutgoingPaymentPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkToken(accessToken); err != nil {
		return OutgoingPaymentPage{}, err
	}
	items, next, err := paginate(s.outgoing[walletAddress], opts, s.pageSize)
	if err != nil {
		return OutgoingPaymentPage{}, err
	}
	page := OutgoingPaymentPage{NextCursor: next}
	for _, p := range items {
		page.Result = append(page.Result, *p)
	}
	return page, nil
}

func (s *Simulator) checkToken(token string) error {
	if !s.tokens[token] {
		return &Error{Status: http.StatusUnauthorized, Code: "invalid_access_token"}
	}
	return nil
}

func insertDescending[T any](list []*T, item *T, at func(*T) time.Time) []*T {
	ts := at(item)
	for i, existing := range list {
		// Zero timestamps sort as most recent.
		if ts.IsZero() || (!at(existing).IsZero() && ts.After(at(existing))) {
			return append(list[:i], append([]*T{item}, list[i:]...)...)
		}
	}
	return append(list, item)
}

func paginate[T any](list []*T, opts ListOptions, pageSize int) ([]*T, string, error) {
	start := 0
	if opts.Cursor != "" {
		n, err := strconv.Atoi(opts.Cursor)
		if err != nil || n < 0 {
			return nil, "", &Error{Status: http.StatusBadRequest, Code: "invalid_cursor", Description: opts.Cursor}
		}
		start = n
	}
	if start >= len(list) {
		return nil, "", nil
	}

	limit := pageSize
	if opts.Limit > 0 && opts.Limit < limit {
		limit = opts.Limit
	}
	end := start + limit
	if end > len(list) {
		end = len(list)
	}

	next := ""
	if end < len(list) {
		next = strconv.Itoa(end)
	}
	return list[start:end], next, nil
}
