package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/common"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/model"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/scope"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

const cacheCleanupInterval = time.Minute

type GateParams struct {
	Config model.PaymentConfig
	// Facilitator may be nil. Proofs are then rejected with protocol.ErrNotConfigured.
	Facilitator  protocol.PaymentFacilitator
	Replay       ReplayStore
	Events       common.EventSink
	Monitoring   common.CoordinatorMonitoring
	TimeProvider common.TimeProvider
	Logger       logger.SugaredLogger
}

// Gate decides whether a request for a gated resource may proceed. Every accepted proof yields a
// grant that allows exactly one request.
type Gate struct {
	cfg          model.PaymentConfig
	facilitator  protocol.PaymentFacilitator
	replay       ReplayStore
	events       common.EventSink
	monitoring   common.CoordinatorMonitoring
	timeProvider common.TimeProvider
	lggr         logger.SugaredLogger

	// offers maps offer id to *protocol.PaymentOffer. Entries outlive their deadline by
	// OfferRetention so a late proof is reported as expired rather than unmatched.
	offers *cache.Cache
	// grants maps grant token to *protocol.PaymentGrant.
	grants   *cache.Cache
	grantsMu sync.Mutex
	// states maps request id to RequestState.
	states *cache.Cache
}

func NewGate(p GateParams) (*Gate, error) {
	if p.Replay == nil {
		return nil, errors.New("replay store is required")
	}
	if p.TimeProvider == nil {
		p.TimeProvider = common.NewRealTimeProvider()
	}
	for _, r := range p.Config.Resources {
		for _, o := range r.Offers {
			if _, err := o.ParsedAmount(); err != nil {
				return nil, fmt.Errorf("resource %s: %w", r.ID, err)
			}
		}
	}

	return &Gate{
		cfg:          p.Config,
		facilitator:  p.Facilitator,
		replay:       p.Replay,
		events:       p.Events,
		monitoring:   p.Monitoring,
		timeProvider: p.TimeProvider,
		lggr:         p.Logger,
		offers:       cache.New(p.Config.OfferTTL+p.Config.OfferRetention, cacheCleanupInterval),
		grants:       cache.New(p.Config.GrantTTL, cacheCleanupInterval),
		states:       cache.New(p.Config.OfferTTL+p.Config.OfferRetention, cacheCleanupInterval),
	}, nil
}

// Gates reports whether resourceID is a configured payment gated resource.
func (g *Gate) Gates(resourceID string) bool {
	_, ok := g.cfg.Resource(resourceID)
	return ok
}

func (g *Gate) logger(ctx context.Context) logger.SugaredLogger {
	return scope.AugmentLogger(ctx, g.lggr)
}

// Evaluate allows req when it carries an unused grant for the resource. Otherwise it returns every
// acceptable offer for the resource.
func (g *Gate) Evaluate(ctx context.Context, req GatedRequest) (*Decision, error) {
	ctx = scope.WithResourceID(ctx, req.ResourceID)
	resource, ok := g.cfg.Resource(req.ResourceID)
	if !ok {
		return nil, fmt.Errorf("%w: gated resource %q", protocol.ErrUnknownEntity, req.ResourceID)
	}
	metrics := g.monitoring.Metrics()

	if req.GrantToken != "" {
		grant, err := g.consumeGrant(req.GrantToken, req.ResourceID)
		if err == nil {
			g.setState(ctx, RequestStateVerified)
			metrics.IncrementPaymentDecisions(ctx, "allowed")
			g.logger(ctx).Debugw("Request allowed by grant", "txHashOrId", grant.TxHashOrID)
			return &Decision{Allowed: true, State: RequestStateVerified, Grant: grant}, nil
		}
		g.logger(ctx).Infow("Grant not usable, payment required", "reason", err)
	}

	offers := g.presentOffers(ctx, resource)
	g.setState(ctx, RequestStateOfferPresented)
	metrics.IncrementPaymentDecisions(ctx, "payment_required")
	return &Decision{State: RequestStateOfferPresented, Offers: offers}, nil
}

// presentOffers builds one offer per configured template. When a facilitator is configured it
// negotiates each offer, falling back to the template when negotiation fails.
func (g *Gate) presentOffers(ctx context.Context, resource model.PaymentResourceConfig) []*protocol.PaymentOffer {
	now := g.timeProvider.Now()
	offers := make([]*protocol.PaymentOffer, 0, len(resource.Offers))
	for _, tmpl := range resource.Offers {
		amount, _ := tmpl.ParsedAmount()
		offer := &protocol.PaymentOffer{
			ResourceID:   resource.ID,
			Asset:        tmpl.Asset,
			ChainID:      protocol.ChainSelector(tmpl.ChainID),
			TokenAddress: tmpl.TokenAddress,
			PayTo:        tmpl.PayTo,
			Amount:       amount,
			Currency:     tmpl.Currency,
			Deadline:     now.Add(g.cfg.OfferTTL),
		}
		if g.facilitator != nil {
			offer = g.negotiate(ctx, offer)
		}
		offer.ID = uuid.NewString()
		g.offers.Set(offer.ID, offer, cache.DefaultExpiration)
		offers = append(offers, offer)
	}
	return offers
}

func (g *Gate) negotiate(ctx context.Context, tmpl *protocol.PaymentOffer) *protocol.PaymentOffer {
	negotiated, err := g.facilitator.RequestPayIntent(ctx, tmpl.ResourceID, tmpl.AssetKey())
	if err != nil || negotiated == nil {
		g.logger(ctx).Warnw("Pay intent negotiation failed, presenting configured offer", "assetKey", tmpl.AssetKey(), "error", err)
		return tmpl
	}

	offer := *negotiated
	offer.ResourceID = tmpl.ResourceID
	if offer.Asset == "" {
		offer.Asset = tmpl.Asset
	}
	if offer.ChainID == 0 || offer.TokenAddress == "" {
		offer.ChainID, offer.TokenAddress = tmpl.ChainID, tmpl.TokenAddress
	}
	if offer.PayTo == "" {
		offer.PayTo = tmpl.PayTo
	}
	if offer.Amount == nil || offer.Amount.Sign() <= 0 {
		offer.Amount = tmpl.Amount
	}
	if offer.Currency == "" {
		offer.Currency = tmpl.Currency
	}
	if offer.Deadline.IsZero() || offer.Deadline.After(tmpl.Deadline) {
		offer.Deadline = tmpl.Deadline
	}
	return &offer
}

// VerifyProof checks proof against the outstanding offers of the resource and the facilitator.
// An accepted proof is consumed and yields a single-use grant. When the facilitator outcome is
// unknown the proof is not consumed and a retryable error is returned.
func (g *Gate) VerifyProof(ctx context.Context, resourceID string, proof *protocol.PaymentProof) (*protocol.PaymentGrant, error) {
	ctx = scope.WithResourceID(ctx, resourceID)
	g.setState(ctx, RequestStateProofSubmitted)

	grant, err := g.verifyProof(ctx, resourceID, proof)
	metrics := g.monitoring.Metrics()
	switch {
	case err == nil:
		g.setState(ctx, RequestStateVerified)
		metrics.IncrementPaymentDecisions(ctx, "verified")
	case protocol.IsRetryable(err):
		metrics.IncrementPaymentDecisions(ctx, "indeterminate")
		g.logger(ctx).Warnw("Payment verification indeterminate", "error", err)
	default:
		g.setState(ctx, RequestStateRejected)
		metrics.IncrementPaymentDecisions(ctx, "rejected")
		g.logger(ctx).Infow("Payment proof rejected", "error", err)
	}
	return grant, err
}

func (g *Gate) verifyProof(ctx context.Context, resourceID string, proof *protocol.PaymentProof) (*protocol.PaymentGrant, error) {
	if g.facilitator == nil {
		return nil, fmt.Errorf("%w: payment facilitator", protocol.ErrNotConfigured)
	}
	var ref string
	if proof != nil {
		ref = canonicalPaymentRef(proof.TxHashOrID)
	}
	if ref == "" || proof.AssetKey == "" || proof.Amount == nil || proof.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: proof requires assetKey, txHashOrId and a positive amount", protocol.ErrInvalidInput)
	}
	if _, ok := g.cfg.Resource(resourceID); !ok {
		return nil, fmt.Errorf("%w: gated resource %q", protocol.ErrUnknownEntity, resourceID)
	}
	assetKey := strings.ToLower(proof.AssetKey)

	// Reserved before offer matching: a consumed reference is a replay even once its offer expired.
	if err := g.replay.Reserve(ctx, ref); err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			if err := g.replay.Release(context.WithoutCancel(ctx), ref); err != nil {
				g.logger(ctx).Warnw("Failed to release payment reservation", "txHashOrId", ref, "error", err)
			}
		}
	}()

	offer, err := g.matchOffer(resourceID, assetKey, proof.Amount)
	if err != nil {
		return nil, err
	}

	verification, err := g.facilitator.VerifyPayment(ctx, assetKey, ref, new(big.Int).Set(proof.Amount))
	switch {
	case err != nil && (protocol.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded)):
		return nil, fmt.Errorf("%w: payment verification: %w", protocol.ErrIndeterminate, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", protocol.ErrPaymentUnverifiable, err)
	case verification == nil || !verification.OK:
		return nil, fmt.Errorf("%w: facilitator rejected %s", protocol.ErrPaymentUnverifiable, ref)
	}

	if err := g.replay.Commit(ctx, ref); err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrIndeterminate, err)
	}
	committed = true

	now := g.timeProvider.Now()
	grant := &protocol.PaymentGrant{
		Token:      uuid.NewString(),
		ResourceID: resourceID,
		TxHashOrID: ref,
		OfferID:    offer.ID,
		IssuedAt:   now,
		ExpiresAt:  now.Add(g.cfg.GrantTTL),
	}
	g.grants.Set(grant.Token, grant, cache.DefaultExpiration)

	g.logger(ctx).Infow("Payment accepted", "offerId", offer.ID, "assetKey", assetKey, "txHashOrId", ref)
	if g.events != nil {
		g.events.Publish(protocol.Event{
			Type:     protocol.EventTypePaymentVerified,
			EntityID: resourceID,
			Data: protocol.PaymentAccepted{
				ResourceID: resourceID,
				AssetKey:   assetKey,
				TxHashOrID: ref,
			},
		})
	}
	return grant, nil
}

// canonicalPaymentRef normalizes a transaction reference so every spelling of one payment
// shares a replay key. 0x-prefixed hex is case-insensitive; other facilitator ids are kept as given.
func canonicalPaymentRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if len(ref) > 2 && (ref[:2] == "0x" || ref[:2] == "0X") {
		return strings.ToLower(ref)
	}
	return ref
}

// matchOffer returns an unexpired offer of the resource in the proof asset whose amount is covered.
func (g *Gate) matchOffer(resourceID, assetKey string, amount *big.Int) (*protocol.PaymentOffer, error) {
	now := g.timeProvider.Now()
	var matched, expired, insufficient bool
	var best *protocol.PaymentOffer

	for _, item := range g.offers.Items() {
		offer, ok := item.Object.(*protocol.PaymentOffer)
		if !ok || offer.ResourceID != resourceID || offer.AssetKey() != assetKey {
			continue
		}
		matched = true
		switch {
		case offer.IsExpired(now):
			expired = true
		case offer.Amount.Cmp(amount) > 0:
			insufficient = true
		case best == nil || offer.Deadline.After(best.Deadline):
			best = offer
		}
	}

	switch {
	case best != nil:
		return best, nil
	case !matched:
		return nil, fmt.Errorf("%w: resource %s asset %s", protocol.ErrNoMatchingOffer, resourceID, assetKey)
	case insufficient:
		return nil, fmt.Errorf("%w: %s is below the offered amount", protocol.ErrInsufficientPayment, amount)
	case expired:
		return nil, fmt.Errorf("%w: resource %s asset %s", protocol.ErrOfferExpired, resourceID, assetKey)
	default:
		return nil, fmt.Errorf("%w: resource %s asset %s", protocol.ErrNoMatchingOffer, resourceID, assetKey)
	}
}

func (g *Gate) consumeGrant(token, resourceID string) (*protocol.PaymentGrant, error) {
	g.grantsMu.Lock()
	defer g.grantsMu.Unlock()

	v, ok := g.grants.Get(token)
	if !ok {
		return nil, fmt.Errorf("%w: grant", protocol.ErrUnknownEntity)
	}
	grant, ok := v.(*protocol.PaymentGrant)
	if !ok || grant.ResourceID != resourceID {
		return nil, fmt.Errorf("%w: grant for resource %s", protocol.ErrUnknownEntity, resourceID)
	}
	g.grants.Delete(token)
	if !g.timeProvider.Now().Before(grant.ExpiresAt) {
		return nil, fmt.Errorf("grant expired at %s", grant.ExpiresAt.Format(time.RFC3339))
	}
	return grant, nil
}

// RequestState returns the protocol state of the request with the given id.
func (g *Gate) RequestState(requestID string) RequestState {
	if v, ok := g.states.Get(requestID); ok {
		if st, ok := v.(RequestState); ok {
			return st
		}
	}
	return RequestStateUnpaid
}

func (g *Gate) setState(ctx context.Context, st RequestState) {
	if id := scope.RequestID(ctx); id != "" {
		g.states.Set(id, st, cache.DefaultExpiration)
	}
}
