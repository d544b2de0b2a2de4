package payment

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/internal/mocks"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/common"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/model"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/monitoring"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/scope"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

const (
	resourceID   = "receipt-proof"
	baseUSDC     = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	sepoliaUSDC  = "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"
	merchantAddr = "0x0000000000000000000000000000000000000b0b"
)

var (
	baseAsset    = protocol.NewAssetKey(84532, baseUSDC)
	sepoliaAsset = protocol.NewAssetKey(11155111, sepoliaUSDC)
)

type eventSink struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (s *eventSink) Publish(evt protocol.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *eventSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func testPaymentConfig() model.PaymentConfig {
	return model.PaymentConfig{
		OfferTTL:       time.Minute,
		OfferRetention: time.Hour,
		GrantTTL:       time.Minute,
		Resources: []model.PaymentResourceConfig{{
			ID: resourceID,
			Offers: []model.PaymentOfferConfig{
				{Asset: "USDC", ChainID: 84532, TokenAddress: baseUSDC, PayTo: merchantAddr, Amount: "10000", Currency: "USD"},
				{Asset: "USDC", ChainID: 11155111, TokenAddress: sepoliaUSDC, PayTo: merchantAddr, Amount: "10000", Currency: "USD"},
			},
		}},
	}
}

type gateFixture struct {
	gate  *Gate
	clock *common.MockTimeProvider
	sink  *eventSink
}

func newGateFixture(t *testing.T, facilitator protocol.PaymentFacilitator) *gateFixture {
	t.Helper()
	clock := common.NewMockTimeProvider(time.Unix(1700000000, 0).UTC())
	sink := &eventSink{}
	gate, err := NewGate(GateParams{
		Config:       testPaymentConfig(),
		Facilitator:  facilitator,
		Replay:       NewInMemoryReplayStore(time.Minute, clock),
		Events:       sink,
		Monitoring:   monitoring.NewNoopCoordinatorMonitoring(),
		TimeProvider: clock,
		Logger:       logger.Sugared(logger.Test(t)),
	})
	require.NoError(t, err)
	return &gateFixture{gate: gate, clock: clock, sink: sink}
}

// newFacilitator returns a facilitator mock that never negotiates offers, so the configured offers are presented.
func newFacilitator(t *testing.T) *mocks.MockPaymentFacilitator {
	facilitator := mocks.NewMockPaymentFacilitator(t)
	facilitator.EXPECT().RequestPayIntent(mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("pay intents not supported")).Maybe()
	return facilitator
}

func proof(asset, tx string, amount int64) *protocol.PaymentProof {
	return &protocol.PaymentProof{AssetKey: asset, TxHashOrID: tx, Amount: big.NewInt(amount)}
}

func (f *gateFixture) presentOffers(t *testing.T) []*protocol.PaymentOffer {
	t.Helper()
	decision, err := f.gate.Evaluate(context.Background(), GatedRequest{ResourceID: resourceID})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	return decision.Offers
}

func TestEvaluate_PresentsEveryConfiguredOffer(t *testing.T) {
	f := newGateFixture(t, nil)

	offers := f.presentOffers(t)
	require.Len(t, offers, 2)
	require.NotEqual(t, offers[0].ID, offers[1].ID)
	require.Equal(t, baseAsset, offers[0].AssetKey())
	require.Equal(t, sepoliaAsset, offers[1].AssetKey())
	for _, o := range offers {
		require.Equal(t, resourceID, o.ResourceID)
		require.Equal(t, big.NewInt(10000), o.Amount)
		require.Equal(t, f.clock.Now().Add(time.Minute), o.Deadline)
	}

	_, err := f.gate.Evaluate(context.Background(), GatedRequest{ResourceID: "unknown"})
	require.ErrorIs(t, err, protocol.ErrUnknownEntity)
}

func TestEvaluate_NegotiatesOffersWithFacilitator(t *testing.T) {
	facilitator := mocks.NewMockPaymentFacilitator(t)
	f := newGateFixture(t, facilitator)

	facilitator.EXPECT().RequestPayIntent(mock.Anything, resourceID, baseAsset).
		Return(&protocol.PaymentOffer{Amount: big.NewInt(7500), PayTo: "0x0000000000000000000000000000000000000c0c"}, nil).Once()
	facilitator.EXPECT().RequestPayIntent(mock.Anything, resourceID, sepoliaAsset).
		Return(nil, protocol.ErrIndeterminate).Once()

	offers := f.presentOffers(t)
	require.Len(t, offers, 2)
	require.Equal(t, big.NewInt(7500), offers[0].Amount)
	require.Equal(t, "0x0000000000000000000000000000000000000c0c", offers[0].PayTo)
	require.Equal(t, baseAsset, offers[0].AssetKey())
	require.Equal(t, big.NewInt(10000), offers[1].Amount, "failed negotiation falls back to the configured offer")
}

func TestVerifyProof_GrantAllowsExactlyOneRequest(t *testing.T) {
	facilitator := newFacilitator(t)
	f := newGateFixture(t, facilitator)
	ctx := context.Background()

	f.presentOffers(t)
	facilitator.EXPECT().VerifyPayment(mock.Anything, baseAsset, "0xpaid", big.NewInt(10000)).
		Return(&protocol.PaymentVerification{OK: true}, nil).Once()

	grant, err := f.gate.VerifyProof(ctx, resourceID, proof(strings.ToUpper(baseAsset), "0xpaid", 10000))
	require.NoError(t, err)
	require.Equal(t, resourceID, grant.ResourceID)
	require.Equal(t, "0xpaid", grant.TxHashOrID)
	require.Equal(t, 1, f.sink.count())

	decision, err := f.gate.Evaluate(ctx, GatedRequest{ResourceID: resourceID, GrantToken: grant.Token})
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Equal(t, grant.Token, decision.Grant.Token)

	decision, err = f.gate.Evaluate(ctx, GatedRequest{ResourceID: resourceID, GrantToken: grant.Token})
	require.NoError(t, err)
	require.False(t, decision.Allowed, "a grant is consumed by the first request")
	require.Len(t, decision.Offers, 2)

	_, err = f.gate.VerifyProof(ctx, resourceID, proof(baseAsset, "0xpaid", 10000))
	require.ErrorIs(t, err, protocol.ErrPaymentReplay)
}

func TestVerifyProof_ReplayIgnoresReferenceSpelling(t *testing.T) {
	facilitator := newFacilitator(t)
	f := newGateFixture(t, facilitator)
	ctx := context.Background()
	f.presentOffers(t)

	facilitator.EXPECT().VerifyPayment(mock.Anything, baseAsset, "0xabcdef0123", big.NewInt(10000)).
		Return(&protocol.PaymentVerification{OK: true}, nil).Once()

	grant, err := f.gate.VerifyProof(ctx, resourceID, proof(baseAsset, "0xabcdef0123", 10000))
	require.NoError(t, err)
	require.Equal(t, "0xabcdef0123", grant.TxHashOrID)

	for _, tx := range []string{"0xABCDEF0123", " 0xabcdef0123", "0XAbCdEf0123\n"} {
		_, err := f.gate.VerifyProof(ctx, resourceID, proof(baseAsset, tx, 10000))
		require.ErrorIs(t, err, protocol.ErrPaymentReplay, "tx %q", tx)
	}
	require.Equal(t, 1, f.sink.count())
}

func TestVerifyProof_ReplayAfterOfferExpiry(t *testing.T) {
	facilitator := newFacilitator(t)
	f := newGateFixture(t, facilitator)
	ctx := context.Background()
	f.presentOffers(t)

	facilitator.EXPECT().VerifyPayment(mock.Anything, baseAsset, "0xaa", mock.Anything).
		Return(&protocol.PaymentVerification{OK: true}, nil).Once()
	_, err := f.gate.VerifyProof(ctx, resourceID, proof(baseAsset, "0xaa", 10000))
	require.NoError(t, err)

	f.clock.AdvanceTime(2 * time.Minute)

	_, err = f.gate.VerifyProof(ctx, resourceID, proof(baseAsset, "0xaa", 10000))
	require.ErrorIs(t, err, protocol.ErrPaymentReplay)
	require.NotErrorIs(t, err, protocol.ErrOfferExpired)

	_, err = f.gate.VerifyProof(ctx, resourceID, proof(baseAsset, "0xbb", 10000))
	require.ErrorIs(t, err, protocol.ErrOfferExpired)
}

func TestCanonicalPaymentRef(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "0xABCdef", want: "0xabcdef"},
		{in: "  0Xab  ", want: "0xab"},
		{in: "pay_AbC123", want: "pay_AbC123"},
		{in: "   ", want: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, canonicalPaymentRef(tt.in), tt.in)
	}
}

func TestVerifyProof_GrantIsBoundToResourceAndExpires(t *testing.T) {
	facilitator := newFacilitator(t)
	f := newGateFixture(t, facilitator)
	f.gate.cfg.Resources = append(f.gate.cfg.Resources, model.PaymentResourceConfig{ID: "other", Offers: f.gate.cfg.Resources[0].Offers})
	ctx := context.Background()

	f.presentOffers(t)
	facilitator.EXPECT().VerifyPayment(mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&protocol.PaymentVerification{OK: true}, nil).Twice()

	grant, err := f.gate.VerifyProof(ctx, resourceID, proof(baseAsset, "0x1", 10000))
	require.NoError(t, err)
	decision, err := f.gate.Evaluate(ctx, GatedRequest{ResourceID: "other", GrantToken: grant.Token})
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	grant, err = f.gate.VerifyProof(ctx, resourceID, proof(baseAsset, "0x2", 10000))
	require.NoError(t, err)
	f.clock.AdvanceTime(2 * time.Minute)
	decision, err = f.gate.Evaluate(ctx, GatedRequest{ResourceID: resourceID, GrantToken: grant.Token})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
}

func TestVerifyProof_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *gateFixture)
		proof   *protocol.PaymentProof
		wantErr error
	}{
		{
			name:    "no offer presented",
			proof:   proof(baseAsset, "0x1", 10000),
			wantErr: protocol.ErrNoMatchingOffer,
		},
		{
			name:    "asset not offered",
			setup:   func(f *gateFixture) { f.presentOffers(t) },
			proof:   proof(protocol.NewAssetKey(1, baseUSDC), "0x1", 10000),
			wantErr: protocol.ErrNoMatchingOffer,
		},
		{
			name:    "amount below offer",
			setup:   func(f *gateFixture) { f.presentOffers(t) },
			proof:   proof(baseAsset, "0x1", 9999),
			wantErr: protocol.ErrInsufficientPayment,
		},
		{
			name: "offer past deadline",
			setup: func(f *gateFixture) {
				f.presentOffers(t)
				f.clock.AdvanceTime(time.Minute)
			},
			proof:   proof(baseAsset, "0x1", 10000),
			wantErr: protocol.ErrOfferExpired,
		},
		{
			name:    "missing amount",
			proof:   &protocol.PaymentProof{AssetKey: baseAsset, TxHashOrID: "0x1"},
			wantErr: protocol.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGateFixture(t, newFacilitator(t))
			if tt.setup != nil {
				tt.setup(f)
			}
			_, err := f.gate.VerifyProof(context.Background(), resourceID, tt.proof)
			require.ErrorIs(t, err, tt.wantErr)
			require.False(t, protocol.IsRetryable(err))
		})
	}
}

func TestVerifyProof_FailsClosedWithoutFacilitator(t *testing.T) {
	f := newGateFixture(t, nil)
	f.presentOffers(t)
	_, err := f.gate.VerifyProof(context.Background(), resourceID, proof(baseAsset, "0x1", 10000))
	require.ErrorIs(t, err, protocol.ErrNotConfigured)
}

func TestVerifyProof_IndeterminateDoesNotConsumeProof(t *testing.T) {
	facilitator := newFacilitator(t)
	f := newGateFixture(t, facilitator)
	ctx := context.Background()
	f.presentOffers(t)

	facilitator.EXPECT().VerifyPayment(mock.Anything, baseAsset, "0x1", mock.Anything).Return(nil, protocol.ErrIndeterminate).Once()
	_, err := f.gate.VerifyProof(ctx, resourceID, proof(baseAsset, "0x1", 10000))
	require.ErrorIs(t, err, protocol.ErrIndeterminate)
	require.True(t, protocol.IsRetryable(err))
	require.NotErrorIs(t, err, protocol.ErrPaymentUnverifiable)

	facilitator.EXPECT().VerifyPayment(mock.Anything, baseAsset, "0x1", mock.Anything).Return(&protocol.PaymentVerification{OK: true}, nil).Once()
	_, err = f.gate.VerifyProof(ctx, resourceID, proof(baseAsset, "0x1", 10000))
	require.NoError(t, err)
}

func TestVerifyProof_FacilitatorRejection(t *testing.T) {
	facilitator := newFacilitator(t)
	f := newGateFixture(t, facilitator)
	ctx := context.Background()
	f.presentOffers(t)

	facilitator.EXPECT().VerifyPayment(mock.Anything, baseAsset, "0x1", mock.Anything).Return(&protocol.PaymentVerification{OK: false}, nil).Once()
	_, err := f.gate.VerifyProof(ctx, resourceID, proof(baseAsset, "0x1", 10000))
	require.ErrorIs(t, err, protocol.ErrPaymentUnverifiable)

	facilitator.EXPECT().VerifyPayment(mock.Anything, baseAsset, "0x1", mock.Anything).Return(nil, errors.New("signature invalid")).Once()
	_, err = f.gate.VerifyProof(ctx, resourceID, proof(baseAsset, "0x1", 10000))
	require.ErrorIs(t, err, protocol.ErrPaymentUnverifiable)
	require.Zero(t, f.sink.count())
}

func TestVerifyProof_ConcurrentProofsOfOnePayment(t *testing.T) {
	facilitator := newFacilitator(t)
	f := newGateFixture(t, facilitator)
	f.presentOffers(t)

	facilitator.EXPECT().VerifyPayment(mock.Anything, baseAsset, "0x1", mock.Anything).
		RunAndReturn(func(context.Context, string, string, *big.Int) (*protocol.PaymentVerification, error) {
			time.Sleep(50 * time.Millisecond)
			return &protocol.PaymentVerification{OK: true}, nil
		}).Once()

	var wg sync.WaitGroup
	var accepted atomic.Int32
	for range 5 {
		wg.Go(func() {
			_, err := f.gate.VerifyProof(context.Background(), resourceID, proof(baseAsset, "0x1", 10000))
			if err == nil {
				accepted.Add(1)
				return
			}
			assert.True(t, errors.Is(err, protocol.ErrPaymentInFlight) || errors.Is(err, protocol.ErrPaymentReplay), err)
		})
	}
	wg.Wait()
	require.Equal(t, int32(1), accepted.Load())
}

func TestRequestStateTracking(t *testing.T) {
	facilitator := newFacilitator(t)
	f := newGateFixture(t, facilitator)

	paid := scope.WithGivenRequestID(context.Background(), "req-paid")
	rejected := scope.WithGivenRequestID(context.Background(), "req-rejected")
	require.Equal(t, RequestStateUnpaid, f.gate.RequestState("req-paid"))

	_, err := f.gate.Evaluate(paid, GatedRequest{ResourceID: resourceID})
	require.NoError(t, err)
	require.Equal(t, RequestStateOfferPresented, f.gate.RequestState("req-paid"))

	facilitator.EXPECT().VerifyPayment(mock.Anything, baseAsset, "0x1", mock.Anything).
		RunAndReturn(func(context.Context, string, string, *big.Int) (*protocol.PaymentVerification, error) {
			require.Equal(t, RequestStateProofSubmitted, f.gate.RequestState("req-paid"))
			return &protocol.PaymentVerification{OK: true}, nil
		}).Once()
	_, err = f.gate.VerifyProof(paid, resourceID, proof(baseAsset, "0x1", 10000))
	require.NoError(t, err)
	require.Equal(t, RequestStateVerified, f.gate.RequestState("req-paid"))

	_, err = f.gate.VerifyProof(rejected, resourceID, proof(baseAsset, "0x1", 10000))
	require.ErrorIs(t, err, protocol.ErrPaymentReplay)
	require.Equal(t, RequestStateRejected, f.gate.RequestState("req-rejected"))
}
