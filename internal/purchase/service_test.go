package purchase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tickethub/internal/gateway"
	"tickethub/internal/status"
	"tickethub/models"
)

type MockEventStore struct {
	mock.Mock
}

func (m *MockEventStore) FindEvent(ctx context.Context, id string) (*models.Event, error) {
	args := m.Called(ctx, id)
	event, _ := args.Get(0).(*models.Event)
	return event, args.Error(1)
}

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) FindTicketType(ctx context.Context, eventID, name string) (*models.TicketType, error) {
	args := m.Called(ctx, eventID, name)
	typ, _ := args.Get(0).(*models.TicketType)
	return typ, args.Error(1)
}

func (m *MockLedger) Reserve(ctx context.Context, eventID, name string, qty int) error {
	args := m.Called(ctx, eventID, name, qty)
	return args.Error(0)
}

func (m *MockLedger) Release(ctx context.Context, eventID, name string, qty int) error {
	args := m.Called(ctx, eventID, name, qty)
	return args.Error(0)
}

func (m *MockLedger) TrackReservation(ctx context.Context, chargeID string, lines []models.CartLine) error {
	args := m.Called(ctx, chargeID, lines)
	return args.Error(0)
}

type MockRater struct {
	mock.Mock
}

func (m *MockRater) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	args := m.Called(ctx, from, to)
	rate, _ := args.Get(0).(decimal.Decimal)
	return rate, args.Error(1)
}

type MockCharger struct {
	mock.Mock
}

func (m *MockCharger) CreateCharge(ctx context.Context, form *gateway.ChargeRequest) (*gateway.CreatedCharge, error) {
	args := m.Called(ctx, form)
	created, _ := args.Get(0).(*gateway.CreatedCharge)
	return created, args.Error(1)
}

func publishedEvent(id string) *models.Event {
	return &models.Event{ID: id, Name: id, Status: "publish"}
}

func TestPurchaseRejectsInvalidRequest(t *testing.T) {
	s := NewService(new(MockEventStore), new(MockLedger), new(MockRater), new(MockCharger), nil, "https://shop.example/cb")

	_, err := s.Purchase(context.Background(), Buyer{ID: "b"}, &models.PurchaseRequest{})
	assert.ErrorIs(t, err, status.ErrInvalidRequest)
}

func TestPurchaseRejectsLineOutsideEventIDs(t *testing.T) {
	s := NewService(new(MockEventStore), new(MockLedger), new(MockRater), new(MockCharger), nil, "https://shop.example/cb")

	_, err := s.Purchase(context.Background(), Buyer{ID: "b"}, &models.PurchaseRequest{
		EventIDs: []string{"e1"},
		Tickets: []models.CartLine{
			{EventID: "e2", TicketType: "Standard", Quantity: 1},
		},
	})
	assert.ErrorIs(t, err, status.ErrInvalidRequest)
}

func TestPurchaseRejectsUnknownEvent(t *testing.T) {
	events := new(MockEventStore)
	events.On("FindEvent", mock.Anything, "e1").Return(nil, nil)

	s := NewService(events, new(MockLedger), new(MockRater), new(MockCharger), nil, "https://shop.example/cb")

	_, err := s.Purchase(context.Background(), Buyer{ID: "b"}, &models.PurchaseRequest{
		EventIDs: []string{"e1"},
		Tickets: []models.CartLine{
			{EventID: "e1", TicketType: "Standard", Quantity: 1},
		},
	})
	assert.ErrorIs(t, err, status.ErrEventNotFound)
}

func TestPurchaseRejectsClosedSalesWindow(t *testing.T) {
	closed := publishedEvent("e1")
	closed.PurchaseEnd = time.Now().Add(-time.Hour)

	events := new(MockEventStore)
	events.On("FindEvent", mock.Anything, "e1").Return(closed, nil)

	s := NewService(events, new(MockLedger), new(MockRater), new(MockCharger), nil, "https://shop.example/cb")

	_, err := s.Purchase(context.Background(), Buyer{ID: "b"}, &models.PurchaseRequest{
		EventIDs: []string{"e1"},
		Tickets: []models.CartLine{
			{EventID: "e1", TicketType: "Standard", Quantity: 1},
		},
	})
	assert.ErrorIs(t, err, status.ErrSalesClosed)
}

func TestPurchaseReleasesEarlierLinesWhenOneSellsOut(t *testing.T) {
	events := new(MockEventStore)
	events.On("FindEvent", mock.Anything, "e1").Return(publishedEvent("e1"), nil)
	events.On("FindEvent", mock.Anything, "e2").Return(publishedEvent("e2"), nil)

	ledger := new(MockLedger)
	ledger.On("FindTicketType", mock.Anything, "e1", "Standard").Return(&models.TicketType{
		Name: "Standard", Price: decimal.NewFromInt(50), Currency: "SAR",
	}, nil)
	ledger.On("FindTicketType", mock.Anything, "e2", "VIP").Return(&models.TicketType{
		Name: "VIP", Price: decimal.NewFromInt(200), Currency: "SAR",
	}, nil)
	ledger.On("Reserve", mock.Anything, "e1", "Standard", 2).Return(nil)
	ledger.On("Reserve", mock.Anything, "e2", "VIP", 4).Return(status.ErrInsufficientInventory)
	ledger.On("Release", mock.Anything, "e1", "Standard", 2).Return(nil)

	charger := new(MockCharger)

	s := NewService(events, ledger, new(MockRater), charger, nil, "https://shop.example/cb")

	_, err := s.Purchase(context.Background(), Buyer{ID: "b"}, &models.PurchaseRequest{
		EventIDs: []string{"e1", "e2"},
		Tickets: []models.CartLine{
			{EventID: "e1", TicketType: "Standard", Quantity: 2},
			{EventID: "e2", TicketType: "VIP", Quantity: 4},
		},
	})
	assert.ErrorIs(t, err, status.ErrInsufficientInventory)

	// The first line's units must go back on the shelf, and no charge
	// may be opened for an aborted cart.
	ledger.AssertCalled(t, "Release", mock.Anything, "e1", "Standard", 2)
	charger.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
}

func TestPurchaseConvertsAndCharges(t *testing.T) {
	events := new(MockEventStore)
	events.On("FindEvent", mock.Anything, "e1").Return(publishedEvent("e1"), nil)
	events.On("FindEvent", mock.Anything, "e2").Return(publishedEvent("e2"), nil)

	ledger := new(MockLedger)
	ledger.On("FindTicketType", mock.Anything, "e1", "Standard").Return(&models.TicketType{
		Name: "Standard", Price: decimal.NewFromInt(50), Currency: "SAR",
	}, nil)
	ledger.On("FindTicketType", mock.Anything, "e2", "VIP").Return(&models.TicketType{
		Name: "VIP", Price: decimal.NewFromInt(10), Currency: "USD",
	}, nil)
	ledger.On("Reserve", mock.Anything, "e1", "Standard", 2).Return(nil)
	ledger.On("Reserve", mock.Anything, "e2", "VIP", 1).Return(nil)
	ledger.On("TrackReservation", mock.Anything, "chg_7", mock.Anything).Return(nil)

	rater := new(MockRater)
	rater.On("Rate", mock.Anything, "USD", "SAR").Return(decimal.RequireFromString("3.75"), nil)

	charger := new(MockCharger)
	charger.On("CreateCharge", mock.Anything, mock.MatchedBy(func(form *gateway.ChargeRequest) bool {
		// 2x50 SAR + 1x10 USD at 3.75 = 137.50 SAR.
		return form.Currency == "SAR" && form.Amount.StringFixed(2) == "137.50"
	})).Return(&gateway.CreatedCharge{ChargeID: "chg_7", RedirectURL: "https://pay.example/chg_7"}, nil)

	s := NewService(events, ledger, rater, charger, nil, "https://shop.example/cb")

	result, err := s.Purchase(context.Background(), Buyer{ID: "buyer1", Email: "b@example.com"}, &models.PurchaseRequest{
		EventIDs: []string{"e1", "e2"},
		Tickets: []models.CartLine{
			{EventID: "e1", TicketType: "Standard", Quantity: 2},
			{EventID: "e2", TicketType: "VIP", Quantity: 1},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/chg_7", result.PaymentURL)
	assert.Empty(t, result.FreeTickets)

	ledger.AssertExpectations(t)
	rater.AssertExpectations(t)
	charger.AssertExpectations(t)
}

func TestPurchaseReleasesWhenGatewayFails(t *testing.T) {
	events := new(MockEventStore)
	events.On("FindEvent", mock.Anything, "e1").Return(publishedEvent("e1"), nil)

	ledger := new(MockLedger)
	ledger.On("FindTicketType", mock.Anything, "e1", "Standard").Return(&models.TicketType{
		Name: "Standard", Price: decimal.NewFromInt(50), Currency: "SAR",
	}, nil)
	ledger.On("Reserve", mock.Anything, "e1", "Standard", 1).Return(nil)
	ledger.On("Release", mock.Anything, "e1", "Standard", 1).Return(nil)

	charger := new(MockCharger)
	charger.On("CreateCharge", mock.Anything, mock.Anything).Return(nil, fmt.Errorf("gateway down"))

	s := NewService(events, ledger, new(MockRater), charger, nil, "https://shop.example/cb")

	_, err := s.Purchase(context.Background(), Buyer{ID: "b"}, &models.PurchaseRequest{
		EventIDs: []string{"e1"},
		Tickets: []models.CartLine{
			{EventID: "e1", TicketType: "Standard", Quantity: 1},
		},
	})
	require.Error(t, err)
	ledger.AssertCalled(t, "Release", mock.Anything, "e1", "Standard", 1)
}

func TestPurchaseIssuesFreeTicketsImmediately(t *testing.T) {
	events := new(MockEventStore)
	events.On("FindEvent", mock.Anything, "e1").Return(publishedEvent("e1"), nil)

	ledger := new(MockLedger)
	ledger.On("FindTicketType", mock.Anything, "e1", "Community").Return(&models.TicketType{
		Name: "Community", Price: decimal.Zero, Currency: "SAR",
	}, nil)
	ledger.On("Reserve", mock.Anything, "e1", "Community", 1).Return(nil)

	store := new(MockPurchaseStore)
	store.On("FindPurchaseByCharge", mock.Anything, mock.Anything).Return(nil, nil)
	store.On("CreatePurchase", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(1).(*models.Purchase).ID = "p_free"
	}).Return(nil)
	store.On("SavePurchase", mock.Anything, mock.Anything).Return(nil)

	inv := new(MockInventory)
	inv.On("FindTicketType", mock.Anything, "e1", "Community").Return(&models.TicketType{Name: "Community"}, nil)
	inv.On("ConfirmReservation", mock.Anything, mock.Anything).Return()

	issuer := new(MockIssuer)
	issuer.On("Issue", mock.Anything, "p_free", "e1", "buyer1", "Community", 1, mock.Anything).Return([]models.TicketSummary{
		{TicketID: "t1", EventID: "e1", TicketType: "Community", Quantity: 1},
	}, nil)

	db, redisMock := redismock.NewClientMock()
	// The synthetic charge id is random, so match the lock key loosely.
	redisMock.Regexp().ExpectSetNX(`reconcile:lock:free_.*`, "1", time.Minute).SetVal(true)
	redisMock.Regexp().ExpectDel(`reconcile:lock:free_.*`).SetVal(1)

	reconciler := NewReconciler(new(MockGateway), store, inv, issuer, nil, db)
	charger := new(MockCharger)

	s := NewService(events, ledger, new(MockRater), charger, reconciler, "https://shop.example/cb")

	result, err := s.Purchase(context.Background(), Buyer{ID: "buyer1"}, &models.PurchaseRequest{
		EventIDs: []string{"e1"},
		Tickets: []models.CartLine{
			{EventID: "e1", TicketType: "Community", Quantity: 1},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, result.PaymentURL)
	require.Len(t, result.FreeTickets, 1)
	assert.Equal(t, "Community", result.FreeTickets[0].TicketType)

	// A zero-total cart never reaches the payment gateway.
	charger.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
	issuer.AssertExpectations(t)
}

func TestPurchaseReleasesWhenFreeIssuanceFails(t *testing.T) {
	events := new(MockEventStore)
	events.On("FindEvent", mock.Anything, "e1").Return(publishedEvent("e1"), nil)

	ledger := new(MockLedger)
	ledger.On("FindTicketType", mock.Anything, "e1", "Community").Return(&models.TicketType{
		Name: "Community", Price: decimal.Zero, Currency: "SAR",
	}, nil)
	ledger.On("Reserve", mock.Anything, "e1", "Community", 2).Return(nil)
	ledger.On("Release", mock.Anything, "e1", "Community", 2).Return(nil)

	store := new(MockPurchaseStore)
	store.On("FindPurchaseByCharge", mock.Anything, mock.Anything).Return(nil, nil)
	store.On("CreatePurchase", mock.Anything, mock.Anything).Return(fmt.Errorf("db unavailable"))

	db, redisMock := redismock.NewClientMock()
	redisMock.Regexp().ExpectSetNX(`reconcile:lock:free_.*`, "1", time.Minute).SetVal(true)
	redisMock.Regexp().ExpectDel(`reconcile:lock:free_.*`).SetVal(1)

	reconciler := NewReconciler(new(MockGateway), store, new(MockInventory), new(MockIssuer), nil, db)

	s := NewService(events, ledger, new(MockRater), new(MockCharger), reconciler, "https://shop.example/cb")

	_, err := s.Purchase(context.Background(), Buyer{ID: "buyer1"}, &models.PurchaseRequest{
		EventIDs: []string{"e1"},
		Tickets: []models.CartLine{
			{EventID: "e1", TicketType: "Community", Quantity: 2},
		},
	})
	require.Error(t, err)

	// A failed free settlement must hand its reserved units back.
	ledger.AssertCalled(t, "Release", mock.Anything, "e1", "Community", 2)
}

// --- concurrency ---

type countingLedger struct {
	mu       sync.Mutex
	capacity int64
	sold     int64
	typ      models.TicketType
}

func (l *countingLedger) FindTicketType(context.Context, string, string) (*models.TicketType, error) {
	return &l.typ, nil
}

func (l *countingLedger) Reserve(_ context.Context, _, _ string, qty int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sold+int64(qty) > l.capacity {
		return status.ErrInsufficientInventory
	}
	l.sold += int64(qty)
	return nil
}

func (l *countingLedger) Release(_ context.Context, _, _ string, qty int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sold -= int64(qty)
	if l.sold < 0 {
		l.sold = 0
	}
	return nil
}

func (l *countingLedger) TrackReservation(context.Context, string, []models.CartLine) error {
	return nil
}

type staticEvents struct{}

func (staticEvents) FindEvent(_ context.Context, id string) (*models.Event, error) {
	return publishedEvent(id), nil
}

type sequentialCharger struct {
	calls int64
}

func (c *sequentialCharger) CreateCharge(context.Context, *gateway.ChargeRequest) (*gateway.CreatedCharge, error) {
	n := atomic.AddInt64(&c.calls, 1)
	return &gateway.CreatedCharge{
		ChargeID:    fmt.Sprintf("chg_%d", n),
		RedirectURL: fmt.Sprintf("https://pay.example/chg_%d", n),
	}, nil
}

func TestPurchaseNeverOversellsUnderConcurrency(t *testing.T) {
	ledger := &countingLedger{
		capacity: 10,
		typ:      models.TicketType{Name: "Standard", Price: decimal.NewFromInt(50), Currency: "SAR", Capacity: 10},
	}
	charger := &sequentialCharger{}

	s := NewService(staticEvents{}, ledger, new(MockRater), charger, nil, "https://shop.example/cb")

	req := &models.PurchaseRequest{
		EventIDs: []string{"e1"},
		Tickets: []models.CartLine{
			{EventID: "e1", TicketType: "Standard", Quantity: 1},
		},
	}

	const buyers = 25
	var successes int64
	var wg sync.WaitGroup
	for n := 0; n < buyers; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			result, err := s.Purchase(context.Background(), Buyer{ID: fmt.Sprintf("b%d", n)}, req)
			if err == nil && result.PaymentURL != "" {
				atomic.AddInt64(&successes, 1)
			}
		}(n)
	}
	wg.Wait()

	assert.Equal(t, int64(10), atomic.LoadInt64(&successes))
	assert.Equal(t, int64(10), ledger.sold)
}
