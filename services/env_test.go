package services_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/tablesync/models"
	"github.com/yeremiapane/tablesync/services"
	"github.com/yeremiapane/tablesync/testutil"
	"github.com/yeremiapane/tablesync/utils"
	"gorm.io/gorm"
)

var testStart = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fakePOS struct {
	mu    sync.Mutex
	block bool
	fail  error
	calls []services.POSOrderRequest
}

func (f *fakePOS) PlaceOrder(ctx context.Context, req services.POSOrderRequest) (*services.POSResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	block, fail := f.block, f.fail
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail != nil {
		return nil, fail
	}
	return &services.POSResult{Reference: "POS-" + req.IdempotencyKey, Status: "confirmed"}, nil
}

func (f *fakePOS) set(block bool, fail error) {
	f.mu.Lock()
	f.block, f.fail = block, fail
	f.mu.Unlock()
}

func (f *fakePOS) Calls() []services.POSOrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]services.POSOrderRequest(nil), f.calls...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []services.OrderEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e services.OrderEvent) error {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type env struct {
	db     *gorm.DB
	fx     *testutil.Fixture
	clock  *testutil.Clock
	diners *testutil.Recorder
	admins *testutil.Recorder
	qr     utils.QRSigner
	tokens *utils.TokenIssuer
	pos    *fakePOS
	events *recordingPublisher

	sessions *services.SessionService
	carts    *services.CartService
	orders   *services.OrderService
	tables   *services.TableService
	waiters  *services.WaiterService
	staff    *services.StaffService
	admin    *services.AdminPrincipal
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.NewDB(t)
	e := &env{
		db:     db,
		fx:     testutil.Seed(t, db),
		clock:  testutil.NewClock(testStart),
		diners: &testutil.Recorder{},
		admins: &testutil.Recorder{},
		qr:     utils.NewQRSigner("qr-secret"),
		pos:    &fakePOS{},
		events: &recordingPublisher{},
	}
	e.tokens = utils.NewTokenIssuer("jwt-secret").WithClock(e.clock.Now)
	notify := services.Notifier{Diners: e.diners, Admins: e.admins}

	e.sessions = &services.SessionService{
		DB: db, QR: e.qr, Tokens: e.tokens, Notify: notify,
		TokenTTL: 3 * time.Hour, RefreshWindow: 15 * time.Minute, Now: e.clock.Now,
	}
	e.carts = &services.CartService{DB: db, Notify: notify, Now: e.clock.Now}
	e.orders = &services.OrderService{
		DB: db, Notify: notify, POS: e.pos, Events: e.events,
		POSTimeout: 50 * time.Millisecond, Now: e.clock.Now,
	}
	e.tables = &services.TableService{DB: db, Notify: notify, Now: e.clock.Now}
	e.waiters = &services.WaiterService{DB: db, Notify: notify, Now: e.clock.Now}
	e.staff = &services.StaffService{DB: db, Tokens: e.tokens, TokenTTL: 12 * time.Hour, BcryptCost: 4, Now: e.clock.Now}
	e.admin = &services.AdminPrincipal{StaffID: e.fx.Staff.ID, RestaurantID: e.fx.Restaurant.ID, Role: e.fx.Staff.Role}
	return e
}

func (e *env) joinResult(t *testing.T, table models.Table, device string) *services.JoinResult {
	t.Helper()
	res, err := e.sessions.Join(context.Background(), services.JoinRequest{
		TablePID: table.PID,
		Token:    e.qr.CreateQRToken(table.RestaurantID, table.ID),
		DeviceID: device,
	})
	require.NoError(t, err)
	return res
}

func (e *env) join(t *testing.T, table models.Table, device string) *services.Principal {
	t.Helper()
	res := e.joinResult(t, table, device)
	p, err := e.sessions.Authenticate(context.Background(), res.WSToken)
	require.NoError(t, err)
	return p
}

// reload refreshes a principal after its session changed underneath it.
func (e *env) reload(t *testing.T, p *services.Principal) *services.Principal {
	t.Helper()
	fresh, err := e.sessions.Authenticate(context.Background(), p.Token)
	require.NoError(t, err)
	return fresh
}

func (e *env) addItem(t *testing.T, p *services.Principal, in services.CreateItemInput) *models.CartItemView {
	t.Helper()
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	view, err := e.carts.Create(context.Background(), p, in)
	require.NoError(t, err)
	return view
}

func (e *env) cartHash(t *testing.T, p *services.Principal) string {
	t.Helper()
	snap, err := e.carts.Snapshot(context.Background(), p.Session.ID)
	require.NoError(t, err)
	return snap.CartHash
}

func (e *env) item(t *testing.T, id uint) models.CartItem {
	t.Helper()
	var item models.CartItem
	require.NoError(t, e.db.First(&item, id).Error)
	return item
}

// sessionState loads into a fresh value; reusing a struct would add its
// primary key to the next query.
func (e *env) sessionState(t *testing.T, id uint) string {
	t.Helper()
	var session models.Session
	require.NoError(t, e.db.First(&session, id).Error)
	return session.State
}

func requireCode(t *testing.T, err error, kind services.Kind, code string) *services.Error {
	t.Helper()
	require.Error(t, err)
	svcErr, ok := services.AsError(err)
	require.True(t, ok, "expected a service error, got %v", err)
	require.Equal(t, kind, svcErr.Kind, "kind of %v", err)
	require.Equal(t, code, svcErr.Code)
	return svcErr
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }
func uintPtr(v uint) *uint    { return &v }
func device(i int) string     { return fmt.Sprintf("device-%03d", i) }
func errInjected() error      { return errors.New("injected failure") }
