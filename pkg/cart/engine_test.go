package cart_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-storefront/pkg/cart"
	"github.com/illmade-knight/go-storefront/pkg/identity"
)

// stubProvider is a minimal identity.Provider: it runs calls with the
// held token and performs no refresh logic.
type stubProvider struct {
	mu   sync.Mutex
	user *identity.User
}

func (p *stubProvider) CurrentUser() *identity.User {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.user
}

func (p *stubProvider) SetUser(user *identity.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = user
}

func (p *stubProvider) RunAuthenticated(ctx context.Context, fn func(ctx context.Context, accessToken string) error) error {
	user := p.CurrentUser()
	if user == nil {
		return identity.ErrNotAuthenticated
	}
	return fn(ctx, user.AccessToken)
}

func anonymous() *stubProvider {
	return &stubProvider{}
}

func signedIn() *stubProvider {
	return &stubProvider{user: &identity.User{AccessToken: "token", RefreshToken: "refresh"}}
}

// fakeBackend is an in-memory Backend with failure injection and call
// counting.
type fakeBackend struct {
	mu    sync.Mutex
	items []cart.RemoteItem

	failAll bool

	listCalls   atomic.Int32
	addCalls    atomic.Int32
	updateCalls atomic.Int32
	removeCalls atomic.Int32
	clearCalls  atomic.Int32

	// listGates block individual List calls (keyed by call number)
	// until released, so tests can force overlapping fetches. Each
	// gated call announces itself on listStarted after snapshotting
	// the current items.
	listGates   map[int]chan struct{}
	listStarted chan int
}

var errBackendDown = errors.New("backend down")

func (b *fakeBackend) List(ctx context.Context) ([]cart.RemoteItem, error) {
	call := int(b.listCalls.Add(1))

	b.mu.Lock()
	out := make([]cart.RemoteItem, len(b.items))
	copy(out, b.items)
	b.mu.Unlock()

	if gate, ok := b.listGates[call]; ok {
		if b.listStarted != nil {
			b.listStarted <- call
		}
		<-gate
	}
	if b.failAll {
		return nil, errBackendDown
	}
	return out, nil
}

func (b *fakeBackend) Add(ctx context.Context, productID string, quantity int, engrave string) error {
	b.addCalls.Add(1)
	if b.failAll {
		return errBackendDown
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, cart.RemoteItem{
		ID:        uuid.NewString(),
		ProductID: productID,
		UnitPrice: 500_000,
		Quantity:  quantity,
		Engrave:   engrave,
	})
	return nil
}

func (b *fakeBackend) UpdateQuantity(ctx context.Context, id string, quantity int) error {
	b.updateCalls.Add(1)
	if b.failAll {
		return errBackendDown
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.items {
		if b.items[i].ID == id {
			b.items[i].Quantity = quantity
		}
	}
	return nil
}

func (b *fakeBackend) Remove(ctx context.Context, id string) error {
	b.removeCalls.Add(1)
	if b.failAll {
		return errBackendDown
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.items {
		if b.items[i].ID == id {
			b.items = append(b.items[:i], b.items[i+1:]...)
			break
		}
	}
	return nil
}

func (b *fakeBackend) Clear(ctx context.Context) error {
	b.clearCalls.Add(1)
	if b.failAll {
		return errBackendDown
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = nil
	return nil
}

func braceletDesign() cart.CustomDesign {
	return cart.CustomDesign{
		ProductID:  "bracelet-01",
		TemplateID: "template-sport",
		Colors:     cart.Colors{Band: "navy", Face: "white", Rim: "silver"},
		Accessories: []cart.Accessory{
			{AccessoryID: "charm-star", Position: 1},
			{AccessoryID: "charm-moon", Position: 3},
		},
		Engrave:   "for Minh",
		UnitPrice: 1_200_000,
	}
}

func newGuestEngine(t *testing.T) (*cart.Engine, *fakeBackend, *cart.MemoryStore) {
	t.Helper()
	backend := &fakeBackend{}
	store := cart.NewMemoryStore()
	engine := cart.NewEngine(backend, store, anonymous(), zerolog.Nop())
	return engine, backend, store
}

func TestEngine_AddCustomDesignDeduplicates(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newGuestEngine(t)

	engine.AddCustomDesign(ctx, braceletDesign())
	engine.AddCustomDesign(ctx, braceletDesign())

	items := engine.Items()
	require.Len(t, items, 1, "the same configuration twice must merge into one line item")
	assert.Equal(t, 2, items[0].Quantity)
	assert.Equal(t, int64(2_400_000), engine.TotalPrice())
	assert.Equal(t, 2, engine.TotalItems())
}

func TestEngine_AddCustomDesignAccessoryOrderInsensitive(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newGuestEngine(t)

	design := braceletDesign()
	reordered := braceletDesign()
	reordered.Accessories[0], reordered.Accessories[1] = reordered.Accessories[1], reordered.Accessories[0]

	engine.AddCustomDesign(ctx, design)
	engine.AddCustomDesign(ctx, reordered)

	require.Len(t, engine.Items(), 1)
	assert.Equal(t, 2, engine.Items()[0].Quantity)
}

func TestEngine_DistinctConfigurationsStaySeparate(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newGuestEngine(t)

	engine.AddCustomDesign(ctx, braceletDesign())
	other := braceletDesign()
	other.Engrave = "for Lan"
	engine.AddCustomDesign(ctx, other)

	assert.Len(t, engine.Items(), 2)
}

func TestEngine_GuestPersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	engine, backend, store := newGuestEngine(t)

	engine.AddCustomDesign(ctx, braceletDesign())
	engine.AddByProductID(ctx, "bracelet-02", 3, "")

	// A page reload re-hydrates a fresh engine from durable storage.
	reloaded := cart.NewEngine(backend, store, anonymous(), zerolog.Nop())
	require.NoError(t, reloaded.Hydrate(ctx))

	assert.Equal(t, engine.Items(), reloaded.Items())
	assert.Equal(t, 0, int(backend.listCalls.Load()), "anonymous sessions never touch the backend")
}

func TestEngine_GuestCatalogAddMergesByProductAndEngraving(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newGuestEngine(t)

	engine.AddByProductID(ctx, "bracelet-02", 1, "happy birthday")
	engine.AddByProductID(ctx, "bracelet-02", 2, "happy birthday")
	engine.AddByProductID(ctx, "bracelet-02", 1, "")

	items := engine.Items()
	require.Len(t, items, 2)
	assert.Equal(t, 3, items[0].Quantity)
	assert.Equal(t, int64(0), items[0].Design.UnitPrice, "placeholder items carry no authoritative price")
}

func TestEngine_QuantityFloorRemovesItem(t *testing.T) {
	ctx := context.Background()

	for _, quantity := range []int{0, -5} {
		engine, _, _ := newGuestEngine(t)
		engine.AddCustomDesign(ctx, braceletDesign())
		id := engine.Items()[0].ID

		engine.SetQuantity(ctx, id, quantity)

		assert.Empty(t, engine.Items(), "quantity %d must remove the item, never keep it", quantity)
	}
}

func TestEngine_FetchCartMergesLocalDesigns(t *testing.T) {
	ctx := context.Background()
	remoteID := uuid.NewString()
	backend := &fakeBackend{items: []cart.RemoteItem{
		{ID: remoteID, ProductID: "bracelet-02", UnitPrice: 800_000, Quantity: 1},
	}}
	engine := cart.NewEngine(backend, cart.NewMemoryStore(), signedIn(), zerolog.Nop())

	engine.AddCustomDesign(ctx, braceletDesign())
	require.NoError(t, engine.FetchCart(ctx))

	// The backend reprices the remote item.
	backend.mu.Lock()
	backend.items[0].UnitPrice = 900_000
	backend.items[0].Quantity = 2
	backend.mu.Unlock()
	require.NoError(t, engine.FetchCart(ctx))

	items := engine.Items()
	require.Len(t, items, 2)

	var remote, local *cart.LineItem
	for i := range items {
		if items[i].ID == remoteID {
			remote = &items[i]
		} else {
			local = &items[i]
		}
	}
	require.NotNil(t, remote, "the remote item must survive reconciliation")
	require.NotNil(t, local, "the local custom design must be spliced back in")
	assert.Equal(t, int64(900_000), remote.Design.UnitPrice)
	assert.Equal(t, 2, remote.Quantity)
	assert.Equal(t, "template-sport", local.Design.TemplateID)
}

func TestEngine_FetchCartNoOpWhenAnonymous(t *testing.T) {
	ctx := context.Background()
	engine, backend, _ := newGuestEngine(t)

	require.NoError(t, engine.FetchCart(ctx))
	assert.Equal(t, int32(0), backend.listCalls.Load())
}

func TestEngine_LoginDiscardsAnonymousPlaceholders(t *testing.T) {
	ctx := context.Background()
	provider := anonymous()
	backend := &fakeBackend{}
	engine := cart.NewEngine(backend, cart.NewMemoryStore(), provider, zerolog.Nop())

	engine.AddCustomDesign(ctx, braceletDesign())
	engine.AddByProductID(ctx, "bracelet-02", 1, "")
	require.Len(t, engine.Items(), 2)

	provider.SetUser(&identity.User{AccessToken: "token"})
	require.NoError(t, engine.FetchCart(ctx))

	items := engine.Items()
	require.Len(t, items, 1, "catalog placeholders without a template are dropped on login")
	assert.Equal(t, "template-sport", items[0].Design.TemplateID)
}

func TestEngine_RemoveClassifiesByIDShape(t *testing.T) {
	ctx := context.Background()
	remoteID := uuid.NewString()
	backend := &fakeBackend{items: []cart.RemoteItem{
		{ID: remoteID, ProductID: "bracelet-02", UnitPrice: 800_000, Quantity: 1},
	}}
	engine := cart.NewEngine(backend, cart.NewMemoryStore(), signedIn(), zerolog.Nop())

	engine.AddCustomDesign(ctx, braceletDesign())
	require.NoError(t, engine.FetchCart(ctx))
	require.Len(t, engine.Items(), 2)

	// Removing the local item must not reach the backend even while
	// authenticated.
	var localID string
	for _, item := range engine.Items() {
		if item.IsLocal() {
			localID = item.ID
		}
	}
	engine.RemoveItem(ctx, localID)
	assert.Equal(t, int32(0), backend.removeCalls.Load())
	require.Len(t, engine.Items(), 1)

	// Removing the remote item routes to the backend and re-fetches.
	engine.RemoveItem(ctx, remoteID)
	assert.Equal(t, int32(1), backend.removeCalls.Load())
	assert.Empty(t, engine.Items())
}

func TestEngine_BackendFailureFallsBackOptimistically(t *testing.T) {
	ctx := context.Background()
	remoteID := uuid.NewString()
	backend := &fakeBackend{items: []cart.RemoteItem{
		{ID: remoteID, ProductID: "bracelet-02", UnitPrice: 800_000, Quantity: 1},
	}}
	engine := cart.NewEngine(backend, cart.NewMemoryStore(), signedIn(), zerolog.Nop())
	require.NoError(t, engine.FetchCart(ctx))
	require.False(t, engine.Degraded())

	backend.failAll = true
	engine.SetQuantity(ctx, remoteID, 4)

	// The mutation is applied locally so the UI is never broken, and
	// the degraded state is surfaced for the caller to inspect.
	items := engine.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 4, items[0].Quantity)
	assert.True(t, engine.Degraded())

	// The next successful reconciliation restores authoritative state.
	backend.failAll = false
	require.NoError(t, engine.FetchCart(ctx))
	assert.Equal(t, 1, engine.Items()[0].Quantity)
	assert.False(t, engine.Degraded())
}

func TestEngine_ClearCartRemovesLocalItemsToo(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{items: []cart.RemoteItem{
		{ID: uuid.NewString(), ProductID: "bracelet-02", UnitPrice: 800_000, Quantity: 1},
	}}
	engine := cart.NewEngine(backend, cart.NewMemoryStore(), signedIn(), zerolog.Nop())
	engine.AddCustomDesign(ctx, braceletDesign())
	require.NoError(t, engine.FetchCart(ctx))

	engine.ClearCart(ctx)

	assert.Empty(t, engine.Items())
	assert.Equal(t, int32(1), backend.clearCalls.Load())
}

func TestEngine_StaleFetchResultDiscarded(t *testing.T) {
	ctx := context.Background()
	staleID := uuid.NewString()
	freshID := uuid.NewString()

	gate1 := make(chan struct{})
	gate2 := make(chan struct{})
	backend := &fakeBackend{
		items:       []cart.RemoteItem{{ID: staleID, ProductID: "bracelet-old", UnitPrice: 100, Quantity: 1}},
		listGates:   map[int]chan struct{}{1: gate1, 2: gate2},
		listStarted: make(chan int, 2),
	}
	engine := cart.NewEngine(backend, cart.NewMemoryStore(), signedIn(), zerolog.Nop())

	// First fetch snapshots the old cart, then stalls in flight.
	first := make(chan error, 1)
	go func() {
		first <- engine.FetchCart(ctx)
	}()
	require.Equal(t, 1, <-backend.listStarted)

	// The cart changes, and a later fetch sees the newer state.
	backend.mu.Lock()
	backend.items = []cart.RemoteItem{{ID: freshID, ProductID: "bracelet-new", UnitPrice: 200, Quantity: 1}}
	backend.mu.Unlock()

	second := make(chan error, 1)
	go func() {
		second <- engine.FetchCart(ctx)
	}()
	require.Equal(t, 2, <-backend.listStarted)

	// The later fetch completes first; the slow earlier fetch resolves
	// afterwards carrying the stale snapshot.
	close(gate2)
	require.NoError(t, <-second)
	close(gate1)
	require.NoError(t, <-first)

	items := engine.Items()
	require.Len(t, items, 1)
	assert.Equal(t, freshID, items[0].ID, "the earlier-issued fetch must not overwrite the later one's result")
}
