package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukkan-app/dukkan/internal/api"
	"github.com/dukkan-app/dukkan/internal/config"
	"github.com/dukkan-app/dukkan/internal/loyalty"
	"github.com/dukkan-app/dukkan/internal/order"
	"github.com/dukkan-app/dukkan/internal/push"
	"github.com/dukkan-app/dukkan/internal/server"
	"github.com/dukkan-app/dukkan/internal/store"
	"github.com/dukkan-app/dukkan/internal/testutil"
)

const (
	adminPassword = "admin-pw"
	statsPassword = "stats-pw"
	customerPhone = "07701111111"
	customerKey   = "9647701111111"
)

type testEnv struct {
	store    *store.MemoryStore
	client   *testutil.Client
	settings *config.Settings
	push     *push.Client
	gateway  atomic.Int32
}

func setupStore(t *testing.T) *testEnv {
	t.Helper()
	return setupStoreWith(t, nil)
}

// setupStoreWith lets a test put a wrapper in front of the seeded store.
func setupStoreWith(t *testing.T, wrap func(*store.MemoryStore) store.Backend) *testEnv {
	t.Helper()
	env := &testEnv{}

	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.gateway.Add(1)
		w.Write([]byte(`{"id":"gw-1","recipients":12,"errors":["x"]}`))
	}))
	t.Cleanup(gw.Close)

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	env.store = store.New()
	env.store.SeedDefaults()

	cfg := config.Default()
	cfg.AdminPassword = adminPassword
	cfg.StatsPassword = statsPassword
	cfg.JWTSecret = "test-secret"
	cfg.WhatsAppNumber = "07701234567"
	env.settings = config.NewSettings(cfg)
	env.push = push.NewClient(push.Config{URL: gw.URL, AppID: "app", APIKey: "key", Logger: logger, RetryDelay: time.Millisecond})

	var backend store.Backend = env.store
	if wrap != nil {
		backend = wrap(env.store)
	}

	srv := server.New(&server.Config{Name: "dukkan-test"}, logger)
	h := api.NewHandler(api.Deps{
		Store:    backend,
		Carts:    env.store,
		Config:   cfg,
		Settings: env.settings,
		Push:     env.push,
		Auth:     api.NewAuthenticator(cfg.JWTSecret, adminPassword, statsPassword, time.Hour),
		Mw:       srv.Middleware(),
		Logger:   logger,
	})
	h.Routes(srv.Router)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	env.client = testutil.NewClient(t, ts)
	return env
}

func newCart(t *testing.T, c *testutil.Client) string {
	t.Helper()
	var cart struct {
		ID string `json:"id"`
	}
	c.Post("/api/v1/carts", nil).AssertStatus(http.StatusCreated).JSON(&cart)
	if cart.ID == "" {
		t.Fatal("expected cart id")
	}
	return cart.ID
}

func addToCart(t *testing.T, c *testutil.Client, cartID, productID string, qty int) *testutil.Response {
	t.Helper()
	return c.Post("/api/v1/carts/"+cartID+"/actions", map[string]any{
		"type": "add", "product_id": productID, "quantity": qty,
	})
}

func checkoutBody(city string) map[string]any {
	return map[string]any{
		"customer_name": "علي",
		"phone":         customerPhone,
		"city":          city,
		"address":       "الكرادة، شارع ٦٢",
		"locale":        "ar",
	}
}

// placeOrder checks out kunafa x2 and tea x1 to Baghdad: 53 + 15.
func placeOrder(t *testing.T, c *testutil.Client) string {
	t.Helper()
	id := newCart(t, c)
	addToCart(t, c, id, "prd_kunafa", 2).AssertStatus(http.StatusOK)
	addToCart(t, c, id, "prd_tea", 1).AssertStatus(http.StatusOK)
	var body struct {
		Order struct {
			ID string `json:"id"`
		} `json:"order"`
	}
	c.Post("/api/v1/carts/"+id+"/checkout", checkoutBody("بغداد")).AssertStatus(http.StatusCreated).JSON(&body)
	return body.Order.ID
}

// --- Storefront ---

func TestStatus(t *testing.T) {
	env := setupStore(t)

	m := env.client.Get("/api/v1/status").AssertStatus(http.StatusOK).JSONMap()
	if m["open"] != true || m["currency"] != "IQD" {
		t.Errorf("unexpected status: %v", m)
	}
	if _, ok := m["closed_message"]; ok {
		t.Error("closed_message should be omitted while open")
	}
}

func TestListProducts(t *testing.T) {
	env := setupStore(t)

	resp := env.client.Get("/api/v1/products").AssertStatus(http.StatusOK)
	if len(resp.JSONList()) != 5 {
		t.Errorf("expected 5 available products, got %d", len(resp.JSONList()))
	}
	if resp.Headers.Get("X-Result-Count") != "5" {
		t.Errorf("unexpected X-Result-Count %q", resp.Headers.Get("X-Result-Count"))
	}

	all := env.client.Get("/api/v1/products?include_unavailable=true").AssertStatus(http.StatusOK).JSONList()
	if len(all) != 6 {
		t.Errorf("expected 6 products, got %d", len(all))
	}

	q := url.Values{"q": {"كنافه"}}
	found := env.client.Get("/api/v1/products?" + q.Encode()).AssertStatus(http.StatusOK).JSONList()
	if len(found) != 1 || found[0]["id"] != "prd_kunafa" {
		t.Errorf("expected folded search to find kunafa, got %v", found)
	}

	sorted := env.client.Get("/api/v1/products?sort=price_desc&limit=2").AssertStatus(http.StatusOK).JSONList()
	if len(sorted) != 2 || sorted[0]["id"] != "prd_baklava" {
		t.Errorf("expected baklava first, got %v", sorted)
	}
}

func TestListProductsRejectsBadQuery(t *testing.T) {
	env := setupStore(t)
	env.client.Get("/api/v1/products?sort=random").AssertStatus(http.StatusBadRequest)
	env.client.Get("/api/v1/products?min_price=-1").AssertStatus(http.StatusBadRequest)
	env.client.Get("/api/v1/products?min_price=30&max_price=5").AssertStatus(http.StatusBadRequest)
	env.client.Get("/api/v1/products?limit=0").AssertStatus(http.StatusBadRequest)
}

func TestGetProductNotFound(t *testing.T) {
	env := setupStore(t)
	env.client.Get("/api/v1/products/prd_missing").AssertStatus(http.StatusNotFound)
}

func TestListDeliveryFeesActiveOnly(t *testing.T) {
	env := setupStore(t)
	fees := env.client.Get("/api/v1/delivery-fees").AssertStatus(http.StatusOK).JSONList()
	if len(fees) != 3 {
		t.Errorf("expected 3 active cities, got %d", len(fees))
	}
}

func TestComputeCartTotal(t *testing.T) {
	env := setupStore(t)
	lines := []map[string]any{
		{"id": "a", "name": "x", "unit_price": "25", "quantity": 2},
		{"id": "b", "name": "y", "unit_price": "3", "quantity": 1},
		{"id": "c", "name": "z", "unit_price": "9", "quantity": 0},
	}

	m := env.client.Post("/api/v1/cart/total", map[string]any{"lines": lines, "city": "بغداد"}).
		AssertStatus(http.StatusOK).JSONMap()
	if m["subtotal"] != "53" || m["delivery_fee"] != "15" || m["grand_total"] != "68" {
		t.Errorf("unexpected totals: %v", m)
	}
	if m["item_count"] != float64(3) {
		t.Errorf("expected 3 items, got %v", m["item_count"])
	}

	pickup := env.client.Post("/api/v1/cart/total", map[string]any{"lines": lines}).AssertStatus(http.StatusOK).JSONMap()
	if pickup["grand_total"] != "53" {
		t.Errorf("expected pickup total 53, got %v", pickup["grand_total"])
	}

	env.client.Post("/api/v1/cart/total", map[string]any{"lines": lines, "city": "الموصل"}).
		AssertStatus(http.StatusUnprocessableEntity).AssertErrorType("unknown_city")
	env.client.Post("/api/v1/cart/total", map[string]any{"lines": lines, "city": "Atlantis"}).
		AssertStatus(http.StatusUnprocessableEntity)
}

// --- Carts ---

func TestCartActions(t *testing.T) {
	env := setupStore(t)
	id := newCart(t, env.client)

	addToCart(t, env.client, id, "prd_kunafa", 1).AssertStatus(http.StatusOK)
	m := addToCart(t, env.client, id, "prd_kunafa", 2).AssertStatus(http.StatusOK).JSONMap()
	if m["item_count"] != float64(3) {
		t.Errorf("expected merged quantity 3, got %v", m["item_count"])
	}

	m = env.client.Post("/api/v1/carts/"+id+"/actions", map[string]any{
		"type": "set_quantity", "product_id": "prd_kunafa", "quantity": 1,
	}).AssertStatus(http.StatusOK).JSONMap()
	total := m["total"].(map[string]any)
	if total["subtotal"] != "25" {
		t.Errorf("expected subtotal 25, got %v", total["subtotal"])
	}

	m = env.client.Post("/api/v1/carts/"+id+"/actions", map[string]any{
		"type": "remove", "product_id": "prd_kunafa",
	}).AssertStatus(http.StatusOK).JSONMap()
	if m["item_count"] != float64(0) {
		t.Errorf("expected empty cart, got %v", m["item_count"])
	}
}

func TestCartActionErrors(t *testing.T) {
	env := setupStore(t)
	id := newCart(t, env.client)

	addToCart(t, env.client, id, "prd_laban", 1).
		AssertStatus(http.StatusUnprocessableEntity).AssertErrorType("product_unavailable")
	addToCart(t, env.client, id, "prd_missing", 1).AssertStatus(http.StatusNotFound)
	env.client.Post("/api/v1/carts/"+id+"/actions", map[string]any{"type": "explode"}).
		AssertStatus(http.StatusBadRequest)
	addToCart(t, env.client, "no-such-cart", "prd_tea", 1).AssertStatus(http.StatusNotFound)
}

func TestGetCartWithCity(t *testing.T) {
	env := setupStore(t)
	id := newCart(t, env.client)
	addToCart(t, env.client, id, "prd_baklava", 1).AssertStatus(http.StatusOK)

	m := env.client.Get("/api/v1/carts/" + id + "?city=" + url.QueryEscape("البصرة")).AssertStatus(http.StatusOK).JSONMap()
	total := m["total"].(map[string]any)
	if total["grand_total"] != "65" {
		t.Errorf("expected 40 + 25, got %v", total["grand_total"])
	}
}

func TestDeleteCart(t *testing.T) {
	env := setupStore(t)
	id := newCart(t, env.client)
	env.client.Delete("/api/v1/carts/" + id).AssertStatus(http.StatusNoContent)
	env.client.Get("/api/v1/carts/" + id).AssertStatus(http.StatusNotFound)
}

// --- Checkout ---

func TestCheckout(t *testing.T) {
	env := setupStore(t)
	id := newCart(t, env.client)
	addToCart(t, env.client, id, "prd_kunafa", 2).AssertStatus(http.StatusOK)
	addToCart(t, env.client, id, "prd_tea", 1).AssertStatus(http.StatusOK)

	var body struct {
		Order struct {
			ID         string `json:"id"`
			Phone      string `json:"phone"`
			Status     string `json:"status"`
			GrandTotal string `json:"grand_total"`
		} `json:"order"`
		Summary     string `json:"summary"`
		WhatsAppURL string `json:"whatsapp_url"`
	}
	env.client.Post("/api/v1/carts/"+id+"/checkout", checkoutBody("بغداد")).
		AssertStatus(http.StatusCreated).JSON(&body)

	if body.Order.Status != "pending" || body.Order.GrandTotal != "68" {
		t.Errorf("unexpected order: %+v", body.Order)
	}
	if body.Order.Phone != customerKey {
		t.Errorf("expected normalized phone, got %s", body.Order.Phone)
	}
	if !strings.Contains(body.Summary, "كنافة") || !strings.Contains(body.Summary, body.Order.ID) {
		t.Errorf("summary missing order details:\n%s", body.Summary)
	}
	if !strings.HasPrefix(body.WhatsAppURL, "https://wa.me/9647701234567?text=") {
		t.Errorf("unexpected whatsapp url %s", body.WhatsAppURL)
	}

	env.client.Get("/api/v1/carts/" + id).AssertStatus(http.StatusNotFound)
	if _, err := env.store.GetOrder(context.Background(), body.Order.ID); err != nil {
		t.Errorf("order not persisted: %v", err)
	}
}

func TestCheckoutEnglishLocale(t *testing.T) {
	env := setupStore(t)
	id := newCart(t, env.client)
	addToCart(t, env.client, id, "prd_samoon", 4).AssertStatus(http.StatusOK)

	req := checkoutBody("")
	delete(req, "locale")
	delete(req, "address")
	var body struct {
		Summary string `json:"summary"`
	}
	env.client.DoWithHeaders(http.MethodPost, "/api/v1/carts/"+id+"/checkout", req,
		map[string]string{"Accept-Language": "en-GB,en;q=0.9,ar;q=0.8"}).AssertStatus(http.StatusCreated).JSON(&body)
	if !strings.Contains(body.Summary, "New order") || !strings.Contains(body.Summary, "Store pickup") {
		t.Errorf("expected english pickup summary:\n%s", body.Summary)
	}
}

func TestCheckoutValidation(t *testing.T) {
	env := setupStore(t)
	id := newCart(t, env.client)

	env.client.Post("/api/v1/carts/"+id+"/checkout", checkoutBody("بغداد")).
		AssertStatus(http.StatusUnprocessableEntity).AssertErrorType("empty_cart")

	addToCart(t, env.client, id, "prd_tea", 1).AssertStatus(http.StatusOK)

	noName := checkoutBody("بغداد")
	noName["customer_name"] = " "
	env.client.Post("/api/v1/carts/"+id+"/checkout", noName).
		AssertStatus(http.StatusUnprocessableEntity).AssertErrorType("validation_error")

	badPhone := checkoutBody("بغداد")
	badPhone["phone"] = "12ab"
	env.client.Post("/api/v1/carts/"+id+"/checkout", badPhone).
		AssertStatus(http.StatusUnprocessableEntity).AssertErrorType("invalid_phone")

	env.client.Post("/api/v1/carts/"+id+"/checkout", checkoutBody("الموصل")).
		AssertStatus(http.StatusUnprocessableEntity).AssertErrorType("unknown_city")

	env.client.Get("/api/v1/carts/" + id).AssertStatus(http.StatusOK)
}

func TestCheckoutRejectsProductThatWentUnavailable(t *testing.T) {
	env := setupStore(t)
	id := newCart(t, env.client)
	addToCart(t, env.client, id, "prd_baklava", 1).AssertStatus(http.StatusOK)

	p, _ := env.store.GetProduct(context.Background(), "prd_baklava")
	p.Available = false
	env.store.SaveProduct(context.Background(), p)

	env.client.Post("/api/v1/carts/"+id+"/checkout", checkoutBody("بغداد")).
		AssertStatus(http.StatusUnprocessableEntity).AssertErrorType("product_unavailable")
}

func TestCheckoutWhileClosed(t *testing.T) {
	env := setupStore(t)
	id := newCart(t, env.client)
	addToCart(t, env.client, id, "prd_tea", 1).AssertStatus(http.StatusOK)

	if _, err := env.settings.Update(map[string]any{"open": false, "closed_message": "مغلق للصيانة"}); err != nil {
		t.Fatal(err)
	}
	env.client.Post("/api/v1/carts/"+id+"/checkout", checkoutBody("بغداد")).
		AssertStatus(http.StatusServiceUnavailable).
		AssertErrorType("store_closed").
		AssertBodyContains("مغلق للصيانة")

	m := env.client.Get("/api/v1/status").JSONMap()
	if m["open"] != false || m["closed_message"] != "مغلق للصيانة" {
		t.Errorf("unexpected status while closed: %v", m)
	}
}

func TestCheckoutIdempotency(t *testing.T) {
	env := setupStore(t)
	id := newCart(t, env.client)
	addToCart(t, env.client, id, "prd_tea", 2).AssertStatus(http.StatusOK)

	headers := map[string]string{"Idempotency-Key": "chk-1"}
	first := env.client.DoWithHeaders(http.MethodPost, "/api/v1/carts/"+id+"/checkout", checkoutBody("بغداد"), headers).
		AssertStatus(http.StatusCreated)
	second := env.client.DoWithHeaders(http.MethodPost, "/api/v1/carts/"+id+"/checkout", checkoutBody("بغداد"), headers).
		AssertStatus(http.StatusCreated)

	if second.Headers.Get("Idempotent-Replayed") != "true" {
		t.Error("expected replayed response")
	}
	if string(first.Body) != string(second.Body) {
		t.Error("replayed body differs from original")
	}
	if n := env.store.Orders.Count(); n != 1 {
		t.Errorf("expected exactly one order, got %d", n)
	}
}

// --- Loyalty ---

func TestGetLoyaltyCreatesAccount(t *testing.T) {
	env := setupStore(t)

	m := env.client.Get("/api/v1/loyalty/" + customerPhone).AssertStatus(http.StatusOK).JSONMap()
	if m["tier"] != "bronze" || m["points"] != float64(0) {
		t.Errorf("unexpected new account: %v", m)
	}
	if m["phone"] != customerKey {
		t.Errorf("expected normalized key, got %v", m["phone"])
	}
	next, ok := m["next_tier"].(map[string]any)
	if !ok || next["tier"] != "silver" {
		t.Errorf("expected silver as next tier, got %v", m["next_tier"])
	}
	if m["earn_rate"] != float64(1) {
		t.Errorf("expected earn rate 1, got %v", m["earn_rate"])
	}

	env.client.Get("/api/v1/loyalty/abc").AssertStatus(http.StatusUnprocessableEntity)
}

func TestListRewards(t *testing.T) {
	env := setupStore(t)
	rewards := env.client.Get("/api/v1/rewards").AssertStatus(http.StatusOK).JSONList()
	if len(rewards) != 3 || rewards[0]["id"] != "rwd_discount_5" {
		t.Errorf("expected rewards sorted by cost, got %v", rewards)
	}
}

func TestRedeem(t *testing.T) {
	env := setupStore(t)

	env.client.Post("/api/v1/loyalty/"+customerPhone+"/redeem", map[string]string{"reward_id": "rwd_discount_5"}).
		AssertStatus(http.StatusUnprocessableEntity).AssertErrorType("insufficient_points")

	a := loyalty.NewAccount(customerKey, time.Now().UTC())
	a.Points = 120
	if err := env.store.SaveAccount(context.Background(), a); err != nil {
		t.Fatal(err)
	}

	var body struct {
		Account struct {
			Points int `json:"points"`
		} `json:"account"`
		Entry struct {
			Type   string `json:"type"`
			Points int    `json:"points"`
		} `json:"entry"`
		Code string `json:"code"`
	}
	env.client.Post("/api/v1/loyalty/"+customerPhone+"/redeem", map[string]string{"reward_id": "rwd_discount_5"}).
		AssertStatus(http.StatusOK).JSON(&body)
	if body.Account.Points != 20 {
		t.Errorf("expected 20 points left, got %d", body.Account.Points)
	}
	if body.Entry.Type != "redeemed" || body.Entry.Points != -100 {
		t.Errorf("unexpected ledger entry: %+v", body.Entry)
	}
	if !strings.HasPrefix(body.Code, "R-") || len(body.Code) != 10 {
		t.Errorf("unexpected redemption code %q", body.Code)
	}

	history := env.client.Get("/api/v1/loyalty/" + customerPhone + "/history").AssertStatus(http.StatusOK).JSONList()
	if len(history) != 1 {
		t.Errorf("expected one ledger entry, got %d", len(history))
	}

	env.client.Post("/api/v1/loyalty/"+customerPhone+"/redeem", map[string]string{"reward_id": "rwd_nope"}).
		AssertStatus(http.StatusNotFound)
}

// --- Back-office ---

func TestLogin(t *testing.T) {
	env := setupStore(t)

	env.client.Post("/api/v1/admin/login", map[string]string{"password": "wrong"}).AssertStatus(http.StatusUnauthorized)

	m := env.client.Post("/api/v1/admin/login", map[string]string{"password": statsPassword}).
		AssertStatus(http.StatusOK).JSONMap()
	if m["role"] != "stats" {
		t.Errorf("expected stats role, got %v", m["role"])
	}
}

func TestAdminRequiresToken(t *testing.T) {
	env := setupStore(t)

	env.client.Get("/api/v1/admin/orders").AssertStatus(http.StatusUnauthorized)
	env.client.WithToken("garbage").Get("/api/v1/admin/orders").AssertStatus(http.StatusUnauthorized)

	stats := env.client.Login(statsPassword)
	stats.Get("/api/v1/admin/stats").AssertStatus(http.StatusOK)
	stats.Get("/api/v1/admin/orders").AssertStatus(http.StatusForbidden)
	stats.Patch("/api/v1/admin/settings", map[string]any{"open": false}).AssertStatus(http.StatusForbidden)
}

func TestOrderLifecycleAwardsPointsOnce(t *testing.T) {
	env := setupStore(t)
	orderID := placeOrder(t, env.client)
	admin := env.client.Login(adminPassword)

	orders := admin.Get("/api/v1/admin/orders?status=pending").AssertStatus(http.StatusOK).JSONList()
	if len(orders) != 1 || orders[0]["id"] != orderID {
		t.Fatalf("expected the pending order, got %v", orders)
	}

	admin.Patch("/api/v1/admin/orders/"+orderID, map[string]string{"status": "delivering"}).
		AssertStatus(http.StatusConflict).AssertErrorType("invalid_transition")
	admin.Patch("/api/v1/admin/orders/"+orderID, map[string]string{"status": "confirmed"}).AssertStatus(http.StatusOK)

	var delivered struct {
		Order struct {
			Status        string `json:"status"`
			PointsAwarded bool   `json:"points_awarded"`
		} `json:"order"`
		Points int `json:"points_awarded"`
	}
	admin.Patch("/api/v1/admin/orders/"+orderID, map[string]string{"status": "delivered"}).
		AssertStatus(http.StatusOK).JSON(&delivered)
	if delivered.Order.Status != "delivered" || !delivered.Order.PointsAwarded {
		t.Errorf("unexpected delivered order: %+v", delivered.Order)
	}
	// 68 at the bronze rate
	if delivered.Points != 6 {
		t.Errorf("expected 6 points, got %d", delivered.Points)
	}

	admin.Patch("/api/v1/admin/orders/"+orderID, map[string]string{"status": "delivered"}).
		AssertStatus(http.StatusConflict)

	m := env.client.Get("/api/v1/loyalty/" + customerPhone).AssertStatus(http.StatusOK).JSONMap()
	if m["points"] != float64(6) || m["total_orders"] != float64(1) || m["total_spent"] != "68" {
		t.Errorf("unexpected account after delivery: %v", m)
	}
}

// failingLoyaltyStore fails the next n loyalty writes.
type failingLoyaltyStore struct {
	*store.MemoryStore
	failures atomic.Int32
}

func (s *failingLoyaltyStore) ApplyLoyalty(ctx context.Context, a loyalty.Account, e loyalty.LedgerEntry, o *order.Order) error {
	if s.failures.Add(-1) >= 0 {
		return errors.New("connection reset")
	}
	return s.MemoryStore.ApplyLoyalty(ctx, a, e, o)
}

func setupFailingLoyalty(t *testing.T, failures int32) *testEnv {
	t.Helper()
	return setupStoreWith(t, func(ms *store.MemoryStore) store.Backend {
		fs := &failingLoyaltyStore{MemoryStore: ms}
		fs.failures.Store(failures)
		return fs
	})
}

func TestDeliveredRetryAfterStoreFailureCreditsOnce(t *testing.T) {
	env := setupFailingLoyalty(t, 1)
	orderID := placeOrder(t, env.client)
	admin := env.client.Login(adminPassword)
	admin.Patch("/api/v1/admin/orders/"+orderID, map[string]string{"status": "confirmed"}).AssertStatus(http.StatusOK)

	admin.Patch("/api/v1/admin/orders/"+orderID, map[string]string{"status": "delivered"}).
		AssertStatus(http.StatusInternalServerError)
	o, err := env.store.GetOrder(context.Background(), orderID)
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != order.StatusConfirmed || o.PointsAwarded {
		t.Errorf("failed delivery must leave the order untouched: %+v", o)
	}
	if m := env.client.Get("/api/v1/loyalty/" + customerPhone).JSONMap(); m["points"] != float64(0) {
		t.Errorf("points credited by a failed request: %v", m)
	}

	admin.Patch("/api/v1/admin/orders/"+orderID, map[string]string{"status": "delivered"}).AssertStatus(http.StatusOK)
	m := env.client.Get("/api/v1/loyalty/" + customerPhone).AssertStatus(http.StatusOK).JSONMap()
	if m["points"] != float64(6) || m["total_orders"] != float64(1) || m["total_spent"] != "68" {
		t.Errorf("expected a single credit, got %v", m)
	}
	if n := len(env.client.Get("/api/v1/loyalty/" + customerPhone + "/history").JSONList()); n != 1 {
		t.Errorf("expected one ledger entry, got %d", n)
	}
}

func TestRedeemStoreFailureKeepsPoints(t *testing.T) {
	env := setupFailingLoyalty(t, 1)
	a := loyalty.NewAccount(customerKey, time.Now().UTC())
	a.Points = 120
	if err := env.store.SaveAccount(context.Background(), a); err != nil {
		t.Fatal(err)
	}

	env.client.Post("/api/v1/loyalty/"+customerPhone+"/redeem", map[string]string{"reward_id": "rwd_discount_5"}).
		AssertStatus(http.StatusInternalServerError)
	if m := env.client.Get("/api/v1/loyalty/" + customerPhone).JSONMap(); m["points"] != float64(120) {
		t.Errorf("points spent by a failed redemption: %v", m)
	}
	if n := len(env.client.Get("/api/v1/loyalty/" + customerPhone + "/history").JSONList()); n != 0 {
		t.Errorf("expected no ledger entries, got %d", n)
	}

	env.client.Post("/api/v1/loyalty/"+customerPhone+"/redeem", map[string]string{"reward_id": "rwd_discount_5"}).
		AssertStatus(http.StatusOK)
	if m := env.client.Get("/api/v1/loyalty/" + customerPhone).JSONMap(); m["points"] != float64(20) {
		t.Errorf("expected 20 points after redeeming, got %v", m)
	}
}

func TestListOrdersByPhone(t *testing.T) {
	env := setupStore(t)
	placeOrder(t, env.client)
	admin := env.client.Login(adminPassword)

	if n := len(admin.Get("/api/v1/admin/orders?phone=" + customerPhone).AssertStatus(http.StatusOK).JSONList()); n != 1 {
		t.Errorf("expected 1 order for customer, got %d", n)
	}
	if n := len(admin.Get("/api/v1/admin/orders?phone=07709999999").AssertStatus(http.StatusOK).JSONList()); n != 0 {
		t.Errorf("expected no orders, got %d", n)
	}
	admin.Get("/api/v1/admin/orders?status=lost").AssertStatus(http.StatusBadRequest)
	admin.Get("/api/v1/admin/orders/NOPE").AssertStatus(http.StatusNotFound)
}

func TestProductCRUD(t *testing.T) {
	env := setupStore(t)
	admin := env.client.Login(adminPassword)

	admin.Post("/api/v1/admin/products", map[string]any{"name": "", "price": "5"}).
		AssertStatus(http.StatusUnprocessableEntity)
	admin.Post("/api/v1/admin/products", map[string]any{"name": "x", "price": "-1"}).
		AssertStatus(http.StatusUnprocessableEntity)
	admin.Post("/api/v1/admin/products", map[string]any{"name": "x", "price": "1.12345678901"}).
		AssertStatus(http.StatusUnprocessableEntity)

	created := admin.Post("/api/v1/admin/products", map[string]any{
		"category_id": "cat_sweets", "name": "زلابية", "name_en": "Zalabia", "price": "12.5",
	}).AssertStatus(http.StatusCreated).JSONMap()
	id, _ := created["id"].(string)
	if id == "" || created["available"] != true {
		t.Fatalf("unexpected created product: %v", created)
	}

	updated := admin.Put("/api/v1/admin/products/"+id, map[string]any{
		"category_id": "cat_sweets", "name": "زلابية", "price": "15", "available": false,
	}).AssertStatus(http.StatusOK).JSONMap()
	if updated["price"] != "15" || updated["available"] != false {
		t.Errorf("unexpected updated product: %v", updated)
	}

	admin.Put("/api/v1/admin/products/prd_ghost", map[string]any{"name": "x", "price": "1"}).
		AssertStatus(http.StatusNotFound)

	admin.Delete("/api/v1/admin/products/" + id).AssertStatus(http.StatusNoContent)
	env.client.Get("/api/v1/products/" + id).AssertStatus(http.StatusNotFound)
}

func TestPutDeliveryFee(t *testing.T) {
	env := setupStore(t)
	admin := env.client.Login(adminPassword)

	admin.Put("/api/v1/admin/delivery-fees/"+url.PathEscape("الموصل"), map[string]any{"fee": "20", "active": true}).
		AssertStatus(http.StatusOK)
	m := env.client.Post("/api/v1/cart/total", map[string]any{"lines": []any{}, "city": "الموصل"}).
		AssertStatus(http.StatusOK).JSONMap()
	if m["delivery_fee"] != "20" {
		t.Errorf("expected fee 20, got %v", m["delivery_fee"])
	}

	admin.Put("/api/v1/admin/delivery-fees/Najaf", map[string]any{"fee": "-5"}).
		AssertStatus(http.StatusUnprocessableEntity)
	admin.Put("/api/v1/admin/delivery-fees/Najaf", map[string]any{"fee": "2.00000000001"}).
		AssertStatus(http.StatusUnprocessableEntity)
}

func TestSettings(t *testing.T) {
	env := setupStore(t)
	admin := env.client.Login(adminPassword)

	admin.Patch("/api/v1/admin/settings", map[string]any{"open": false, "closed_message": 42}).
		AssertStatus(http.StatusUnprocessableEntity)
	if !env.settings.IsOpen() {
		t.Fatal("a rejected update must not change anything")
	}

	m := admin.Patch("/api/v1/admin/settings", map[string]any{"open": false, "closed_message": "عطلة"}).
		AssertStatus(http.StatusOK).JSONMap()
	if m["open"] != false || m["closed_message"] != "عطلة" {
		t.Errorf("unexpected settings: %v", m)
	}
	got := admin.Get("/api/v1/admin/settings").AssertStatus(http.StatusOK).JSONMap()
	if got["open"] != false {
		t.Errorf("expected closed, got %v", got)
	}
}

func TestStats(t *testing.T) {
	env := setupStore(t)
	placeOrder(t, env.client)
	placeOrder(t, env.client)
	admin := env.client.Login(adminPassword)

	var st struct {
		Orders      int               `json:"orders"`
		Revenue     string            `json:"revenue"`
		ByStatus    map[string]int    `json:"by_status"`
		TopProducts []json.RawMessage `json:"top_products"`
	}
	admin.Get("/api/v1/admin/stats").AssertStatus(http.StatusOK).JSON(&st)
	if st.Orders != 2 || st.ByStatus["pending"] != 2 {
		t.Errorf("unexpected stats: %+v", st)
	}
	if len(st.TopProducts) != 2 {
		t.Errorf("expected 2 products sold, got %d", len(st.TopProducts))
	}
}

// --- Notifications ---

func TestNotifications(t *testing.T) {
	env := setupStore(t)
	admin := env.client.Login(adminPassword)

	admin.Post("/api/v1/admin/notifications", map[string]string{"title": "عرض"}).
		AssertStatus(http.StatusUnprocessableEntity)

	created := admin.Post("/api/v1/admin/notifications", map[string]string{
		"title": "عرض", "title_en": "Offer", "body": "خصم اليوم", "body_en": "Discount today",
	}).AssertStatus(http.StatusCreated).JSONMap()
	id := created["id"].(string)
	if created["status"] != "draft" {
		t.Errorf("expected draft, got %v", created["status"])
	}

	m := admin.Post("/api/v1/admin/notifications/"+id+"/send", nil).AssertStatus(http.StatusOK).JSONMap()
	if m["sent"] != float64(12) || m["failed"] != float64(1) {
		t.Errorf("unexpected send result: %v", m)
	}
	if env.gateway.Load() != 1 {
		t.Errorf("expected one gateway call, got %d", env.gateway.Load())
	}

	admin.Post("/api/v1/admin/notifications/"+id+"/send", nil).
		AssertStatus(http.StatusConflict).AssertErrorType("already_sent")

	list := admin.Get("/api/v1/admin/notifications").AssertStatus(http.StatusOK).JSONList()
	if len(list) != 1 || list[0]["status"] != "sent" {
		t.Errorf("unexpected notifications: %v", list)
	}
}

func TestSendNotificationFailures(t *testing.T) {
	env := setupStore(t)
	admin := env.client.Login(adminPassword)
	n, _ := env.store.CreateNotification(context.Background(), store.Notification{Title: "t", Body: "b"})

	env.push.SetURL("")
	admin.Post("/api/v1/admin/notifications/"+n.ID+"/send", nil).
		AssertStatus(http.StatusServiceUnavailable).AssertErrorType("push_not_configured")

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer broken.Close()
	env.push.SetURL(broken.URL)
	admin.Post("/api/v1/admin/notifications/"+n.ID+"/send", nil).
		AssertStatus(http.StatusBadGateway).AssertErrorType("push_failed")

	got, _ := env.store.GetNotification(context.Background(), n.ID)
	if got.Status != store.NotificationFailed {
		t.Errorf("expected failed status, got %s", got.Status)
	}
}
