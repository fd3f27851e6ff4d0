package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/rent_wallet/internal/auth"
	"github.com/congo-pay/rent_wallet/internal/config"
	"github.com/congo-pay/rent_wallet/internal/ledger"
	"github.com/congo-pay/rent_wallet/internal/logging"
	"github.com/congo-pay/rent_wallet/internal/notification"
)

const deploySecret = "deploy-secret"

type testEnv struct {
	srv      *Server
	app      *fiber.App
	admin    *auth.Signer
	tenant   *auth.Signer
	recorder *notification.Recorder
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		cache.Close()
		mr.Close()
	})

	hash, err := bcrypt.GenerateFromPassword([]byte(deploySecret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	cfg := config.Config{
		AppName:        "RentWallet",
		AppEnv:         "test",
		LedgerID:       "rent_wallet",
		StoreDriver:    config.StoreMemory,
		TokenAudience:  "rent_wallet",
		TokenMaxTTL:    5 * time.Minute,
		DeployKeyHash:  string(hash),
		DisplayScale:   7,
		RateLimit:      1000,
		IdempotencyTTL: time.Hour,
		CORSOrigins:    []string{"http://localhost:3000"},
	}

	_, adminKey, err := auth.GenerateKey()
	if err != nil {
		t.Fatalf("admin key: %v", err)
	}
	_, tenantKey, err := auth.GenerateKey()
	if err != nil {
		t.Fatalf("tenant key: %v", err)
	}

	recorder := &notification.Recorder{}
	srv, err := New(cfg, ledger.NewInMemory(cfg.LedgerID), cache, recorder, logging.Discard())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { srv.contract.Close(context.Background()) })
	return testEnv{
		srv:      srv,
		app:      srv.App(),
		admin:    auth.NewSigner(adminKey, "rent_wallet", time.Minute),
		tenant:   auth.NewSigner(tenantKey, "rent_wallet", time.Minute),
		recorder: recorder,
	}
}

type call struct {
	method    string
	path      string
	body      string
	signer    *auth.Signer
	fn        string
	deployKey string
	idemKey   string
	// signedBody, when set, is what the call token is issued for instead
	// of body.
	signedBody *string
}

func (e testEnv) do(t *testing.T, c call) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if c.body != "" {
		reader = strings.NewReader(c.body)
	}
	req := httptest.NewRequest(c.method, c.path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if c.method == fiber.MethodPost {
		key := c.idemKey
		if key == "" {
			key = uuid.NewString()
		}
		req.Header.Set("Idempotency-Key", key)
	}
	if c.signer != nil {
		signed := c.body
		if c.signedBody != nil {
			signed = *c.signedBody
		}
		token, err := c.signer.Sign(c.fn, []byte(signed))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	if c.deployKey != "" {
		req.Header.Set("X-Deploy-Key", c.deployKey)
	}
	resp, err := e.app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", c.method, c.path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	decoded := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp.StatusCode, decoded
}

func (e testEnv) initLedger(t *testing.T) {
	t.Helper()
	status, body := e.do(t, call{
		method:    fiber.MethodPost,
		path:      "/api/v1/ledger/init",
		body:      `{"admin":"` + e.admin.Address().String() + `"}`,
		deployKey: deploySecret,
	})
	if status != fiber.StatusCreated {
		t.Fatalf("init: %d %v", status, body)
	}
}

func TestServer_LedgerFlow(t *testing.T) {
	e := newTestEnv(t)
	tenant := e.tenant.Address().String()

	status, _ := e.do(t, call{method: fiber.MethodPost, path: "/api/v1/ledger/init", body: `{"admin":"` + e.admin.Address().String() + `"}`, deployKey: "wrong"})
	if status != fiber.StatusForbidden {
		t.Fatalf("init with wrong deploy key: expected %d got %d", fiber.StatusForbidden, status)
	}
	e.initLedger(t)

	status, body := e.do(t, call{method: fiber.MethodPost, path: "/api/v1/ledger/credit", body: `{"user":"` + tenant + `","amount":"1500000000"}`, signer: e.admin, fn: "credit"})
	if status != fiber.StatusOK || body["balance"] != "1500000000" || body["balance_display"] != "150.0000000" {
		t.Fatalf("credit: %d %v", status, body)
	}

	status, body = e.do(t, call{method: fiber.MethodPost, path: "/api/v1/ledger/credit", body: `{"user":"` + tenant + `","amount":"1"}`, signer: e.tenant, fn: "credit"})
	if status != fiber.StatusUnauthorized {
		t.Fatalf("tenant credit: expected %d got %d %v", fiber.StatusUnauthorized, status, body)
	}

	status, body = e.do(t, call{method: fiber.MethodPost, path: "/api/v1/ledger/debit", body: `{"user":"` + tenant + `","amount":"500000000"}`, signer: e.admin, fn: "credit"})
	if status != fiber.StatusUnauthorized {
		t.Fatalf("token for other fn: expected %d got %d %v", fiber.StatusUnauthorized, status, body)
	}

	status, body = e.do(t, call{method: fiber.MethodPost, path: "/api/v1/ledger/debit", body: `{"user":"` + tenant + `","amount":"500000000"}`, signer: e.admin, fn: "debit"})
	if status != fiber.StatusOK || body["balance"] != "1000000000" {
		t.Fatalf("debit: %d %v", status, body)
	}

	status, _ = e.do(t, call{method: fiber.MethodPost, path: "/api/v1/ledger/pause", signer: e.admin, fn: "pause"})
	if status != fiber.StatusOK {
		t.Fatalf("pause: %d", status)
	}
	status, body = e.do(t, call{method: fiber.MethodGet, path: "/api/v1/ledger/balances/" + tenant})
	if status != fiber.StatusOK || body["balance"] != "1000000000" {
		t.Fatalf("balance while paused: %d %v", status, body)
	}
	status, body = e.do(t, call{method: fiber.MethodGet, path: "/api/v1/ledger/status"})
	if status != fiber.StatusOK || body["paused"] != true || body["admin"] != e.admin.Address().String() {
		t.Fatalf("status: %d %v", status, body)
	}

	e.srv.contract.Flush()
	var names []string
	for _, ev := range e.recorder.Events() {
		names = append(names, ev.Name())
	}
	if strings.Join(names, ",") != "init,credit,debit,pause" {
		t.Fatalf("unexpected events: %v", names)
	}
}

func TestServer_IdempotentRetryDoesNotDoubleCredit(t *testing.T) {
	e := newTestEnv(t)
	e.initLedger(t)
	tenant := e.tenant.Address().String()

	req := call{method: fiber.MethodPost, path: "/api/v1/ledger/credit", body: `{"user":"` + tenant + `","amount":"10"}`, signer: e.admin, fn: "credit", idemKey: "rent-2024-05"}
	for i := 0; i < 2; i++ {
		status, body := e.do(t, req)
		if status != fiber.StatusOK || body["balance"] != "10" {
			t.Fatalf("attempt %d: %d %v", i, status, body)
		}
	}

	status, body := e.do(t, call{method: fiber.MethodGet, path: "/api/v1/ledger/balances/" + tenant})
	if status != fiber.StatusOK || body["balance"] != "10" {
		t.Fatalf("balance: %d %v", status, body)
	}
}

func TestServer_IdempotentReplayIsBoundToCaller(t *testing.T) {
	e := newTestEnv(t)
	e.initLedger(t)
	tenant := e.tenant.Address().String()
	body := `{"user":"` + tenant + `","amount":"10"}`

	status, first := e.do(t, call{method: fiber.MethodPost, path: "/api/v1/ledger/credit", body: body, signer: e.admin, fn: "credit", idemKey: "rent-2024-07"})
	if status != fiber.StatusOK {
		t.Fatalf("credit: %d %v", status, first)
	}

	status, got := e.do(t, call{method: fiber.MethodPost, path: "/api/v1/ledger/credit", body: body, idemKey: "rent-2024-07"})
	if status != fiber.StatusUnauthorized {
		t.Fatalf("replay without token: expected %d got %d %v", fiber.StatusUnauthorized, status, got)
	}
	status, got = e.do(t, call{method: fiber.MethodPost, path: "/api/v1/ledger/credit", body: body, signer: e.tenant, fn: "credit", idemKey: "rent-2024-07"})
	if status != fiber.StatusConflict {
		t.Fatalf("replay by tenant: expected %d got %d %v", fiber.StatusConflict, status, got)
	}
	status, got = e.do(t, call{method: fiber.MethodPost, path: "/api/v1/ledger/credit", body: body, signer: e.admin, fn: "credit", idemKey: "rent-2024-07"})
	if status != fiber.StatusOK || got["balance"] != first["balance"] {
		t.Fatalf("replay by admin: %d %v", status, got)
	}

	_, bal := e.do(t, call{method: fiber.MethodGet, path: "/api/v1/ledger/balances/" + tenant})
	if bal["balance"] != "10" {
		t.Fatalf("expected one credit, balance %v", bal["balance"])
	}
}

func TestServer_CallTokenCoversAmount(t *testing.T) {
	e := newTestEnv(t)
	e.initLedger(t)
	tenant := e.tenant.Address().String()
	approved := `{"user":"` + tenant + `","amount":"10"}`

	status, body := e.do(t, call{
		method:     fiber.MethodPost,
		path:       "/api/v1/ledger/credit",
		body:       `{"user":"` + tenant + `","amount":"10000000000"}`,
		signedBody: &approved,
		signer:     e.admin,
		fn:         "credit",
	})
	if status != fiber.StatusUnauthorized {
		t.Fatalf("credit with altered amount: expected %d got %d %v", fiber.StatusUnauthorized, status, body)
	}

	_, bal := e.do(t, call{method: fiber.MethodGet, path: "/api/v1/ledger/balances/" + tenant})
	if bal["balance"] != "0" {
		t.Fatalf("balance changed: %v", bal["balance"])
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest(fiber.MethodOptions, "/api/v1/ledger/credit", nil)
	req.Header.Set(fiber.HeaderOrigin, "http://localhost:3000")
	req.Header.Set(fiber.HeaderAccessControlRequestMethod, fiber.MethodPost)
	req.Header.Set(fiber.HeaderAccessControlRequestHeaders, "authorization,content-type,idempotency-key")
	resp, err := e.app.Test(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected %d got %d", fiber.StatusNoContent, resp.StatusCode)
	}
	if got := resp.Header.Get(fiber.HeaderAccessControlAllowOrigin); got != "http://localhost:3000" {
		t.Fatalf("allow origin: %q", got)
	}
	if got := resp.Header.Get(fiber.HeaderAccessControlAllowMethods); !strings.Contains(got, fiber.MethodPost) {
		t.Fatalf("allow methods: %q", got)
	}

	req = httptest.NewRequest(fiber.MethodOptions, "/api/v1/ledger/credit", nil)
	req.Header.Set(fiber.HeaderOrigin, "https://evil.example")
	req.Header.Set(fiber.HeaderAccessControlRequestMethod, fiber.MethodPost)
	resp, err = e.app.Test(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	if got := resp.Header.Get(fiber.HeaderAccessControlAllowOrigin); got != "" {
		t.Fatalf("unlisted origin allowed: %q", got)
	}
}

func TestServer_HealthAndPing(t *testing.T) {
	e := newTestEnv(t)

	status, body := e.do(t, call{method: fiber.MethodGet, path: "/healthz"})
	if status != fiber.StatusOK || body["ledger_id"] != "rent_wallet" {
		t.Fatalf("healthz: %d %v", status, body)
	}
	status, body = e.do(t, call{method: fiber.MethodGet, path: "/api/v1/ping"})
	if status != fiber.StatusOK || body["request_id"] == "" {
		t.Fatalf("ping: %d %v", status, body)
	}
	status, body = e.do(t, call{method: fiber.MethodGet, path: "/nope"})
	env, _ := body["error"].(map[string]any)
	if status != fiber.StatusNotFound || env["code"] != "NOT_FOUND" {
		t.Fatalf("unknown route: %d %v", status, body)
	}
}

func TestServer_RequiresRedisOutsideDev(t *testing.T) {
	cfg := config.Config{AppEnv: "production", LedgerID: "rent_wallet", TokenMaxTTL: time.Minute}
	if _, err := New(cfg, ledger.NewInMemory("rent_wallet"), nil, nil, logging.Discard()); err == nil {
		t.Fatalf("expected error without redis in production")
	}
}
