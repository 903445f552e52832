package http

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pointledger/internal/model"
	"pointledger/internal/repository"
	"pointledger/internal/service"
)

const (
	testJWTSecret    = "jwt-secret"
	testAdminToken   = "admin-token"
	testStripeSecret = "whsec_test"
)

type fakeTutor struct {
	configured bool
	reply      string
	err        error
	calls      int
}

func (f *fakeTutor) Configured() bool { return f.configured }

func (f *fakeTutor) Complete(ctx context.Context, feature, input string) (string, error) {
	f.calls++
	return f.reply, f.err
}

type testEnv struct {
	ledger *service.PointLedger
	tutor  *fakeTutor
	router http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ledger := service.NewPointLedger(repository.NewMemoryStore())
	catalog, err := service.NewCatalog(nil)
	require.NoError(t, err)
	tutor := &fakeTutor{configured: true, reply: "Nice try!"}

	h := NewHandler(ledger, catalog, tutor, Options{
		JWTSecret:           testJWTSecret,
		AdminToken:          testAdminToken,
		StripeWebhookSecret: testStripeSecret,
	}, zerolog.Nop())
	return &testEnv{ledger: ledger, tutor: tutor, router: h.Routes()}
}

func (e *testEnv) createAccount(t *testing.T, userID string) {
	t.Helper()
	_, err := e.ledger.CreateAccount(context.Background(), model.CreateAccountRequest{UserID: userID})
	require.NoError(t, err)
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case []byte:
			buf.Write(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func bearer(t *testing.T, userID string) map[string]string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + signed}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetPoints_RequiresToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/points", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/points", nil, map[string]string{"Authorization": "Bearer not-a-jwt"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := forged.SignedString([]byte("other-secret"))
	require.NoError(t, err)
	rec = env.do(t, http.MethodGet, "/api/v1/points", nil, map[string]string{"Authorization": "Bearer " + signed})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetPoints(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "u1")

	rec := env.do(t, http.MethodGet, "/api/v1/points", nil, bearer(t, "u1"))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(5000), body["balance"])
	assert.Equal(t, float64(0), body["spentThisCycle"])
	assert.Contains(t, body, "lastReplenishedAt")
}

func TestGetPoints_NoAccount(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/points", nil, bearer(t, "ghost"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "account_not_found", decodeBody(t, rec)["error"])
}

func TestDebit(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "u1")

	rec := env.do(t, http.MethodPost, "/api/v1/points/debit", map[string]interface{}{"amount": 5}, bearer(t, "u1"))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(4995), body["balance"])
	assert.Equal(t, float64(5), body["spentThisCycle"])
}

func TestDebit_InsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "u1")

	rec := env.do(t, http.MethodPost, "/api/v1/points/debit", map[string]interface{}{"amount": 6000}, bearer(t, "u1"))
	require.Equal(t, http.StatusForbidden, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "insufficient_balance", body["error"])
	assert.Equal(t, float64(5000), body["currentBalance"])
	assert.Equal(t, float64(6000), body["requiredAmount"])
}

func TestDebit_InvalidBody(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "u1")

	rec := env.do(t, http.MethodPost, "/api/v1/points/debit", map[string]interface{}{"amount": -1}, bearer(t, "u1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/points/debit", []byte("{"), bearer(t, "u1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDebit_IdempotencyKeyHeader(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "u1")

	headers := bearer(t, "u1")
	headers[headerIdempotencyKey] = "abc"
	rec := env.do(t, http.MethodPost, "/api/v1/points/debit", map[string]interface{}{"amount": 1}, headers)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/points/debit", map[string]interface{}{"amount": 1}, headers)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_processed", decodeBody(t, rec)["error"])
}

func TestHistory_JournalDisabled(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/points/history?limit=5", nil, bearer(t, "u1"))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/points/history?limit=abc", nil, bearer(t, "u1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminCreateAccount(t *testing.T) {
	env := newTestEnv(t)
	admin := map[string]string{"X-Admin-Token": testAdminToken}

	rec := env.do(t, http.MethodPost, "/api/v1/admin/accounts", map[string]string{"userId": "u1"}, map[string]string{"X-Admin-Token": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/admin/accounts", map[string]string{"userId": "u1"}, admin)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, float64(5000), decodeBody(t, rec)["balance"])

	rec = env.do(t, http.MethodPost, "/api/v1/admin/accounts", map[string]string{"userId": "u1"}, admin)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "account_exists", decodeBody(t, rec)["error"])

	rec = env.do(t, http.MethodPost, "/api/v1/admin/accounts", map[string]string{}, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminCredit(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "u1")
	admin := map[string]string{"X-Admin-Token": testAdminToken}

	rec := env.do(t, http.MethodPost, "/api/v1/admin/credits",
		map[string]interface{}{"userId": "u1", "amount": 17000, "reference": "manual-1"}, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(20000), decodeBody(t, rec)["balance"])

	rec = env.do(t, http.MethodPost, "/api/v1/admin/credits",
		map[string]interface{}{"userId": "u1", "amount": 0}, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunFeature(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "u1")

	rec := env.do(t, http.MethodPost, "/api/v1/features/coaching_start", map[string]string{"input": "I want to pass TOEIC"}, bearer(t, "u1"))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Nice try!", body["output"])
	assert.Equal(t, float64(4995), body["balance"])
	assert.Equal(t, 1, env.tutor.calls)
}

func TestRunFeature_InsufficientSkipsTutor(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "u1")
	_, err := env.ledger.TryDebit(context.Background(), model.DebitRequest{UserID: "u1", Amount: 4999})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/v1/features/coaching_message", map[string]string{"input": "hi"}, bearer(t, "u1"))
	require.Equal(t, http.StatusForbidden, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["currentBalance"])
	assert.Equal(t, float64(2), body["requiredAmount"])
	assert.Equal(t, 0, env.tutor.calls)
}

func TestRunFeature_TutorFailureKeepsDebit(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "u1")
	env.tutor.err = errors.New("upstream timeout")

	rec := env.do(t, http.MethodPost, "/api/v1/features/quiz", map[string]string{"input": "past tense"}, bearer(t, "u1"))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	acct, err := env.ledger.GetBalance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(4999), acct.Balance)
}

func TestRunFeature_UnknownFeature(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "u1")

	rec := env.do(t, http.MethodPost, "/api/v1/features/karaoke", map[string]string{"input": "x"}, bearer(t, "u1"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown_feature", decodeBody(t, rec)["error"])
}

func TestRunFeature_TutorNotConfigured(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "u1")
	env.tutor.configured = false

	rec := env.do(t, http.MethodPost, "/api/v1/features/quiz", map[string]string{"input": "x"}, bearer(t, "u1"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	acct, err := env.ledger.GetBalance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), acct.Balance)
}

func stripeHeaders(payload []byte) map[string]string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testStripeSecret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return map[string]string{"Stripe-Signature": fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))}
}

func stripeEvent(id, typ, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"api_version":"2025-01-27.acacia","data":{"object":%s}}`, id, typ, object))
}

func TestStripeWebhook_BadSignature(t *testing.T) {
	env := newTestEnv(t)
	payload := stripeEvent("evt_1", "invoice.payment_succeeded", `{"id":"in_1","object":"invoice"}`)

	rec := env.do(t, http.MethodPost, "/webhooks/stripe", payload, map[string]string{"Stripe-Signature": "t=1,v1=deadbeef"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStripeWebhook_InvoiceCreditsOnce(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "u1")
	payload := stripeEvent("evt_paid_1", "invoice.payment_succeeded",
		`{"id":"in_1","object":"invoice","customer":"cus_1","metadata":{"user_id":"u1"}}`)

	rec := env.do(t, http.MethodPost, "/webhooks/stripe", payload, stripeHeaders(payload))
	require.Equal(t, http.StatusOK, rec.Code)

	// Redelivery of the same event.
	rec = env.do(t, http.MethodPost, "/webhooks/stripe", payload, stripeHeaders(payload))
	require.Equal(t, http.StatusOK, rec.Code)

	acct, err := env.ledger.GetBalance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), acct.Balance)
}

func TestStripeWebhook_CheckoutLinksCustomer(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "u1")

	checkout := stripeEvent("evt_cs_1", "checkout.session.completed",
		`{"id":"cs_1","object":"checkout.session","customer":"cus_42","client_reference_id":"u1"}`)
	rec := env.do(t, http.MethodPost, "/webhooks/stripe", checkout, stripeHeaders(checkout))
	require.Equal(t, http.StatusOK, rec.Code)

	invoice := stripeEvent("evt_paid_2", "invoice.payment_succeeded",
		`{"id":"in_2","object":"invoice","customer":"cus_42"}`)
	rec = env.do(t, http.MethodPost, "/webhooks/stripe", invoice, stripeHeaders(invoice))
	require.Equal(t, http.StatusOK, rec.Code)

	acct, err := env.ledger.GetBalance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), acct.Balance)
	assert.Equal(t, "cus_42", acct.StripeCustomerID)
}

func TestStripeWebhook_UnknownCustomerIgnored(t *testing.T) {
	env := newTestEnv(t)
	payload := stripeEvent("evt_paid_3", "invoice.payment_succeeded",
		`{"id":"in_3","object":"invoice","customer":"cus_nobody"}`)

	rec := env.do(t, http.MethodPost, "/webhooks/stripe", payload, stripeHeaders(payload))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStripeWebhook_CustomerLinkedElsewhereIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "u1")
	env.createAccount(t, "u2")
	require.NoError(t, env.ledger.LinkStripeCustomer(context.Background(), "u1", "cus_7"))

	checkout := stripeEvent("evt_cs_2", "checkout.session.completed",
		`{"id":"cs_2","object":"checkout.session","customer":"cus_7","client_reference_id":"u2"}`)
	rec := env.do(t, http.MethodPost, "/webhooks/stripe", checkout, stripeHeaders(checkout))
	assert.Equal(t, http.StatusOK, rec.Code)

	acct, err := env.ledger.FindByStripeCustomer(context.Background(), "cus_7")
	require.NoError(t, err)
	assert.Equal(t, "u1", acct.UserID)
}
