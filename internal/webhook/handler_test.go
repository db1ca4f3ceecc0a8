package webhook

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bridge-wallet-go/internal/database"
	"bridge-wallet-go/internal/models"
)

type recordingOrchestrator struct {
	transferCalls int
	bridgeCalls   int
	err           error
}

func (r *recordingOrchestrator) HandleTransferNotification(ctx context.Context, env models.WebhookEnvelope) error {
	r.transferCalls++
	return r.err
}

func (r *recordingOrchestrator) HandleBridgeNotification(ctx context.Context, env models.WebhookEnvelope) error {
	r.bridgeCalls++
	return r.err
}

type handlerFixture struct {
	handler *Handler
	priv    *ecdsa.PrivateKey
	orch    *recordingOrchestrator
	db      *sql.DB
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	svc := database.NewServiceWithDB(db)
	require.NoError(t, svc.InitSchema())
	t.Cleanup(svc.Close)

	priv, keys := newSigningFixture(t)
	orch := &recordingOrchestrator{}
	return &handlerFixture{
		handler: NewHandler(NewVerifier(keys), svc, orch),
		priv:    priv,
		orch:    orch,
		db:      db,
	}
}

func (f *handlerFixture) webhookEventCount(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.QueryRow("SELECT COUNT(*) FROM webhook_events").Scan(&n))
	return n
}

func signedRequest(t *testing.T, priv *ecdsa.PrivateKey, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/circle", bytes.NewReader(body))
	req.Header.Set(HeaderSignature, sign(t, priv, body))
	req.Header.Set(HeaderKeyId, "key-1")
	return req
}

func notificationBody(t *testing.T, notificationId, txId, state string) []byte {
	t.Helper()
	body, err := json.Marshal(models.WebhookEnvelope{
		NotificationId:   notificationId,
		NotificationType: "transactions.outbound",
		Notification: models.TransactionNotification{
			Id:    txId,
			State: state,
		},
	})
	require.NoError(t, err)
	return body
}

func TestHandlerMissingHeaders(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/circle", bytes.NewReader([]byte(`{}`)))
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Zero(t, f.orch.transferCalls)
}

func TestHandlerInvalidSignature(t *testing.T) {
	f := newHandlerFixture(t)

	// Signature computed over a different body than the one delivered.
	body := notificationBody(t, "n-1", "ptx-1", "CONFIRMED")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/circle", bytes.NewReader(body))
	req.Header.Set(HeaderSignature, sign(t, f.priv, []byte(`{"different":"body"}`)))
	req.Header.Set(HeaderKeyId, "key-1")

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Zero(t, f.orch.transferCalls, "unverified payloads must never reach the orchestrator")
}

func TestHandlerProcessesVerifiedNotification(t *testing.T) {
	f := newHandlerFixture(t)

	body := notificationBody(t, "n-1", "ptx-1", "CONFIRMED")
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, signedRequest(t, f.priv, body))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"received": true}`, rr.Body.String())
	assert.Equal(t, 1, f.orch.transferCalls)
	assert.Equal(t, 1, f.orch.bridgeCalls)
}

func TestHandlerDuplicateDeliveryLoggedOnceRedispatched(t *testing.T) {
	f := newHandlerFixture(t)
	body := notificationBody(t, "n-1", "ptx-1", "CONFIRMED")

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		f.handler.ServeHTTP(rr, signedRequest(t, f.priv, body))
		assert.Equal(t, http.StatusOK, rr.Code)
	}

	// One audit row per distinct payload; every delivery still reaches the
	// idempotent handlers so a redelivery can resume interrupted work.
	assert.Equal(t, 1, f.webhookEventCount(t))
	assert.Equal(t, 3, f.orch.transferCalls)
	assert.Equal(t, 3, f.orch.bridgeCalls)
}

func TestHandlerRetryAfterFailureReprocesses(t *testing.T) {
	f := newHandlerFixture(t)
	body := notificationBody(t, "n-1", "ptx-1", "COMPLETE")

	// First delivery fails downstream; the 500 tells the provider to retry.
	f.orch.err = assert.AnError
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, signedRequest(t, f.priv, body))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, 1, f.orch.transferCalls)

	// The retried identical body must be dispatched again, not swallowed by
	// the audit-log dedup.
	f.orch.err = nil
	rr = httptest.NewRecorder()
	f.handler.ServeHTTP(rr, signedRequest(t, f.priv, body))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 2, f.orch.transferCalls, "retry after a failed handoff must reach the orchestrator")
	assert.Equal(t, 1, f.orch.bridgeCalls)
	assert.Equal(t, 1, f.webhookEventCount(t))
}

func TestHandlerConnectivityTestAck(t *testing.T) {
	f := newHandlerFixture(t)

	body, err := json.Marshal(models.WebhookEnvelope{
		NotificationId:   "n-test",
		NotificationType: models.NotificationTypeTest,
	})
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, signedRequest(t, f.priv, body))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Zero(t, f.orch.transferCalls)
	assert.Zero(t, f.orch.bridgeCalls)
}

func TestHandlerMalformedJSON(t *testing.T) {
	f := newHandlerFixture(t)

	body := []byte(`{"notificationId": `)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, signedRequest(t, f.priv, body))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerOrchestratorFailure(t *testing.T) {
	f := newHandlerFixture(t)
	f.orch.err = assert.AnError

	body := notificationBody(t, "n-err", "ptx-err", "CONFIRMED")
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, signedRequest(t, f.priv, body))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
