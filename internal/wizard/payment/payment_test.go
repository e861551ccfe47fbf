package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admissions-wizard/internal/backend"
	"admissions-wizard/internal/common/logger"
	"admissions-wizard/internal/models"
	"admissions-wizard/internal/storage"
	"admissions-wizard/internal/wizard/cache"
)

type fixture struct {
	protocol *Protocol
	durable  *storage.MemoryStore
	session  *storage.MemoryStore
}

func newFixture(t *testing.T, handler http.Handler) *fixture {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	durable := storage.NewMemoryStore()
	session := storage.NewMemoryStore()
	client := backend.NewClient(srv.URL, 2*time.Second, logger.Nop())
	writer := cache.NewWriter(client, durable, logger.Nop())
	return &fixture{
		protocol: NewProtocol(client, session, writer, logger.Nop(), 1200, "PhD Admission Fee"),
		durable:  durable,
		session:  session,
	}
}

func payer() *models.StoredUser {
	return &models.StoredUser{Name: "Asha Rao", Email: "asha@example.com", Phone: "9876543210"}
}

func gatewayInitHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/payu/init":
			var req backend.PayUInitRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"txnid":       "TXN-77",
				"amount":      req.Amount,
				"key":         "gwkey",
				"productinfo": req.ProductInfo,
				"firstname":   req.Firstname,
				"email":       req.Email,
				"phone":       req.Phone,
				"surl":        "https://backend.example/payu/success",
				"furl":        "https://backend.example/payu/failure",
				"hash":        "deadbeef",
				"payment_url": "https://gateway.example/pay",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func TestInitiateWritesResumptionStateBeforeHandoff(t *testing.T) {
	f := newFixture(t, gatewayInitHandler(t))

	draft := models.NewDraft()
	draft.Personal.FirstName = "Asha"
	form, err := f.protocol.Initiate(context.Background(), draft, payer(), 1100)
	require.NoError(t, err)

	// Durable snapshot written.
	_, snapErr := f.durable.Get(storage.DraftKey("9876543210"))
	assert.NoError(t, snapErr)

	// Session return marker and intent written.
	marker, err := f.session.Get(storage.KeyPaymentReturnMarker)
	require.NoError(t, err)
	assert.Equal(t, "1", marker)

	rawIntent, err := f.session.Get(storage.KeyPaymentIntent)
	require.NoError(t, err)
	var intent Intent
	require.NoError(t, json.Unmarshal([]byte(rawIntent), &intent))
	assert.Equal(t, "TXN-77", intent.TxnID)
	assert.Equal(t, "PayU", intent.Method)

	// Draft remembers the transaction.
	assert.Equal(t, "TXN-77", draft.Payment.TransactionID)

	// Form carries the gateway fields in order, amount fixed-point.
	assert.Equal(t, "https://gateway.example/pay", form.URL)
	require.Len(t, form.Fields, 10)
	assert.Equal(t, "key", form.Fields[0].Name)
	assert.Equal(t, FormField{Name: "txnid", Value: "TXN-77"}, form.Fields[1])
	assert.Equal(t, FormField{Name: "amount", Value: "1100.00"}, form.Fields[2])
	assert.Equal(t, "hash", form.Fields[9].Name)
}

func TestInitiateFailureLeavesNoSessionState(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{"detail": "gateway busy"})
	}))

	draft := models.NewDraft()
	form, err := f.protocol.Initiate(context.Background(), draft, payer(), 1200)
	require.Error(t, err)
	assert.Nil(t, form)
	assert.Empty(t, draft.Payment.TransactionID)

	_, markerErr := f.session.Get(storage.KeyPaymentReturnMarker)
	assert.ErrorIs(t, markerErr, storage.ErrNotFound)
	_, intentErr := f.session.Get(storage.KeyPaymentIntent)
	assert.ErrorIs(t, intentErr, storage.ErrNotFound)
}

func TestEnterStepClearsStaleIntentAndResolvesSuccess(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/payments/", r.URL.Path)
		assert.Equal(t, "TXN-77", r.URL.Query().Get("transactionId"))
		json.NewEncoder(w).Encode(backend.PaymentRecordsResponse{Records: []backend.PaymentRecord{{
			Status: "SUCCESS",
			PaymentData: map[string]interface{}{
				"transactionId": "TXN-77",
				"paymentAmount": 1100.0,
				"paymentMethod": "UPI",
			},
		}}})
	}))
	require.NoError(t, f.session.Set(storage.KeyPaymentIntent, `{"txnid":"stale"}`))

	draft := models.NewDraft()
	draft.Payment.TransactionID = "TXN-77"

	outcome := f.protocol.EnterStep(context.Background(), draft)
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.Equal(t, models.PaymentCompleted, draft.Payment.PaymentStatus)
	assert.Equal(t, 1100.0, draft.Payment.PaymentAmount)
	assert.Equal(t, "UPI", draft.Payment.PaymentMethod)

	_, err := f.session.Get(storage.KeyPaymentIntent)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEnterStepResolvesFailure(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(backend.PaymentRecordsResponse{Records: []backend.PaymentRecord{{
			Status:      "failed",
			PaymentData: map[string]interface{}{"errorMessage": "Insufficient funds"},
		}}})
	}))

	draft := models.NewDraft()
	draft.Payment.TransactionID = "TXN-99"

	outcome := f.protocol.EnterStep(context.Background(), draft)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, models.PaymentFailed, draft.Payment.PaymentStatus)
	assert.Equal(t, "Insufficient funds", draft.Payment.ErrorMessage)
}

func TestEnterStepFailureWithoutDetailGetsDefaultMessage(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(backend.PaymentRecordsResponse{Records: []backend.PaymentRecord{{
			Status: "failed",
		}}})
	}))

	draft := models.NewDraft()
	draft.Payment.TransactionID = "TXN-99"

	outcome := f.protocol.EnterStep(context.Background(), draft)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, "Transaction failed", draft.Payment.ErrorMessage)
}

func TestEnterStepSkipsCompletedPayments(t *testing.T) {
	called := false
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	draft := models.NewDraft()
	draft.Payment.TransactionID = "TXN-77"
	draft.Payment.PaymentStatus = models.PaymentCompleted

	assert.Equal(t, OutcomeNone, f.protocol.EnterStep(context.Background(), draft))
	assert.False(t, called)
}

func TestResolveLookupFailureKeepsPending(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	draft := models.NewDraft()
	outcome := f.protocol.Resolve(context.Background(), draft, "TXN-1")
	assert.Equal(t, OutcomeNone, outcome)
	assert.Equal(t, models.PaymentPending, draft.Payment.PaymentStatus)
}

func TestApplyCouponBackendValid(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req backend.CouponRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "CAMPUS300", req.Code)
		json.NewEncoder(w).Encode(backend.CouponResponse{Valid: true, Discount: 300})
	}))

	draft := models.NewDraft()
	require.NoError(t, f.protocol.ApplyCoupon(context.Background(), draft, " campus300 ", payer()))
	assert.Equal(t, "CAMPUS300", draft.Payment.CouponCode)
	assert.Equal(t, 300.0, draft.Payment.DiscountApplied)
	assert.Equal(t, 900.0, draft.Payment.Amount)
}

func TestApplyCouponLegacyFallback(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(backend.CouponResponse{Valid: false})
	}))

	draft := models.NewDraft()
	require.NoError(t, f.protocol.ApplyCoupon(context.Background(), draft, "welcome100", payer()))
	assert.Equal(t, "WELCOME100", draft.Payment.CouponCode)
	assert.Equal(t, 100.0, draft.Payment.DiscountApplied)
	assert.Equal(t, 1100.0, draft.Payment.Amount)
}

func TestApplyCouponDiscountNeverGoesNegative(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(backend.CouponResponse{Valid: false})
	}))

	draft := models.NewDraft()
	require.NoError(t, f.protocol.ApplyCoupon(context.Background(), draft, "VIG100", payer()))
	assert.Equal(t, 0.0, draft.Payment.Amount)
}

func TestApplyCouponUnknownCodeResetsFee(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(backend.CouponResponse{Valid: false, Message: "expired"})
	}))

	draft := models.NewDraft()
	draft.Payment.DiscountApplied = 100
	draft.Payment.Amount = 1100

	err := f.protocol.ApplyCoupon(context.Background(), draft, "NOPE", payer())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
	assert.Equal(t, 0.0, draft.Payment.DiscountApplied)
	assert.Equal(t, 1200.0, draft.Payment.Amount)
}

func TestRemoveCoupon(t *testing.T) {
	f := newFixture(t, http.NewServeMux())

	draft := models.NewDraft()
	draft.Payment.CouponCode = "WELCOME100"
	draft.Payment.DiscountApplied = 100
	draft.Payment.Amount = 1100

	f.protocol.RemoveCoupon(draft)
	assert.Empty(t, draft.Payment.CouponCode)
	assert.Equal(t, 0.0, draft.Payment.DiscountApplied)
	assert.Equal(t, 1200.0, draft.Payment.Amount)
}

func TestRetryReset(t *testing.T) {
	f := newFixture(t, http.NewServeMux())

	draft := models.NewDraft()
	draft.Payment.PaymentStatus = models.PaymentFailed
	draft.Payment.ErrorMessage = "Insufficient funds"

	assert.True(t, f.protocol.RetryReset(draft))
	assert.Equal(t, models.PaymentPending, draft.Payment.PaymentStatus)
	assert.Empty(t, draft.Payment.ErrorMessage)

	draft.Payment.PaymentStatus = models.PaymentCompleted
	assert.False(t, f.protocol.RetryReset(draft))
	assert.Equal(t, models.PaymentCompleted, draft.Payment.PaymentStatus)
}
