// Full application journey against a stubbed admissions backend: login,
// gateway round trip, step walkthrough, a service restart mid-flight and the
// final submit. State lives in miniredis so the restart stage exercises real
// persistence, not test doubles.
package e2e

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admissions-wizard/internal/backend"
	"admissions-wizard/internal/common/config"
	"admissions-wizard/internal/common/database"
	"admissions-wizard/internal/common/logger"
	"admissions-wizard/internal/common/observability"
	"admissions-wizard/internal/models"
	"admissions-wizard/internal/service"
	"admissions-wizard/internal/wizard"
	"admissions-wizard/internal/wizard/ledger"
	"admissions-wizard/internal/wizard/phase"
)

// backendStub plays the admissions backend. It records step-cache writes and
// serves them back, flips to "payment completed" when told, and captures the
// final submission.
type backendStub struct {
	mu sync.Mutex

	paymentCompleted bool
	txnID            string
	cached           map[string]map[string]map[string]interface{}
	submissions      []map[string]interface{}
	phases           []string
}

func newBackendStub() *backendStub {
	return &backendStub{
		cached: map[string]map[string]map[string]interface{}{},
	}
}

func (b *backendStub) completePayment() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paymentCompleted = true
}

func (b *backendStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/student/payment-status/", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{
			"hasCompletedPayment": b.paymentCompleted,
			"transactionId":       b.txnID,
		})
	})
	mux.HandleFunc("/api/step/cache/", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		apps := make([]map[string]interface{}, 0, len(b.cached))
		for sessionID, steps := range b.cached {
			apps = append(apps, map[string]interface{}{
				"session_id": sessionID,
				"steps":      steps,
			})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"cached_applications": apps})
	})
	mux.HandleFunc("/api/step/", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SessionID string                 `json:"session_id"`
			Step      string                 `json:"step"`
			Data      map[string]interface{} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.cached[req.SessionID] == nil {
			b.cached[req.SessionID] = map[string]map[string]interface{}{}
		}
		b.cached[req.SessionID][req.Step] = req.Data
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/applications/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/api/register/details/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/api/payments/", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		records := []map[string]interface{}{}
		if b.paymentCompleted {
			records = append(records, map[string]interface{}{
				"status": "success",
				"payment_data": map[string]interface{}{
					"transactionId": b.txnID,
					"paymentAmount": 1200.0,
					"paymentMethod": "UPI",
				},
			})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"records": records})
	})
	mux.HandleFunc("/api/payu/init", func(w http.ResponseWriter, r *http.Request) {
		var req backend.PayUInitRequest
		json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		b.txnID = "TXN-E2E-1"
		b.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{
			"txnid":       "TXN-E2E-1",
			"amount":      req.Amount,
			"key":         "merchant-key",
			"productinfo": req.ProductInfo,
			"firstname":   req.Firstname,
			"email":       req.Email,
			"phone":       req.Phone,
			"surl":        "https://gateway.example/surl",
			"furl":        "https://gateway.example/furl",
			"hash":        "deadbeef",
			"payment_url": "https://gateway.example/pay",
		})
	})
	mux.HandleFunc("/api/application/submit", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		b.submissions = append(b.submissions, payload)
		b.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/student/phase", func(w http.ResponseWriter, r *http.Request) {
		var req backend.PhaseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			b.mu.Lock()
			b.phases = append(b.phases, req.Phase)
			b.mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// newService boots a wizard service instance against the stub backend and the
// shared miniredis, as the binary would wire it.
func newService(t *testing.T, stubURL, redisAddr string) *httptest.Server {
	t.Helper()

	cfg := &config.Config{}
	cfg.Backend.BaseURL = stubURL
	cfg.Gateway.ProductInfo = "PhD Admission Fee"
	cfg.Gateway.ReturnPath = "/application"
	cfg.Wizard.BaseFeeAmount = 1200
	cfg.Wizard.SessionTTL = 1800

	log := logger.Nop()
	rc, err := database.NewRedis(config.RedisConfig{Address: redisAddr})
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	client := backend.NewClient(stubURL, 5*time.Second, log)
	phases := phase.NewRecorder(client, nil, log)
	srv := service.NewServer(cfg, log, client, rc.Client, phases, &observability.Observability{})

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

// apiClient talks to one service instance with a pinned session cookie, so the
// same session can be replayed against a restarted instance.
type apiClient struct {
	base    string
	session string
}

func (c *apiClient) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req, err := http.NewRequest(method, c.base+path, bytes.NewReader(payload))
	require.NoError(t, err)
	if c.session != "" {
		req.AddCookie(&http.Cookie{Name: "wizard_session", Value: c.session})
	}
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	for _, cookie := range resp.Cookies() {
		if cookie.Name == "wizard_session" {
			c.session = cookie.Value
		}
	}
	return resp
}

type stateResponse struct {
	State         wizard.State          `json:"state"`
	Notifications []wizard.Notification `json:"notifications"`
}

func (c *apiClient) state(t *testing.T, resp *http.Response) stateResponse {
	t.Helper()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out stateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (c *apiClient) setField(t *testing.T, section, field string, value interface{}) {
	t.Helper()
	resp := c.do(t, http.MethodPost, "/api/wizard/field", map[string]interface{}{
		"section": section,
		"field":   field,
		"value":   value,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestFullApplicationJourney(t *testing.T) {
	mr := miniredis.RunT(t)
	stub := newBackendStub()
	backendSrv := httptest.NewServer(stub.handler())
	defer backendSrv.Close()

	svc := newService(t, backendSrv.URL, mr.Addr())
	api := &apiClient{base: svc.URL}

	t.Log("stage 1: login and first mount")
	resp := api.do(t, http.MethodPost, "/api/session/login", map[string]string{
		"name":    "Asha",
		"email":   "asha@example.com",
		"phone":   "9876543210",
		"program": "phd_cse",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	require.NotEmpty(t, api.session)

	state := api.state(t, api.do(t, http.MethodGet, "/api/wizard", nil))
	require.Equal(t, 1, state.State.CurrentStep)
	require.Len(t, state.State.Steps, 4)
	assert.Equal(t, "Payment", state.State.Steps[0].Name)
	assert.Equal(t, "Review", state.State.Steps[3].Name)

	t.Log("stage 2: payment gate blocks advance, gateway round trip completes it")
	blocked := api.state(t, api.do(t, http.MethodPost, "/api/wizard/next", nil))
	assert.Equal(t, 1, blocked.State.CurrentStep)
	require.NotEmpty(t, blocked.Notifications)
	assert.Equal(t, "Please complete the payment before proceeding.", blocked.Notifications[0].Message)

	payResp := api.do(t, http.MethodPost, "/api/wizard/pay", nil)
	require.Equal(t, http.StatusOK, payResp.StatusCode)
	var pay struct {
		Form struct {
			URL    string `json:"url"`
			Fields []struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			} `json:"fields"`
		} `json:"form"`
	}
	require.NoError(t, json.NewDecoder(payResp.Body).Decode(&pay))
	payResp.Body.Close()
	assert.Equal(t, "https://gateway.example/pay", pay.Form.URL)
	require.Len(t, pay.Form.Fields, 10)
	assert.Equal(t, "TXN-E2E-1", pay.Form.Fields[1].Value)
	assert.Equal(t, "1200.00", pay.Form.Fields[2].Value)

	// The gateway settles the transaction and redirects the student back.
	stub.completePayment()
	ret := api.do(t, http.MethodGet, "/payment/return?payment=success&txnid=TXN-E2E-1", nil)
	ret.Body.Close()
	require.Equal(t, http.StatusSeeOther, ret.StatusCode)
	assert.NotContains(t, ret.Header.Get("Location"), "payment=success")

	state = api.state(t, api.do(t, http.MethodGet, "/api/wizard", nil))
	assert.Equal(t, models.PaymentCompleted, state.State.Draft.Payment.PaymentStatus)
	assert.Equal(t, ledger.PaymentSuccess, state.State.Ledger.Payment)

	t.Log("stage 3: walk the remaining steps")
	state = api.state(t, api.do(t, http.MethodPost, "/api/wizard/next", nil))
	require.Equal(t, 2, state.State.CurrentStep)

	api.setField(t, "personal", "parentName", "Ravi")
	api.setField(t, "personal", "dob", "1999-04-12")
	api.setField(t, "personal", "gender", "female")
	api.setField(t, "personal", "parentPhone", "9123456780")
	api.setField(t, "personal", "category", "OC")
	api.setField(t, "address", "street", "12 MG Road")
	api.setField(t, "address", "state", "Andhra Pradesh")
	api.setField(t, "address", "city", "Guntur")
	api.setField(t, "address", "pincode", "522213")

	state = api.state(t, api.do(t, http.MethodPost, "/api/wizard/next", nil))
	require.Equal(t, 3, state.State.CurrentStep, "personal info should validate after autofill plus edits")

	api.setField(t, "education", "sscName", "ZPH School")
	api.setField(t, "education", "Board", "SSC")
	api.setField(t, "education", "Marks", "9.2")
	api.setField(t, "education", "xYearOfPassing", "2014")
	api.setField(t, "education", "schoolName", "Sri Junior College")
	api.setField(t, "education", "interBoard", "BIE")
	api.setField(t, "education", "interStream", "MPC")
	api.setField(t, "education", "interMarks", "950")
	api.setField(t, "education", "percentage", "95")
	api.setField(t, "documents", "files", map[string]interface{}{
		"ssc":   map[string]interface{}{"id": "doc-1", "name": "ssc.pdf"},
		"inter": map[string]interface{}{"id": "doc-2", "name": "inter.pdf"},
	})

	state = api.state(t, api.do(t, http.MethodPost, "/api/wizard/next", nil))
	require.Equal(t, 4, state.State.CurrentStep)
	assert.Equal(t, "Review", state.State.Steps[state.State.CurrentStep-1].Name)

	t.Log("stage 4: restart the service and resume from persisted state")
	restarted := newService(t, backendSrv.URL, mr.Addr())
	api2 := &apiClient{base: restarted.URL, session: api.session}

	state = api2.state(t, api2.do(t, http.MethodGet, "/api/wizard", nil))
	assert.Equal(t, 4, state.State.CurrentStep, "resume heuristic should land on review")
	assert.Equal(t, models.PaymentCompleted, state.State.Draft.Payment.PaymentStatus)
	assert.Equal(t, "TXN-E2E-1", state.State.Draft.Payment.TransactionID)
	assert.Equal(t, "Asha", state.State.Draft.Personal.FirstName)
	assert.Equal(t, "ZPH School", state.State.Draft.Education.SSCName)
	assert.Contains(t, state.State.Draft.Documents.Files, "inter")

	t.Log("stage 5: submit")
	state = api2.state(t, api2.do(t, http.MethodPost, "/api/wizard/submit", nil))
	assert.True(t, state.State.Submitted)
	messages := make([]string, 0, len(state.Notifications))
	for _, n := range state.Notifications {
		messages = append(messages, n.Message)
	}
	assert.Contains(t, messages, "Application submitted successfully! You can download your application as PDF below.")

	stub.mu.Lock()
	defer stub.mu.Unlock()
	require.Len(t, stub.submissions, 1)
	payload := stub.submissions[0]
	assert.Equal(t, "9876543210", payload["phone"])
	assert.Equal(t, "asha@example.com", payload["email"])
	personal, ok := payload["personal"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Asha", personal["firstName"])
	assert.Contains(t, stub.phases, "login")
	assert.Contains(t, stub.phases, "application")
	assert.Contains(t, stub.cached, "pending-9876543210")
}
