// Package service is the HTTP facade over per-session wizard controllers.
// The front end renders state snapshots and posts named operations; all
// wizard semantics live in the controller.
package service

import (
	"encoding/json"
	goerrors "errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"admissions-wizard/internal/backend"
	"admissions-wizard/internal/common/config"
	stderrors "admissions-wizard/internal/common/errors"
	"admissions-wizard/internal/common/logger"
	"admissions-wizard/internal/common/observability"
	"admissions-wizard/internal/models"
	"admissions-wizard/internal/storage"
	"admissions-wizard/internal/wizard"
	"admissions-wizard/internal/wizard/cache"
	"admissions-wizard/internal/wizard/payment"
	"admissions-wizard/internal/wizard/phase"
)

const sessionCookie = "wizard_session"

type session struct {
	id         string
	controller *wizard.Controller
	notifier   *wizard.CollectingNotifier
	durable    storage.Store
	sessionKV  storage.Store
	mounted    bool
	mu         sync.Mutex
}

// Server owns the session table and the shared infrastructure clients.
type Server struct {
	cfg     *config.Config
	logger  logger.Logger
	backend *backend.Client
	redis   *redis.Client
	phases  *phase.Recorder
	obs     *observability.Observability

	mu       sync.Mutex
	sessions map[string]*session
}

func NewServer(cfg *config.Config, log logger.Logger, client *backend.Client, redisClient *redis.Client, phases *phase.Recorder, obs *observability.Observability) *Server {
	return &Server{
		cfg:      cfg,
		logger:   log,
		backend:  client,
		redis:    redisClient,
		phases:   phases,
		obs:      obs,
		sessions: make(map[string]*session),
	}
}

// stores builds the durable and session-scoped stores for a session id. With
// Redis available both are namespaced Redis stores, so wizard state survives
// gateway round trips and service restarts; without it the service still
// works on in-process memory.
func (s *Server) stores(id string) (storage.Store, storage.Store) {
	if s.redis == nil {
		return storage.NewMemoryStore(), storage.NewMemoryStore()
	}
	sessionTTL := time.Duration(s.cfg.Wizard.SessionTTL) * time.Second
	snapshotTTL := time.Duration(s.cfg.Wizard.SnapshotTTL) * time.Second
	durable := storage.NewRedisStore(s.redis, "wizard:user:"+id, snapshotTTL)
	scoped := storage.NewRedisStore(s.redis, "wizard:session:"+id, sessionTTL)
	return durable, scoped
}

func (s *Server) newController(sess *session) *wizard.Controller {
	writer := cache.NewWriter(s.backend, sess.durable, s.logger)
	protocol := payment.NewProtocol(s.backend, sess.sessionKV, writer, s.logger,
		float64(s.cfg.Wizard.BaseFeeAmount), s.cfg.Gateway.ProductInfo)
	return wizard.NewController(wizard.Deps{
		Logger:   s.logger,
		Backend:  s.backend,
		Durable:  sess.durable,
		Session:  sess.sessionKV,
		Writer:   writer,
		Protocol: protocol,
		Phases:   s.phases,
		Notifier: sess.notifier,
	})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) *session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cookie, err := r.Cookie(sessionCookie); err == nil {
		if sess, ok := s.sessions[cookie.Value]; ok {
			return sess
		}
		// Unknown cookie, likely from before a restart: rebuild the session
		// around the same id so Redis-backed state is found again.
		if sess := s.rebuildSession(cookie.Value); sess != nil {
			return sess
		}
	}

	id := uuid.NewString()
	sess := s.rebuildSession(id)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sess
}

func (s *Server) rebuildSession(id string) *session {
	sess := &session{
		id:       id,
		notifier: wizard.NewCollectingNotifier(),
	}
	sess.durable, sess.sessionKV = s.stores(id)
	sess.controller = s.newController(sess)
	s.sessions[id] = sess
	return sess
}

// Routes returns the facade handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/session/login", s.handleLogin)
	mux.HandleFunc("/api/session/logout", s.handleLogout)
	mux.HandleFunc("/api/wizard", s.handleState)
	mux.HandleFunc("/api/wizard/field", s.handleField)
	mux.HandleFunc("/api/wizard/next", s.handleNext)
	mux.HandleFunc("/api/wizard/back", s.handleBack)
	mux.HandleFunc("/api/wizard/submit", s.handleSubmit)
	mux.HandleFunc("/api/wizard/pay", s.handlePay)
	mux.HandleFunc("/api/wizard/pay/retry", s.handlePayRetry)
	mux.HandleFunc("/api/wizard/coupon", s.handleCoupon)
	mux.HandleFunc("/payment/return", s.handlePaymentReturn)
	return mux
}

type stateResponse struct {
	State         wizard.State          `json:"state"`
	Notifications []wizard.Notification `json:"notifications"`
}

func (s *Server) writeState(w http.ResponseWriter, sess *session) {
	writeJSON(w, http.StatusOK, stateResponse{
		State:         sess.controller.State(),
		Notifications: sess.notifier.Drain(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"detail": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleLogin stores the authenticated user snapshot and rebuilds the
// session's controller around the new identity.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sess := s.getSession(w, r)

	var user models.StoredUser
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		writeError(w, http.StatusBadRequest, "invalid user payload")
		return
	}
	encoded, err := json.Marshal(map[string]interface{}{"user": user})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store user")
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := sess.durable.Set(storage.KeyUser, string(encoded)); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store user")
		return
	}
	sess.controller = s.newController(sess)
	sess.mounted = false
	s.phases.Record(r.Context(), phase.Login, user.Email, user.Phone)
	s.obs.RecordOperation(r.Context(), "login", "success")
	s.writeState(w, sess)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sess := s.getSession(w, r)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.controller.Logout()
	if err := sess.durable.Delete(storage.KeyUser); err != nil {
		s.logger.WithError(err).Warn("Failed to clear stored user on logout")
	}
	sess.controller = s.newController(sess)
	sess.mounted = false
	s.obs.RecordOperation(r.Context(), "logout", "success")
	s.writeState(w, sess)
}

// handleState mounts the wizard on first access and returns the snapshot.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	sess := s.getSession(w, r)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.mounted {
		start := time.Now()
		sess.controller.Mount(r.Context())
		sess.mounted = true
		s.obs.RecordOperationDuration(r.Context(), time.Since(start), "mount")
	}
	s.writeState(w, sess)
}

func (s *Server) handleField(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sess := s.getSession(w, r)

	var req struct {
		Section string      `json:"section"`
		Field   string      `json:"field"`
		Value   interface{} `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid field payload")
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := sess.controller.HandleChange(r.Context(), req.Section, req.Field, req.Value); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeState(w, sess)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sess := s.getSession(w, r)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	// Validation failures surface as notifications in the state response.
	_ = sess.controller.HandleNext(r.Context())
	s.obs.RecordOperation(r.Context(), "next", "ok")
	s.writeState(w, sess)
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sess := s.getSession(w, r)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.controller.HandleBack(r.Context())
	s.obs.RecordOperation(r.Context(), "back", "ok")
	s.writeState(w, sess)
}

// handleSubmit runs the final submission. A prior gateway failure answers
// 409 with a complete-payment action so the front end can reopen the gateway
// without re-collecting the form.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sess := s.getSession(w, r)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	err := sess.controller.HandleSubmit(r.Context())
	var stdErr *stderrors.StandardError
	paymentIncomplete := goerrors.Is(err, stderrors.ErrPaymentIncomplete) ||
		(goerrors.As(err, &stdErr) && stdErr.Code == stderrors.ErrCodePaymentIncomplete)
	if paymentIncomplete {
		s.obs.RecordOperation(r.Context(), "submit", "payment_incomplete")
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"action":        "complete_payment",
			"state":         sess.controller.State(),
			"notifications": sess.notifier.Drain(),
		})
		return
	}
	if err != nil {
		s.obs.RecordOperation(r.Context(), "submit", "error")
	} else {
		s.obs.RecordOperation(r.Context(), "submit", "success")
	}
	s.writeState(w, sess)
}

// handlePay starts a gateway round trip and hands the form to the front end
// for the literal auto-submit.
func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sess := s.getSession(w, r)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	form, err := sess.controller.InitiatePayment(r.Context())
	if err != nil {
		s.obs.RecordOperation(r.Context(), "pay", "error")
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"detail":        errText(err),
			"notifications": sess.notifier.Drain(),
		})
		return
	}
	s.obs.RecordOperation(r.Context(), "pay", "initiated")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"form":          form,
		"state":         sess.controller.State(),
		"notifications": sess.notifier.Drain(),
	})
}

func (s *Server) handlePayRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sess := s.getSession(w, r)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.controller.RetryPayment()
	s.writeState(w, sess)
}

func (s *Server) handleCoupon(w http.ResponseWriter, r *http.Request) {
	sess := s.getSession(w, r)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Code string `json:"code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid coupon payload")
			return
		}
		if err := sess.controller.ApplyCoupon(r.Context(), req.Code); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"detail": errText(err),
				"state":  sess.controller.State(),
			})
			return
		}
	case http.MethodDelete:
		sess.controller.RemoveCoupon()
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeState(w, sess)
}

// handlePaymentReturn is the gateway's redirect target. The payment
// parameter is consumed exactly once and the reply redirects to the
// application view with the parameter stripped.
func (s *Server) handlePaymentReturn(w http.ResponseWriter, r *http.Request) {
	sess := s.getSession(w, r)

	status := r.URL.Query().Get("payment")
	sess.mu.Lock()
	consumed := sess.controller.ConsumePaymentReturn(r.Context(), status)
	sess.mu.Unlock()

	if consumed {
		s.obs.RecordOperation(r.Context(), "payment_return", status)
	}

	target := s.cfg.Gateway.ReturnPath
	if target == "" {
		target = "/application"
	}
	// Preserve any other query parameters the gateway echoed back.
	query := r.URL.Query()
	query.Del("payment")
	if encoded := query.Encode(); encoded != "" {
		target = target + "?" + encoded
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func errText(err error) string {
	var stdErr *stderrors.StandardError
	if goerrors.As(err, &stdErr) {
		return stdErr.Message
	}
	return err.Error()
}
