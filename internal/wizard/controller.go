// internal/wizard/controller.go
package wizard

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"admissions-wizard/internal/backend"
	"admissions-wizard/internal/common/errors"
	"admissions-wizard/internal/common/logger"
	"admissions-wizard/internal/common/metrics"
	"admissions-wizard/internal/models"
	"admissions-wizard/internal/storage"
	"admissions-wizard/internal/wizard/cache"
	"admissions-wizard/internal/wizard/ledger"
	"admissions-wizard/internal/wizard/payment"
	"admissions-wizard/internal/wizard/phase"
	"admissions-wizard/internal/wizard/validate"
)

// Notification is a transient user-facing message.
type Notification struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Notifier receives transient notifications. The HTTP facade drains them to
// the front end; tests inspect them directly.
type Notifier interface {
	Success(message string)
	Error(message string)
}

// CollectingNotifier buffers notifications until drained.
type CollectingNotifier struct {
	mu    sync.Mutex
	items []Notification
}

func NewCollectingNotifier() *CollectingNotifier {
	return &CollectingNotifier{}
}

func (n *CollectingNotifier) Success(message string) {
	n.append("success", message)
}

func (n *CollectingNotifier) Error(message string) {
	n.append("error", message)
}

func (n *CollectingNotifier) append(level, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, Notification{Level: level, Message: message})
}

// Drain returns and clears the buffered notifications.
func (n *CollectingNotifier) Drain() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.items
	n.items = nil
	return out
}

// Controller is the wizard state machine for one user session. All state
// lives behind its mutex and changes only through the named operations.
type Controller struct {
	mu sync.Mutex

	logger   logger.Logger
	backend  *backend.Client
	durable  storage.Store
	session  storage.Store
	writer   *cache.Writer
	protocol *payment.Protocol
	phases   *phase.Recorder
	notifier Notifier

	draft   *models.ApplicationDraft
	ledger  *ledger.Ledger
	steps   []Step
	current int

	program     string
	user        *models.StoredUser
	userDetails *backend.RegisteredUser

	reconciled bool
	submitted  bool
}

// Deps wires a controller. Notifier may be nil; a collecting notifier is
// installed in that case.
type Deps struct {
	Logger   logger.Logger
	Backend  *backend.Client
	Durable  storage.Store
	Session  storage.Store
	Writer   *cache.Writer
	Protocol *payment.Protocol
	Phases   *phase.Recorder
	Notifier Notifier
}

// NewController builds the session's controller: identity and ledger load
// from the durable store, the draft resumes from the local snapshot when one
// exists, and the step sequence follows the known program.
func NewController(deps Deps) *Controller {
	if deps.Notifier == nil {
		deps.Notifier = NewCollectingNotifier()
	}

	c := &Controller{
		logger:   deps.Logger,
		backend:  deps.Backend,
		durable:  deps.Durable,
		session:  deps.Session,
		writer:   deps.Writer,
		protocol: deps.Protocol,
		phases:   deps.Phases,
		notifier: deps.Notifier,
		current:  1,
	}

	if raw, err := deps.Durable.Get(storage.KeyUser); err == nil {
		if user, ok := models.DecodeStoredUser(raw); ok {
			c.user = user
			c.program = user.Program
		}
	}

	c.draft = models.NewDraft()
	if snapshot, err := deps.Writer.LoadSnapshot(c.userPhone()); err == nil && snapshot != nil {
		c.draft = snapshot
	}

	c.ledger = ledger.Load(deps.Durable, deps.Logger)
	c.steps = GenerateSteps(c.program)
	return c
}

func (c *Controller) userPhone() string {
	if c.user == nil {
		return ""
	}
	return models.NormalizePhone(c.user.Phone)
}

func (c *Controller) userEmail() string {
	email := ""
	if c.userDetails != nil {
		email = c.userDetails.Email
	}
	if email == "" && c.user != nil {
		email = c.user.Email
	}
	return strings.TrimSpace(email)
}

func (c *Controller) stepNames() []string {
	names := make([]string, len(c.steps))
	for i, s := range c.steps {
		names[i] = s.Name
	}
	return names
}

func (c *Controller) currentStepName() string {
	if c.current >= 1 && c.current <= len(c.steps) {
		return c.steps[c.current-1].Name
	}
	return ""
}

// State is the controller snapshot handed to the facade.
type State struct {
	CurrentStep int                      `json:"currentStep"`
	Steps       []Step                   `json:"steps"`
	Program     string                   `json:"program"`
	Draft       *models.ApplicationDraft `json:"draft"`
	Ledger      ledger.State             `json:"ledger"`
	Submitted   bool                     `json:"submitted"`
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	draftCopy := *c.draft
	return State{
		CurrentStep: c.current,
		Steps:       append([]Step(nil), c.steps...),
		Program:     c.program,
		Draft:       &draftCopy,
		Ledger:      c.ledger.State(),
		Submitted:   c.submitted,
	}
}

// Mount prepares the session view: program resolution and autofill, the
// one-shot document restore, the one-shot payment-return marker, and the
// once-per-mount reconciliation against backend state.
func (c *Controller) Mount(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resolveProgramLocked(ctx)
	c.autofillPersonalLocked()
	c.consumeRestoredDocumentsLocked()
	c.consumeReturnMarkerLocked()
	c.reconcileLocked(ctx)

	if c.currentStepName() == StepPayment {
		c.enterPaymentStepLocked(ctx)
	}
}

// HandleNext validates the current step and advances. A validation failure
// notifies and stays put; a passing step is cached best-effort and the
// position advances, clamped to the last step.
func (c *Controller) HandleNext(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stepName := c.currentStepName()
	if msg := validate.Validate(c.current, c.stepNames(), c.draft, c.program); msg != "" {
		metrics.WizardValidationFailures.WithLabelValues(stepName).Inc()
		c.notifier.Error(msg)
		return errors.NewStepValidationError(msg)
	}

	// Progress saving is non-blocking and silent on failure.
	_ = c.writer.PersistStep(ctx, stepName, c.userPhone(), c.draft)

	if c.current < len(c.steps) {
		c.current++
	}
	metrics.WizardTransitions.WithLabelValues("next").Inc()

	if c.currentStepName() == StepPayment {
		c.enterPaymentStepLocked(ctx)
	}
	return nil
}

// HandleBack moves one step back unconditionally, clamped to the first step.
func (c *Controller) HandleBack(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current > 1 {
		c.current--
	}
	metrics.WizardTransitions.WithLabelValues("back").Inc()

	if c.currentStepName() == StepPayment {
		c.enterPaymentStepLocked(ctx)
	}
}

// HandleChange applies a last-write-wins field edit, snapshots the draft and
// mirrors the current step's slice to the backend cache best-effort.
func (c *Controller) HandleChange(ctx context.Context, section, field string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.applyChangeLocked(section, field, value); err != nil {
		return err
	}
	_ = c.writer.PersistStep(ctx, c.currentStepName(), c.userPhone(), c.draft)
	return nil
}

func (c *Controller) applyChangeLocked(section, field string, value interface{}) error {
	overlay := map[string]interface{}{field: value}

	switch section {
	case "personal":
		return models.MergeInto(&c.draft.Personal, overlay)
	case "address":
		return models.MergeInto(&c.draft.Address, overlay)
	case "education":
		return models.MergeInto(&c.draft.Education, overlay)
	case "btechEducation":
		return models.MergeInto(&c.draft.BtechEducation, overlay)
	case "mtechEducation":
		return models.MergeInto(&c.draft.MtechEducation, overlay)
	case "payment":
		return models.MergeInto(&c.draft.Payment, overlay)
	case "examSchedule":
		// The exam schedule is edited as a whole object.
		if whole, ok := value.(map[string]interface{}); ok && field == "" {
			return models.MergeInto(&c.draft.ExamSchedule, whole)
		}
		return models.MergeInto(&c.draft.ExamSchedule, overlay)
	case "documents":
		return models.MergeInto(&c.draft.Documents, overlay)
	}
	return fmt.Errorf("unknown draft section %q", section)
}

// ConsumePaymentReturn applies the gateway's redirect parameter exactly once.
// The facade strips the parameter from the URL it redirects to, so a reload
// cannot re-apply the outcome.
func (c *Controller) ConsumePaymentReturn(ctx context.Context, status string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch status {
	case "success":
		c.ledger.SetPaymentStatus(ledger.PaymentSuccess)
		c.draft.Payment.PaymentStatus = models.PaymentCompleted
		c.notifier.Success("Payment completed successfully!")
	case "failed":
		c.ledger.SetPaymentStatus(ledger.PaymentFailed)
		c.draft.Payment.PaymentStatus = models.PaymentFailed
		c.notifier.Error("Payment was unsuccessful. Please check your bank and try again.")
	default:
		return false
	}

	if err := c.writer.SaveSnapshot(c.userPhone(), c.draft); err != nil {
		c.logger.WithError(err).Warn("Failed to snapshot draft after payment return")
	}
	return true
}

func (c *Controller) consumeReturnMarkerLocked() {
	if _, err := c.session.Get(storage.KeyPaymentReturnMarker); err != nil {
		return
	}
	if err := c.session.Delete(storage.KeyPaymentReturnMarker); err != nil {
		c.logger.WithError(err).Warn("Failed to clear payment return marker")
	}
	if c.ledger.State().Payment == ledger.PaymentSuccess {
		c.notifier.Success("Payment successful. You can now submit your application.")
	}
}

func (c *Controller) consumeRestoredDocumentsLocked() {
	raw, err := c.durable.Get(storage.KeyRestoredDocuments)
	if err != nil {
		return
	}
	// One-shot: the record is cleared whether or not it applies.
	if err := c.durable.Delete(storage.KeyRestoredDocuments); err != nil {
		c.logger.WithError(err).Warn("Failed to clear restored documents record")
	}

	var restored models.Documents
	if err := json.Unmarshal([]byte(raw), &restored); err != nil || len(restored.Files) == 0 {
		return
	}
	if len(c.draft.Documents.Files) > 0 {
		return
	}
	if c.draft.Documents.Files == nil {
		c.draft.Documents.Files = map[string]models.DocumentFile{}
	}
	for key, file := range restored.Files {
		c.draft.Documents.Files[key] = file
	}
}

func (c *Controller) resolveProgramLocked(ctx context.Context) {
	phone := c.userPhone()
	if phone != "" {
		if details, err := c.backend.RegistrationDetails(ctx, c.userEmail(), phone); err == nil && details != nil && details.Program != "" {
			c.userDetails = details
			c.setProgramLocked(details.Program)
			return
		}
	}
	if c.user != nil && c.user.Program != "" {
		c.setProgramLocked(c.user.Program)
	}
}

func (c *Controller) setProgramLocked(program string) {
	if program == c.program && len(c.steps) > 0 {
		return
	}
	c.program = program
	c.steps = GenerateSteps(program)
	if c.current > len(c.steps) {
		c.current = len(c.steps)
	}
}

// autofillPersonalLocked fills blank personal identity fields from the
// registration record. User edits are never overwritten.
func (c *Controller) autofillPersonalLocked() {
	var name, email, phone string
	if c.userDetails != nil {
		name, email, phone = c.userDetails.Name, c.userDetails.Email, c.userDetails.Phone
	} else if c.user != nil {
		name, email, phone = c.user.Name, c.user.Email, c.user.Phone
	} else {
		return
	}

	if c.draft.Personal.FirstName == "" && name != "" {
		c.draft.Personal.FirstName = name
	}
	if c.draft.Personal.Email == "" && email != "" {
		c.draft.Personal.Email = email
	}
	if c.draft.Personal.Phone == "" && phone != "" {
		c.draft.Personal.Phone = models.NormalizePhone(phone)
	}
}

// reconcileLocked is the once-per-mount recovery pass: backend payment
// status, cached step data, then any submitted application, each best effort.
func (c *Controller) reconcileLocked(ctx context.Context) {
	if c.reconciled {
		return
	}
	c.reconciled = true

	start := time.Now()
	defer func() {
		metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	}()

	email := c.userEmail()
	phone := c.userPhone()
	if email == "" && len(phone) != 10 {
		return
	}

	backendCompleted := false
	backendTxnID := ""
	if status, err := c.backend.PaymentStatus(ctx, email, phone); err == nil {
		if status.HasCompletedPayment && status.TransactionID != "" {
			backendCompleted = true
			backendTxnID = status.TransactionID
			// Never downgrade an already-succeeded ledger.
			if c.ledger.State().Payment != ledger.PaymentSuccess {
				c.ledger.SetPaymentStatus(ledger.PaymentSuccess)
			}
		}
	} else {
		c.logger.WithError(err).Warn("Payment status check failed during reconcile")
	}

	c.mergeStepCacheLocked(ctx, phone, backendCompleted, backendTxnID)
	c.mergeSubmittedApplicationLocked(ctx, phone)
}

func (c *Controller) mergeStepCacheLocked(ctx context.Context, phone string, backendCompleted bool, backendTxnID string) {
	apps, err := c.backend.FetchStepCache(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("Step cache fetch failed during reconcile")
		return
	}

	sessionID := models.SessionID(phone)
	var app *backend.CachedApplication
	for i := range apps {
		if apps[i].SessionID == sessionID {
			app = &apps[i]
			break
		}
	}
	if app == nil {
		return
	}

	steps := app.Steps
	personal := pickSection(steps, "personal_info", "personal", app.Personal)
	address := pickSection(steps, "personal_info", "address", app.Address)
	education := pickSection(steps, "education", "education", pickSection(steps, "personal_info", "education", app.Education))
	btech := pickSection(steps, "education", "btechEducation", app.BtechEducation)
	mtech := pickSection(steps, "education", "mtechEducation", app.MtechEducation)
	examSchedule := pickSection(steps, "exam_schedule", "examSchedule", app.ExamSchedule)
	documents := firstNonEmpty(steps["documents"], app.Documents)

	rawPayment := firstNonEmpty(steps["payment"], pickSection(steps, "personal_info", "payment", app.Payment))
	cachedPayment := unwrapPayment(rawPayment)

	mergeSection(&c.draft.Personal, personal, c.logger)
	mergeSection(&c.draft.Address, address, c.logger)
	mergeSection(&c.draft.Education, education, c.logger)
	mergeSection(&c.draft.BtechEducation, btech, c.logger)
	mergeSection(&c.draft.MtechEducation, mtech, c.logger)
	mergeSection(&c.draft.ExamSchedule, examSchedule, c.logger)
	mergeSection(&c.draft.Documents, documents, c.logger)
	mergeSection(&c.draft.Payment, cachedPayment, c.logger)

	if backendCompleted {
		c.draft.Payment.PaymentStatus = models.PaymentCompleted
		c.draft.Payment.TransactionID = backendTxnID
		if last := c.lastCompletedStepLocked(); last > 1 {
			c.current = last
		} else {
			c.current = 1
		}
	} else {
		c.draft.Payment.PaymentStatus = models.PaymentPending
		c.current = 1
	}
}

// unwrapPayment strips the extra nesting some historical cache records carry
// ({"payment": {"payment": {...}}}) before merging.
func unwrapPayment(raw map[string]interface{}) map[string]interface{} {
	if nested, ok := raw["payment"].(map[string]interface{}); ok {
		return nested
	}
	return raw
}

// lastCompletedStepLocked is the resume heuristic: the first step whose
// marker field is still blank. It is intentionally coarse.
func (c *Controller) lastCompletedStepLocked() int {
	if c.draft.Payment.PaymentStatus != models.PaymentCompleted {
		return 1
	}
	if c.draft.Personal.FirstName == "" {
		return 2
	}
	if c.draft.Education.SSCName == "" {
		return 3
	}
	if c.draft.BtechEducation.University == "" {
		return 4
	}
	return len(c.steps)
}

func (c *Controller) mergeSubmittedApplicationLocked(ctx context.Context, phone string) {
	app, err := c.backend.FetchApplication(ctx, phone)
	if err != nil {
		c.logger.WithError(err).Warn("Application fetch failed during reconcile")
		return
	}
	if app == nil || app.Status == "" {
		return
	}

	mergeSection(&c.draft.Personal, app.Personal, c.logger)
	mergeSection(&c.draft.Address, app.Address, c.logger)
	mergeSection(&c.draft.Education, app.Education, c.logger)
	mergeSection(&c.draft.BtechEducation, app.BtechEducation, c.logger)
	mergeSection(&c.draft.MtechEducation, app.MtechEducation, c.logger)
	mergeSection(&c.draft.Documents, app.Documents, c.logger)
	mergeSection(&c.draft.ExamSchedule, app.ExamSchedule, c.logger)

	if app.IsSubmitted() {
		c.current = len(c.steps)
	}
}

func pickSection(steps map[string]map[string]interface{}, stepKey, section string, fallback map[string]interface{}) map[string]interface{} {
	if step, ok := steps[stepKey]; ok {
		if value, ok := step[section].(map[string]interface{}); ok && len(value) > 0 {
			return value
		}
	}
	return fallback
}

func firstNonEmpty(candidates ...map[string]interface{}) map[string]interface{} {
	for _, candidate := range candidates {
		if len(candidate) > 0 {
			return candidate
		}
	}
	return nil
}

func mergeSection(dst interface{}, overlay map[string]interface{}, log logger.Logger) {
	if len(overlay) == 0 {
		return
	}
	if err := models.MergeInto(dst, overlay); err != nil {
		log.WithError(err).Warn("Skipping unmergeable cached section")
	}
}

// enterPaymentStepLocked reconciles an unresolved transaction when the wizard
// lands on the payment step.
func (c *Controller) enterPaymentStepLocked(ctx context.Context) {
	outcome := c.protocol.EnterStep(ctx, c.draft)
	switch outcome {
	case payment.OutcomeSuccess:
		c.ledger.SetPaymentStatus(ledger.PaymentSuccess)
		c.phases.Record(ctx, phase.Payment, c.userEmail(), c.userPhone())
	case payment.OutcomeFailed:
		c.ledger.SetPaymentStatus(ledger.PaymentFailed)
	}
}

// InitiatePayment starts a gateway round trip from the payment step. All
// resumption state is durably written before the form is returned.
func (c *Controller) InitiatePayment(ctx context.Context) (*payment.GatewayForm, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	amount := c.protocol.BaseAmount() - c.draft.Payment.DiscountApplied
	if amount < 0 {
		amount = 0
	}
	form, err := c.protocol.Initiate(ctx, c.draft, c.payerLocked(), amount)
	if err != nil {
		c.notifier.Error(errorMessage(err, "Failed to initiate payment"))
		return nil, err
	}
	return form, nil
}

func (c *Controller) payerLocked() *models.StoredUser {
	if c.userDetails != nil {
		return &models.StoredUser{
			Name:  c.userDetails.Name,
			Email: c.userDetails.Email,
			Phone: c.userDetails.Phone,
		}
	}
	return c.user
}

// RetryPayment resets a failed payment to pending for another attempt.
func (c *Controller) RetryPayment() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.protocol.RetryReset(c.draft) {
		return false
	}
	c.ledger.SetPaymentStatus(ledger.PaymentPending)
	return true
}

// ApplyCoupon validates and applies a coupon code to the fee.
func (c *Controller) ApplyCoupon(ctx context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.protocol.ApplyCoupon(ctx, c.draft, code, c.payerLocked()); err != nil {
		return err
	}
	c.notifier.Success("Coupon applied successfully!")
	return nil
}

// RemoveCoupon restores the base fee.
func (c *Controller) RemoveCoupon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.protocol.RemoveCoupon(c.draft)
}

// HandleSubmit performs the final submission. It is gated on a succeeded
// payment on both the ledger and the draft; a prior gateway failure returns
// ErrPaymentIncomplete so the caller can run the complete-payment-to-submit
// flow instead. Failures leave all state untouched.
func (c *Controller) HandleSubmit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.ledger.State()
	if state.Payment != ledger.PaymentSuccess || c.draft.Payment.PaymentStatus != models.PaymentCompleted {
		if state.Payment == ledger.PaymentFailed {
			return errors.ErrPaymentIncomplete
		}
		metrics.Submissions.WithLabelValues("blocked").Inc()
		c.notifier.Error("Please complete payment before submitting.")
		return errors.NewPaymentIncompleteError()
	}

	email := c.userEmail()
	phone := c.userPhone()

	// Registration identity wins over form edits to keep records consistent.
	// Phones are normalized so formatted input ("98765 43210") submits the
	// same as bare digits.
	personal := c.draft.Personal
	personal.Phone = models.NormalizePhone(personal.Phone)
	personal.ParentPhone = models.NormalizePhone(personal.ParentPhone)
	if payer := c.payerLocked(); payer != nil {
		if payer.Name != "" {
			personal.FirstName = payer.Name
		}
		if payer.Email != "" {
			personal.Email = payer.Email
		}
		if payer.Phone != "" {
			personal.Phone = models.NormalizePhone(payer.Phone)
		}
	}

	payload := map[string]interface{}{
		"email":        email,
		"phone":        phone,
		"personal":     toMap(personal),
		"address":      toMap(c.draft.Address),
		"education":    toMap(c.draft.Education),
		"ugEducation":  toMap(c.draft.BtechEducation),
		"pgEducation":  toMap(c.draft.MtechEducation),
		"documents":    toMap(c.draft.Documents),
		"examSchedule": toMap(c.draft.ExamSchedule),
	}

	if err := c.backend.SubmitApplication(ctx, payload); err != nil {
		metrics.Submissions.WithLabelValues("error").Inc()
		c.notifier.Error(errorMessage(err, "Failed to save application"))
		return err
	}

	c.ledger.CompleteApplication()
	c.phases.Record(ctx, phase.Application, email, phone)
	c.submitted = true
	metrics.Submissions.WithLabelValues("success").Inc()
	c.notifier.Success("Application submitted successfully! You can download your application as PDF below.")
	return nil
}

// Logout resets the phase ledger and clears session payment state.
func (c *Controller) Logout() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ledger.Logout()
	for _, key := range []string{storage.KeyPaymentReturnMarker, storage.KeyPaymentIntent} {
		if err := c.session.Delete(key); err != nil {
			c.logger.WithError(err).Warn("Failed to clear session key on logout")
		}
	}
}

func toMap(v interface{}) map[string]interface{} {
	encoded, err := json.Marshal(v)
	if err != nil {
		return map[string]interface{}{}
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(encoded, &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}

func errorMessage(err error, fallback string) string {
	var stdErr *errors.StandardError
	if goerrors.As(err, &stdErr) && stdErr.Message != "" {
		return stdErr.Message
	}
	if err != nil && err.Error() != "" {
		return err.Error()
	}
	return fallback
}
