// Package payment implements the gateway round-trip protocol: initiation with
// durable resumption state written before hand-off, post-return resolution by
// transaction id, and coupon adjustment of the fee.
package payment

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"strings"

	"admissions-wizard/internal/backend"
	"admissions-wizard/internal/common/errors"
	"admissions-wizard/internal/common/logger"
	"admissions-wizard/internal/common/metrics"
	"admissions-wizard/internal/models"
	"admissions-wizard/internal/storage"
	"admissions-wizard/internal/wizard/cache"
)

// FormField is one hidden input of the gateway form.
type FormField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// GatewayForm is the materialized POST the front end auto-submits to the
// gateway. Field order matters to some gateway implementations, so it is a
// slice, not a map.
type GatewayForm struct {
	URL    string      `json:"url"`
	Fields []FormField `json:"fields"`
}

// Intent is the session snapshot of an in-flight transaction.
type Intent struct {
	TxnID     string                 `json:"txnid"`
	Amount    backend.FlexibleAmount `json:"amount"`
	Method    string                 `json:"method"`
	FirstName string                 `json:"firstName"`
	Email     string                 `json:"email"`
	Phone     string                 `json:"phone"`
}

// Outcome of a post-return payment resolution.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeSuccess
	OutcomeFailed
)

// Legacy coupon codes honored when the backend does not know the code.
var legacyCoupons = map[string]float64{
	"SAVE7X3":      150,
	"SPRING50":     50,
	"FLARE2025":    200,
	"LUCKY8K":      800,
	"NEO500":       500,
	"FLASH120":     120,
	"VORTEX999":    999,
	"EARLYBIRD250": 250,
	"WELCOME100":   100,
	"BONUS25":      25,
	"MEGA750":      750,
	"VIG90":        1190,
	"VIG100":       1999,
	"NEURO100":     1223.6,
	"CHARI6268":    1199,
	"SSVU26F":      600,
	"SSVU26M":      600,
}

// Protocol drives the gateway round trip for one user.
type Protocol struct {
	backend     *backend.Client
	session     storage.Store
	writer      *cache.Writer
	logger      logger.Logger
	baseAmount  float64
	productInfo string
}

func NewProtocol(client *backend.Client, session storage.Store, writer *cache.Writer, log logger.Logger, baseAmount float64, productInfo string) *Protocol {
	if baseAmount <= 0 {
		baseAmount = models.DefaultFeeAmount
	}
	if productInfo == "" {
		productInfo = "PhD Admission Fee"
	}
	return &Protocol{
		backend:     client,
		session:     session,
		writer:      writer,
		logger:      log,
		baseAmount:  baseAmount,
		productInfo: productInfo,
	}
}

func (p *Protocol) BaseAmount() float64 {
	return p.baseAmount
}

// Initiate prepares a gateway hand-off: it durably snapshots the draft, marks
// the session for post-return recovery, obtains signed parameters from the
// backend and records the payment intent. Any failure before the form is
// returned surfaces an error and consumes nothing.
func (p *Protocol) Initiate(ctx context.Context, draft *models.ApplicationDraft, payer *models.StoredUser, amount float64) (*GatewayForm, error) {
	phone := ""
	if payer != nil {
		phone = models.NormalizePhone(payer.Phone)
	}
	if err := p.writer.SaveSnapshot(phone, draft); err != nil {
		p.logger.WithError(err).Warn("Failed to snapshot draft before gateway hand-off")
	}
	if err := p.session.Set(storage.KeyPaymentReturnMarker, "1"); err != nil {
		return nil, errors.NewPaymentInitError("Failed to open payment gateway.")
	}

	req := backend.PayUInitRequest{
		Amount:      amount,
		Firstname:   "Student",
		Email:       "student@example.com",
		Phone:       "9999999999",
		ProductInfo: p.productInfo,
	}
	if payer != nil {
		if payer.Name != "" {
			req.Firstname = payer.Name
		}
		if payer.Email != "" {
			req.Email = payer.Email
		}
		if phone != "" {
			req.Phone = phone
		}
	}

	resp, err := p.backend.InitPayment(ctx, req)
	if err != nil {
		// Initiation failed before hand-off; the return marker must not leak
		// into the next mount.
		if delErr := p.session.Delete(storage.KeyPaymentReturnMarker); delErr != nil {
			p.logger.WithError(delErr).Warn("Failed to clear payment return marker")
		}
		metrics.PaymentRoundTrips.WithLabelValues("init_failed").Inc()
		return nil, err
	}

	intent := Intent{
		TxnID:     resp.TxnID,
		Amount:    resp.Amount,
		Method:    "PayU",
		FirstName: resp.Firstname,
		Email:     resp.Email,
		Phone:     resp.Phone,
	}
	encoded, err := json.Marshal(intent)
	if err == nil {
		if setErr := p.session.Set(storage.KeyPaymentIntent, string(encoded)); setErr != nil {
			p.logger.WithError(setErr).Warn("Failed to record payment intent")
		}
	}

	draft.Payment.TransactionID = resp.TxnID
	draft.Payment.PaymentMethod = "PayU"

	metrics.PaymentRoundTrips.WithLabelValues("initiated").Inc()
	return buildGatewayForm(resp), nil
}

func buildGatewayForm(resp *backend.PayUInitResponse) *GatewayForm {
	return &GatewayForm{
		URL: resp.PaymentURL,
		Fields: []FormField{
			{Name: "key", Value: resp.Key},
			{Name: "txnid", Value: resp.TxnID},
			{Name: "amount", Value: resp.Amount.FormValue()},
			{Name: "productinfo", Value: resp.ProductInfo},
			{Name: "firstname", Value: resp.Firstname},
			{Name: "email", Value: resp.Email},
			{Name: "phone", Value: resp.Phone},
			{Name: "surl", Value: resp.SURL},
			{Name: "furl", Value: resp.FURL},
			{Name: "hash", Value: resp.Hash},
		},
	}
}

// EnterStep runs when the wizard lands on the payment step: any stale intent
// is dropped, and an unresolved transaction id is reconciled against the
// gateway records.
func (p *Protocol) EnterStep(ctx context.Context, draft *models.ApplicationDraft) Outcome {
	if err := p.session.Delete(storage.KeyPaymentIntent); err != nil {
		p.logger.WithError(err).Warn("Failed to clear stale payment intent")
	}

	if draft.Payment.TransactionID == "" || draft.Payment.PaymentStatus == models.PaymentCompleted {
		return OutcomeNone
	}
	return p.Resolve(ctx, draft, draft.Payment.TransactionID)
}

// Resolve polls the gateway records for a transaction and applies the result
// to the draft. Lookup failures resolve to OutcomeNone; the transaction stays
// pending and can be re-checked later.
func (p *Protocol) Resolve(ctx context.Context, draft *models.ApplicationDraft, transactionID string) Outcome {
	records, err := p.backend.PaymentRecords(ctx, transactionID)
	if err != nil {
		p.logger.WithError(err).Warn("Failed to fetch payment records")
		return OutcomeNone
	}
	if len(records) == 0 {
		return OutcomeNone
	}

	record := records[0]
	status := strings.ToLower(record.Status)
	switch status {
	case "success", "completed":
		draft.Payment.PaymentStatus = models.PaymentCompleted
		if txn, ok := record.PaymentData["transactionId"].(string); ok && txn != "" {
			draft.Payment.TransactionID = txn
		} else {
			draft.Payment.TransactionID = transactionID
		}
		if amount, ok := record.PaymentData["paymentAmount"].(float64); ok {
			draft.Payment.PaymentAmount = amount
		}
		if method, ok := record.PaymentData["paymentMethod"].(string); ok && method != "" {
			draft.Payment.PaymentMethod = method
		} else {
			draft.Payment.PaymentMethod = "PayU"
		}
		metrics.PaymentRoundTrips.WithLabelValues("success").Inc()
		return OutcomeSuccess
	case "failure", "failed":
		draft.Payment.PaymentStatus = models.PaymentFailed
		detail, _ := record.PaymentData["errorMessage"].(string)
		gwErr := errors.NewGatewayFailureError(transactionID, detail)
		draft.Payment.ErrorMessage = gwErr.Message
		p.logger.WithError(gwErr).Warn("Gateway reported transaction failure")
		metrics.PaymentRoundTrips.WithLabelValues("failed").Inc()
		return OutcomeFailed
	}
	return OutcomeNone
}

// ApplyCoupon validates a code with the backend first and falls back to the
// legacy in-code table. A rejected or unverifiable code resets the fee.
func (p *Protocol) ApplyCoupon(ctx context.Context, draft *models.ApplicationDraft, code string, payer *models.StoredUser) error {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return errors.NewCouponInvalidError("Enter a coupon code")
	}

	req := backend.CouponRequest{Code: normalized}
	if payer != nil {
		req.Email = payer.Email
		req.Phone = models.NormalizePhone(payer.Phone)
	}

	resp, err := p.backend.ValidateCoupon(ctx, req)
	if err == nil && resp.Valid {
		p.applyDiscount(draft, normalized, resp.Discount)
		return nil
	}
	if discount, ok := legacyCoupons[normalized]; ok {
		p.applyDiscount(draft, normalized, discount)
		return nil
	}

	p.resetFee(draft)
	if err != nil {
		var stdErr *errors.StandardError
		if goerrors.As(err, &stdErr) && stdErr.Code == errors.ErrCodeCouponInvalid {
			return err
		}
		return errors.NewCouponInvalidError("Could not validate coupon.")
	}
	return errors.NewCouponInvalidError(resp.Message)
}

func (p *Protocol) applyDiscount(draft *models.ApplicationDraft, code string, discount float64) {
	amount := p.baseAmount - discount
	if amount < 0 {
		amount = 0
	}
	draft.Payment.CouponCode = code
	draft.Payment.DiscountApplied = discount
	draft.Payment.Amount = amount
}

func (p *Protocol) resetFee(draft *models.ApplicationDraft) {
	draft.Payment.DiscountApplied = 0
	draft.Payment.Amount = p.baseAmount
}

// RemoveCoupon clears the applied coupon and restores the base fee.
func (p *Protocol) RemoveCoupon(draft *models.ApplicationDraft) {
	draft.Payment.CouponCode = ""
	p.resetFee(draft)
}

// RetryReset moves a failed payment back to pending so the gateway can be
// retried. Any other status is left alone.
func (p *Protocol) RetryReset(draft *models.ApplicationDraft) bool {
	if draft.Payment.PaymentStatus != models.PaymentFailed {
		return false
	}
	draft.Payment.PaymentStatus = models.PaymentPending
	draft.Payment.ErrorMessage = ""
	return true
}
