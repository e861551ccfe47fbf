// internal/backend/client.go
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"admissions-wizard/internal/common/errors"
	commonhttp "admissions-wizard/internal/common/http"
	"admissions-wizard/internal/common/logger"
	"admissions-wizard/internal/common/validation"
)

// Client talks to the admissions backend REST API. Every method maps network
// failures to a connectivity error naming the configured base URL so callers
// surface an actionable message instead of a raw transport error.
type Client struct {
	baseURL string
	http    *commonhttp.Client
	logger  logger.Logger
}

func NewClient(baseURL string, timeout time.Duration, log logger.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    commonhttp.NewClient(timeout),
		logger:  log,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) unreachable(err error) error {
	return errors.NewBackendUnreachableError(c.baseURL, err)
}

// CacheStep mirrors one step's data slice to the backend step cache.
func (c *Client) CacheStep(ctx context.Context, req CacheStepRequest) error {
	status, err := c.http.PostJSON(ctx, c.baseURL+"/api/step/"+url.PathEscape(req.Step)+"/", req, nil)
	if err != nil {
		return c.unreachable(err)
	}
	if status < 200 || status >= 300 {
		return errors.NewStepCacheWriteError(req.Step, fmt.Errorf("backend returned status %d", status))
	}
	return nil
}

// FetchStepCache returns every cached draft record for the session ids the
// caller derived from the user's identity.
func (c *Client) FetchStepCache(ctx context.Context) ([]CachedApplication, error) {
	var resp StepCacheResponse
	status, err := c.http.GetJSON(ctx, c.baseURL+"/api/step/cache/", &resp)
	if err != nil {
		return nil, c.unreachable(err)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("step cache fetch returned status %d", status)
	}
	return resp.CachedApplications, nil
}

// PaymentStatus asks the backend whether this student has a completed payment
// on record, by email and/or phone.
func (c *Client) PaymentStatus(ctx context.Context, email, phone string) (*PaymentStatusResponse, error) {
	q := url.Values{}
	if email != "" {
		q.Set("email", email)
	}
	if phone != "" {
		q.Set("phone", phone)
	}
	var resp PaymentStatusResponse
	status, err := c.http.GetJSON(ctx, c.baseURL+"/api/student/payment-status/?"+q.Encode(), &resp)
	if err != nil {
		return nil, c.unreachable(err)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("payment status fetch returned status %d", status)
	}
	return &resp, nil
}

// FetchApplication returns the submitted application for a phone number, or
// nil when none exists. The endpoint historically returned either a single
// record or an array, so both shapes decode.
func (c *Client) FetchApplication(ctx context.Context, phone string) (*SubmittedApplication, error) {
	q := url.Values{}
	q.Set("phone", phone)
	var raw json.RawMessage
	status, err := c.http.GetJSON(ctx, c.baseURL+"/api/applications/?"+q.Encode(), &raw)
	if err != nil {
		return nil, c.unreachable(err)
	}
	if status == 404 {
		return nil, nil
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("application fetch returned status %d", status)
	}
	return decodeApplication(raw)
}

func decodeApplication(raw json.RawMessage) (*SubmittedApplication, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var one SubmittedApplication
	if err := json.Unmarshal(raw, &one); err == nil {
		return &one, nil
	}
	var many []SubmittedApplication
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, fmt.Errorf("decode application record: %w", err)
	}
	if len(many) == 0 {
		return nil, nil
	}
	return &many[0], nil
}

// SubmitApplication posts the full draft payload for final submission. The
// payload is schema-checked first so malformed drafts fail fast with the
// offending fields instead of a backend 400.
func (c *Client) SubmitApplication(ctx context.Context, payload map[string]interface{}) error {
	result, err := validation.ValidateSubmission(payload)
	if err != nil {
		return fmt.Errorf("validate submission payload: %w", err)
	}
	if !result.Valid {
		return errors.NewSubmissionRejectedError("Invalid application payload: " + result.Summary())
	}

	var envelope apiError
	status, err := c.http.PostJSON(ctx, c.baseURL+"/api/application/submit", payload, &envelope)
	if err != nil {
		return c.unreachable(err)
	}
	if status < 200 || status >= 300 {
		return errors.NewSubmissionRejectedError(envelope.text())
	}
	return nil
}

// InitPayment asks the backend to sign a gateway transaction for the given
// amount and payer.
func (c *Client) InitPayment(ctx context.Context, req PayUInitRequest) (*PayUInitResponse, error) {
	var raw json.RawMessage
	status, err := c.http.PostJSON(ctx, c.baseURL+"/api/payu/init", req, &raw)
	if err != nil {
		return nil, c.unreachable(err)
	}
	if status < 200 || status >= 300 {
		var envelope apiError
		_ = json.Unmarshal(raw, &envelope)
		return nil, errors.NewPaymentInitError(envelope.text())
	}
	var resp PayUInitResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode gateway init response: %w", err)
	}
	return &resp, nil
}

// PaymentRecords returns the gateway records for a transaction id, newest
// first, used to resolve an in-flight payment after the round trip.
func (c *Client) PaymentRecords(ctx context.Context, transactionID string) ([]PaymentRecord, error) {
	q := url.Values{}
	q.Set("transactionId", transactionID)
	var resp PaymentRecordsResponse
	status, err := c.http.GetJSON(ctx, c.baseURL+"/api/payments/?"+q.Encode(), &resp)
	if err != nil {
		return nil, c.unreachable(err)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("payment records fetch returned status %d", status)
	}
	return resp.Records, nil
}

// ValidateCoupon checks a coupon code against the backend.
func (c *Client) ValidateCoupon(ctx context.Context, req CouponRequest) (*CouponResponse, error) {
	var resp CouponResponse
	status, err := c.http.PostJSON(ctx, c.baseURL+"/api/student/coupon/validate", req, &resp)
	if err != nil {
		return nil, c.unreachable(err)
	}
	if status < 200 || status >= 300 {
		return nil, errors.NewCouponInvalidError(resp.Message)
	}
	return &resp, nil
}

// RegistrationDetails looks up the registered student record by phone or
// email, used for program resolution and personal-field autofill.
func (c *Client) RegistrationDetails(ctx context.Context, email, phone string) (*RegisteredUser, error) {
	q := url.Values{}
	if phone != "" {
		q.Set("phone", phone)
	} else if email != "" {
		q.Set("email", email)
	}
	var resp RegistrationDetailsResponse
	status, err := c.http.GetJSON(ctx, c.baseURL+"/api/register/details/?"+q.Encode(), &resp)
	if err != nil {
		return nil, c.unreachable(err)
	}
	if status == 404 || resp.User == nil {
		return nil, nil
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("registration details fetch returned status %d", status)
	}
	return resp.User, nil
}

// RecordPhase reports a completed workflow phase. Best effort; callers log
// and swallow the returned error.
func (c *Client) RecordPhase(ctx context.Context, req PhaseRequest) error {
	status, err := c.http.PostJSON(ctx, c.baseURL+"/api/student/phase", req, nil)
	if err != nil {
		return errors.NewPhaseRecordError(req.Phase, err)
	}
	if status < 200 || status >= 300 {
		return errors.NewPhaseRecordError(req.Phase, fmt.Errorf("backend returned status %d", status))
	}
	return nil
}
