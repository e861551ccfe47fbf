// internal/backend/models.go
package backend

import (
	"encoding/json"
	"strconv"
)

// CacheStepRequest persists one step's data slice server-side. The session id
// is derived from the user's phone so repeated writes converge on one record.
type CacheStepRequest struct {
	SessionID string                 `json:"session_id"`
	UserID    string                 `json:"user_id"`
	Step      string                 `json:"step"`
	Data      map[string]interface{} `json:"data"`
}

// CachedApplication is one backend-cached draft record. Section payloads stay
// loosely typed because historical records vary in nesting shape.
type CachedApplication struct {
	SessionID      string                            `json:"session_id"`
	Steps          map[string]map[string]interface{} `json:"steps"`
	Personal       map[string]interface{}            `json:"personal"`
	Address        map[string]interface{}            `json:"address"`
	Education      map[string]interface{}            `json:"education"`
	BtechEducation map[string]interface{}            `json:"btechEducation"`
	MtechEducation map[string]interface{}            `json:"mtechEducation"`
	Payment        map[string]interface{}            `json:"payment"`
	ExamSchedule   map[string]interface{}            `json:"examSchedule"`
	Documents      map[string]interface{}            `json:"documents"`
}

type StepCacheResponse struct {
	CachedApplications []CachedApplication `json:"cached_applications"`
}

type PaymentStatusResponse struct {
	HasCompletedPayment bool   `json:"hasCompletedPayment"`
	TransactionID       string `json:"transactionId"`
}

// SubmittedApplication is the authoritative record once a final submit has
// succeeded; its fields take precedence over cached-draft data.
type SubmittedApplication struct {
	Status         string                 `json:"status"`
	Personal       map[string]interface{} `json:"personal"`
	Address        map[string]interface{} `json:"address"`
	Education      map[string]interface{} `json:"education"`
	BtechEducation map[string]interface{} `json:"btechEducation"`
	MtechEducation map[string]interface{} `json:"mtechEducation"`
	Documents      map[string]interface{} `json:"documents"`
	ExamSchedule   map[string]interface{} `json:"examSchedule"`
}

// IsSubmitted reports whether the record represents a fully submitted
// application.
func (a *SubmittedApplication) IsSubmitted() bool {
	return a.Status == "SUBMITTED" || a.Status == "completed"
}

type PayUInitRequest struct {
	Amount      float64 `json:"amount"`
	Firstname   string  `json:"firstname"`
	Email       string  `json:"email"`
	Phone       string  `json:"phone"`
	ProductInfo string  `json:"productinfo"`
}

// FlexibleAmount decodes both the numeric and the string amount shapes the
// backend has produced over time.
type FlexibleAmount struct {
	value   string
	numeric bool
}

func (a *FlexibleAmount) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		a.value, a.numeric = s, false
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	a.value, a.numeric = n.String(), true
	return nil
}

func (a FlexibleAmount) MarshalJSON() ([]byte, error) {
	if a.numeric {
		return []byte(a.value), nil
	}
	return json.Marshal(a.value)
}

func (a FlexibleAmount) String() string {
	return a.value
}

func (a FlexibleAmount) Float64() (float64, error) {
	return strconv.ParseFloat(a.value, 64)
}

// FormValue renders numeric amounts with two decimals; amounts the backend
// already sent as strings pass through untouched.
func (a FlexibleAmount) FormValue() string {
	if a.numeric {
		if f, err := strconv.ParseFloat(a.value, 64); err == nil {
			return strconv.FormatFloat(f, 'f', 2, 64)
		}
	}
	return a.value
}

// PayUInitResponse carries the signed gateway form parameters.
type PayUInitResponse struct {
	TxnID       string         `json:"txnid"`
	Amount      FlexibleAmount `json:"amount"`
	Key         string         `json:"key"`
	ProductInfo string         `json:"productinfo"`
	Firstname   string         `json:"firstname"`
	Email       string         `json:"email"`
	Phone       string         `json:"phone"`
	SURL        string         `json:"surl"`
	FURL        string         `json:"furl"`
	Hash        string         `json:"hash"`
	PaymentURL  string         `json:"payment_url"`
}

type CouponRequest struct {
	Code  string `json:"code"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type CouponResponse struct {
	Valid    bool    `json:"valid"`
	Discount float64 `json:"discount"`
	Message  string  `json:"message,omitempty"`
}

type RegistrationDetailsResponse struct {
	User    *RegisteredUser `json:"user"`
	Status  string          `json:"status"`
	Message string          `json:"message"`
}

type RegisteredUser struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Campus         string `json:"campus"`
	Program        string `json:"program"`
	Specialization string `json:"specialization"`
	Role           string `json:"role"`
}

type PaymentRecord struct {
	Status      string                 `json:"status"`
	PaymentData map[string]interface{} `json:"payment_data"`
}

type PaymentRecordsResponse struct {
	Records []PaymentRecord `json:"records"`
}

type PhaseRequest struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Phase string `json:"phase"`
}

// apiError is the error envelope backend endpoints use on non-2xx responses.
type apiError struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

func (e apiError) text() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Message
}
