// Package storage is the narrow persistence port behind the wizard's durable
// and session-scoped state, so the state machine is testable without a real
// backing store.
package storage

import "errors"

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("storage: key not found")

// Store is a flat key-value port. The durable instance outlives payment
// gateway round trips and full restarts; the session instance is dropped when
// the user's session ends.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Well-known durable keys.
const (
	KeyStepLedger        = "vignan_student_steps"
	KeyUser              = "user"
	KeyRestoredDocuments = "vignan_restored_documents"

	draftKeyPrefix   = "studentApplicationForm"
	draftKeyUnscoped = "studentApplicationForm"
)

// Session-scoped keys.
const (
	KeyPaymentReturnMarker = "payment_return_to_application"
	KeyPaymentIntent       = "paymentIntent"
)

// DraftKey returns the phone-scoped draft snapshot key, falling back to the
// unscoped key when no phone is known yet.
func DraftKey(phone string) string {
	if phone == "" {
		return draftKeyUnscoped
	}
	return draftKeyPrefix + "_" + phone
}
