// Package cache mirrors wizard progress to the backend step cache and to the
// local draft snapshot. Writes are best effort: the wizard never blocks on
// them and never surfaces their failures to the user.
package cache

import (
	"context"
	"encoding/json"
	"strings"

	"admissions-wizard/internal/backend"
	"admissions-wizard/internal/common/errors"
	"admissions-wizard/internal/common/logger"
	"admissions-wizard/internal/common/metrics"
	"admissions-wizard/internal/models"
	"admissions-wizard/internal/storage"
)

// StepKey converts a display step name to the backend cache key
// ("Personal Info" -> "personal_info").
func StepKey(stepName string) string {
	return strings.ToLower(strings.Join(strings.Fields(stepName), "_"))
}

// StepSlice returns only the draft sections the named step owns, so a write
// for one step can never clobber another step's cached sections. The payment
// slice is the bare payment object for compatibility with existing backend
// records. Review and unknown steps snapshot the whole draft.
func StepSlice(stepName string, draft *models.ApplicationDraft) map[string]interface{} {
	switch stepName {
	case "Payment":
		return toMap(draft.Payment)
	case "Personal Info":
		return map[string]interface{}{
			"personal": toMap(draft.Personal),
			"address":  toMap(draft.Address),
		}
	case "Education":
		return map[string]interface{}{
			"education":      toMap(draft.Education),
			"btechEducation": toMap(draft.BtechEducation),
			"mtechEducation": toMap(draft.MtechEducation),
			"documents":      toMap(draft.Documents),
		}
	case "Exam Schedule":
		return map[string]interface{}{
			"examSchedule": toMap(draft.ExamSchedule),
		}
	case "Documents":
		return map[string]interface{}{
			"documents": toMap(draft.Documents),
		}
	default:
		return toMap(draft)
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

// Writer persists step slices and draft snapshots for one user.
type Writer struct {
	backend *backend.Client
	store   storage.Store
	logger  logger.Logger
}

func NewWriter(client *backend.Client, store storage.Store, log logger.Logger) *Writer {
	return &Writer{
		backend: client,
		store:   store,
		logger:  log,
	}
}

// PersistStep posts the step's slice to the backend cache under the user's
// deterministic session id and mirrors the full draft to the local snapshot.
// The returned error exists for callers that want to observe the outcome;
// the expected treatment is to ignore it.
func (w *Writer) PersistStep(ctx context.Context, stepName, phone string, draft *models.ApplicationDraft) error {
	if err := w.SaveSnapshot(phone, draft); err != nil {
		w.logger.WithError(err).Warn("Failed to write local draft snapshot")
	}

	req := backend.CacheStepRequest{
		SessionID: models.SessionID(phone),
		UserID:    phone,
		Step:      StepKey(stepName),
		Data:      StepSlice(stepName, draft),
	}
	if err := w.backend.CacheStep(ctx, req); err != nil {
		metrics.StepCacheWrites.WithLabelValues("error").Inc()
		w.logger.WithError(err).WithFields(map[string]interface{}{
			"step":       req.Step,
			"session_id": req.SessionID,
		}).Warn("Failed to cache step data")
		return errors.NewStepCacheWriteError(req.Step, err)
	}
	metrics.StepCacheWrites.WithLabelValues("success").Inc()
	return nil
}

// SaveSnapshot writes the full draft to the phone-scoped local snapshot key.
func (w *Writer) SaveSnapshot(phone string, draft *models.ApplicationDraft) error {
	encoded, err := json.Marshal(draft)
	if err != nil {
		return errors.NewSnapshotWriteError(storage.DraftKey(phone), err)
	}
	if err := w.store.Set(storage.DraftKey(phone), string(encoded)); err != nil {
		return errors.NewSnapshotWriteError(storage.DraftKey(phone), err)
	}
	return nil
}

// LoadSnapshot reads the local draft snapshot, preferring the phone-scoped
// key and falling back to the unscoped legacy key.
func (w *Writer) LoadSnapshot(phone string) (*models.ApplicationDraft, error) {
	raw, err := w.store.Get(storage.DraftKey(phone))
	if err != nil && phone != "" {
		raw, err = w.store.Get(storage.DraftKey(""))
	}
	if err != nil {
		return nil, err
	}
	draft := models.NewDraft()
	if err := json.Unmarshal([]byte(raw), draft); err != nil {
		return nil, err
	}
	return draft, nil
}
