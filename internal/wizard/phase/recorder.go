// Package phase records workflow phase completions (registration, login,
// payment, application) for audit and analytics. Recording is best effort on
// both sinks: the backend endpoint and a local phase_events table.
package phase

import (
	"context"
	"database/sql"
	"strings"

	"admissions-wizard/internal/backend"
	"admissions-wizard/internal/common/logger"
	"admissions-wizard/internal/models"
)

type Name string

const (
	Registration Name = "registration"
	Login        Name = "login"
	Payment      Name = "payment"
	Application  Name = "application"
)

// Recorder writes phase events. The database is optional; when nil only the
// backend sink is used.
type Recorder struct {
	backend *backend.Client
	db      *sql.DB
	logger  logger.Logger
}

func NewRecorder(client *backend.Client, db *sql.DB, log logger.Logger) *Recorder {
	return &Recorder{
		backend: client,
		db:      db,
		logger:  log,
	}
}

const insertPhaseEvent = `
	INSERT INTO phase_events (email, phone, phase, recorded_at)
	VALUES ($1, $2, $3, NOW())`

// Record reports one phase completion. Events without any identity are
// dropped. Sink failures are logged and swallowed; phase recording never
// blocks the flow that triggered it.
func (r *Recorder) Record(ctx context.Context, phase Name, email, phone string) {
	email = strings.TrimSpace(email)
	phone = models.NormalizePhone(phone)
	if email == "" && phone == "" {
		return
	}

	fields := map[string]interface{}{"phase": string(phase), "phone": phone}

	if err := r.backend.RecordPhase(ctx, backend.PhaseRequest{
		Email: email,
		Phone: phone,
		Phase: string(phase),
	}); err != nil {
		r.logger.WithError(err).WithFields(fields).Debug("Backend phase record failed")
	}

	if r.db != nil {
		if _, err := r.db.ExecContext(ctx, insertPhaseEvent, email, phone, string(phase)); err != nil {
			r.logger.WithError(err).WithFields(fields).Warn("Phase event insert failed")
		}
	}
}
