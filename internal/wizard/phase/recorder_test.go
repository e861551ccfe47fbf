package phase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admissions-wizard/internal/backend"
	"admissions-wizard/internal/common/logger"
)

func TestRecordWritesBothSinks(t *testing.T) {
	var got backend.PhaseRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/student/phase", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO phase_events").
		WithArgs("asha@example.com", "9876543210", "payment").
		WillReturnResult(sqlmock.NewResult(1, 1))

	r := NewRecorder(backend.NewClient(srv.URL, 2*time.Second, logger.Nop()), db, logger.Nop())
	r.Record(context.Background(), Payment, "asha@example.com", "+91 98765-43210")

	assert.Equal(t, "payment", got.Phase)
	assert.Equal(t, "9876543210", got.Phone)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordSkipsAnonymousEvents(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	r := NewRecorder(backend.NewClient(srv.URL, 2*time.Second, logger.Nop()), nil, logger.Nop())
	r.Record(context.Background(), Login, "  ", "")
	assert.False(t, called)
}

func TestRecordSwallowsSinkFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO phase_events").
		WillReturnError(assert.AnError)

	r := NewRecorder(backend.NewClient(srv.URL, 2*time.Second, logger.Nop()), db, logger.Nop())
	r.Record(context.Background(), Application, "asha@example.com", "9876543210")

	require.NoError(t, mock.ExpectationsWereMet())
}
