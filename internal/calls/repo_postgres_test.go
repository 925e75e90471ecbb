package calls

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

var recordColumnNames = []string{
	"id", "tenant_id", "conversation_id", "agent_id", "agent_phone_number_id", "customer_phone", "agent_phone",
	"status", "summary", "transcript", "callback_requested", "callback_scheduled_at", "callback_reason", "callback_attempts",
	"callback_completed_at", "lead_status", "final_state", "call_duration_seconds", "created_at", "updated_at",
}

func TestPostgresRepo_CreateMapsUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO call_logs").WillReturnError(&pgconn.PgError{Code: "23505"})

	repo := NewPostgresRepo(db)
	err = repo.Create(context.Background(), Record{ID: "c1", TenantID: "t1", ConversationID: "conv", Status: StatusProcessing})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresRepo_GetScansNullableColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	at := now.Add(2 * time.Hour)
	rows := sqlmock.NewRows(recordColumnNames).AddRow(
		"c1", "t1", "conv", "agent", "", "+14155550100", "",
		"CALLBACK_SCHEDULED", "summary", []byte(`"hello"`), true, at, "busy", 0,
		nil, "callback", "", 42, now, now,
	)
	mock.ExpectQuery("SELECT (.+) FROM call_logs WHERE id = \\$1").WithArgs("c1").WillReturnRows(rows)

	rec, err := NewPostgresRepo(db).Get(context.Background(), "c1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if rec.CallbackScheduledAt == nil || !rec.CallbackScheduledAt.Equal(at) {
		t.Fatalf("expected scheduled at")
	}
	if rec.CallbackReason == nil || *rec.CallbackReason != "busy" {
		t.Fatalf("expected reason")
	}
	if rec.CallbackCompletedAt != nil {
		t.Fatalf("expected nil completed at")
	}
	if string(rec.Transcript) != `"hello"` || rec.CallDurationSeconds != 42 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestPostgresRepo_GetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM call_logs").WillReturnRows(sqlmock.NewRows(recordColumnNames))

	if _, err := NewPostgresRepo(db).Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresRepo_UpdateReportsMissingRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE call_logs SET").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := NewPostgresRepo(db).Update(context.Background(), Record{ID: "gone"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresRepo_ListBuildsFilters(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM call_logs WHERE tenant_id = \\$1 AND status = \\$2 AND created_at >= \\$3 ORDER BY created_at DESC LIMIT \\$4 OFFSET \\$5").
		WithArgs("t1", StatusFailed, from, 50, 0).
		WillReturnRows(sqlmock.NewRows(recordColumnNames))

	out, err := NewPostgresRepo(db).List(context.Background(), ListFilter{TenantID: "t1", Status: StatusFailed, From: from})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out == nil || len(out) != 0 {
		t.Fatalf("expected empty non-nil slice")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
