package meetings

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func meetingRow(id string, status Status, now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "status", "customer_name", "customer_email", "customer_phone", "notes",
		"event_type_id", "meeting_time", "duration_minutes", "timezone", "language", "conversation_id", "agent_id",
		"provider_event_id", "provider_response", "meeting_link", "warning", "error_message", "notification_sent",
		"notification_error", "created_at", "updated_at",
	}).AddRow(
		id, "t1", string(status), "Ada", "ada@example.com", "", "",
		int64(1234), now, 30, "UTC", "en", "c1", "",
		"bk_1", []byte(`{"id":"bk_1"}`), nil, nil, nil, false,
		nil, now, now,
	)
}

const activeByConversation = "SELECT .* FROM meetings WHERE tenant_id = \\$1 AND conversation_id = \\$2"

func TestPostgresRepo_CreateInsertsInsideTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery(activeByConversation).WithArgs("t1", "c1").WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO meetings")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewPostgresRepo(db)
	err = repo.Create(context.Background(), Meeting{ID: "new", TenantID: "t1", Status: StatusPending, ConversationID: "c1", CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_CreateRejectsExistingActiveBooking(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery(activeByConversation).WithArgs("t1", "c1").WillReturnRows(meetingRow("existing", StatusConfirmed, now))
	mock.ExpectRollback()

	repo := NewPostgresRepo(db)
	err = repo.Create(context.Background(), Meeting{ID: "new", TenantID: "t1", Status: StatusPending, ConversationID: "c1", CreatedAt: now, UpdatedAt: now})

	var dup *DuplicateBookingError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "existing", dup.ExistingID)
	assert.Equal(t, StatusConfirmed, dup.ExistingStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_CreateDuplicateNamesExisting(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery(activeByConversation).WithArgs("t1", "c1").WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO meetings")).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()
	mock.ExpectQuery(activeByConversation).
		WithArgs("t1", "c1").
		WillReturnRows(meetingRow("existing", StatusPending, now))

	repo := NewPostgresRepo(db)
	err = repo.Create(context.Background(), Meeting{ID: "new", TenantID: "t1", Status: StatusPending, ConversationID: "c1", CreatedAt: now, UpdatedAt: now})

	var dup *DuplicateBookingError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "existing", dup.ExistingID)
	assert.Equal(t, StatusPending, dup.ExistingStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_GetMapsNullableColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .* FROM meetings WHERE id = \\$1").
		WithArgs("m1").
		WillReturnRows(meetingRow("m1", StatusConfirmed, now))

	m, err := NewPostgresRepo(db).Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, m.Status)
	require.NotNil(t, m.ProviderEventID)
	assert.Equal(t, "bk_1", *m.ProviderEventID)
	assert.Nil(t, m.MeetingLink)
	assert.Nil(t, m.ErrorMessage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_GetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT .* FROM meetings WHERE id = \\$1").WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = NewPostgresRepo(db).Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresRepo_UpdateMissingRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE meetings SET")).WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewPostgresRepo(db).Update(context.Background(), Meeting{ID: "gone", Status: StatusFailed})
	require.ErrorIs(t, err, ErrNotFound)
}
