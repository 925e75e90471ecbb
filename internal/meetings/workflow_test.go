package meetings

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callflow/internal/calendar"
)

type fakeBooker struct {
	body  []byte
	err   error
	calls int
	last  calendar.BookingInput
}

func (b *fakeBooker) CreateBooking(_ context.Context, _ string, in calendar.BookingInput) ([]byte, error) {
	b.calls++
	b.last = in
	return b.body, b.err
}

type fakeNotifier struct {
	mu       sync.Mutex
	err      error
	url      string
	payloads []any
}

func (n *fakeNotifier) Post(_ context.Context, url string, payload any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.url = url
	n.payloads = append(n.payloads, payload)
	return n.err
}

type fakeMeetingAudit struct {
	transitions []string
}

func (a *fakeMeetingAudit) LogMeetingTransition(_ context.Context, _, _, from, to, _ string) error {
	a.transitions = append(a.transitions, from+"->"+to)
	return nil
}

func seedPending(t *testing.T, repo *MemoryRepo) Meeting {
	t.Helper()
	m := Meeting{
		ID:              "m1",
		TenantID:        "t1",
		Status:          StatusPending,
		CustomerName:    "Ada",
		CustomerEmail:   "ada@example.com",
		CustomerPhone:   "+15551234567",
		EventTypeID:     1234,
		MeetingTime:     time.Date(2025, 3, 4, 14, 0, 0, 0, time.UTC),
		DurationMinutes: 30,
		TimeZone:        "UTC",
		Language:        "en",
		ConversationID:  "c1",
	}
	require.NoError(t, repo.Create(context.Background(), m))
	return m
}

func newTestWorkflow(booker *fakeBooker, notifier *fakeNotifier) (*Workflow, *MemoryRepo, *fakeMeetingAudit) {
	repo := NewMemoryRepo()
	creds := NewMemoryCredentialStore(Credentials{TenantID: "t1", CalcomAPIKey: "cal_key", NotificationWebhookURL: "https://hooks.example.com/x"})
	audit := &fakeMeetingAudit{}
	return NewWorkflow(repo, creds, booker, notifier, audit), repo, audit
}

func TestConfirm_AcceptedWithoutLink(t *testing.T) {
	booker := &fakeBooker{body: []byte(`{"status":"ACCEPTED","id":42}`)}
	notifier := &fakeNotifier{}
	wf, repo, audit := newTestWorkflow(booker, notifier)
	seedPending(t, repo)

	res, err := wf.Confirm(context.Background(), "m1", 1, 3)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, res.Status)
	assert.Equal(t, "42", res.BookingID)

	m, err := repo.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, m.Status)
	assert.Nil(t, m.MeetingLink)
	require.NotNil(t, m.ProviderEventID)
	assert.Equal(t, "42", *m.ProviderEventID)
	assert.True(t, m.NotificationSent)
	assert.Nil(t, m.NotificationError)

	assert.Equal(t, []string{"PENDING->CONFIRMED"}, audit.transitions)
	assert.Equal(t, int64(1234), booker.last.EventTypeID)
	assert.Equal(t, "c1", booker.last.Metadata["conversationId"])

	require.Len(t, notifier.payloads, 1)
	p := notifier.payloads[0].(map[string]any)
	assert.Equal(t, "+15551234567", p["phoneNumber"])
	assert.Equal(t, "42", p["calcomEventId"])
	assert.Nil(t, p["meetingLink"])
	assert.Equal(t, "https://hooks.example.com/x", notifier.url)
}

func TestConfirm_SalvagesHTTPErrorWithIdentifier(t *testing.T) {
	booker := &fakeBooker{err: &calendar.HTTPError{
		StatusCode: 409,
		Body:       []byte(`{"id":"bk_9","status":"ACCEPTED","meetingUrl":"https://meet.example.com/bk9"}`),
	}}
	wf, repo, _ := newTestWorkflow(booker, &fakeNotifier{})
	seedPending(t, repo)

	res, err := wf.Confirm(context.Background(), "m1", 1, 3)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, res.Status)
	assert.Equal(t, "https://meet.example.com/bk9", res.MeetingLink)

	m, _ := repo.Get(context.Background(), "m1")
	require.NotNil(t, m.Warning)
	assert.Contains(t, *m.Warning, "salvaged from HTTP 409")
	assert.JSONEq(t, `{"id":"bk_9","status":"ACCEPTED","meetingUrl":"https://meet.example.com/bk9"}`, string(m.ProviderResponse))
}

func TestConfirm_PermanentFailureIsNotRetried(t *testing.T) {
	booker := &fakeBooker{err: &calendar.HTTPError{StatusCode: 400, Body: []byte(`{"message":"no_available_users_found_error"}`)}}
	wf, repo, audit := newTestWorkflow(booker, &fakeNotifier{})
	seedPending(t, repo)

	res, err := wf.Confirm(context.Background(), "m1", 1, 3)
	require.NoError(t, err)
	assert.True(t, res.Permanent)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 1, booker.calls)

	m, _ := repo.Get(context.Background(), "m1")
	assert.Equal(t, StatusFailed, m.Status)
	require.NotNil(t, m.ErrorMessage)
	assert.Contains(t, *m.ErrorMessage, "no_available_users")
	assert.Equal(t, []string{"PENDING->FAILED"}, audit.transitions)
}

func TestConfirm_RetryableFailure(t *testing.T) {
	booker := &fakeBooker{err: errors.New("connection reset")}
	wf, repo, _ := newTestWorkflow(booker, &fakeNotifier{})
	seedPending(t, repo)

	res, err := wf.Confirm(context.Background(), "m1", 1, 3)
	require.Error(t, err)
	assert.Equal(t, StatusPending, res.Status)
	m, _ := repo.Get(context.Background(), "m1")
	assert.Equal(t, StatusPending, m.Status)

	res, err = wf.Confirm(context.Background(), "m1", 3, 3)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	m, _ = repo.Get(context.Background(), "m1")
	assert.Equal(t, StatusFailed, m.Status)
}

func TestConfirm_NotificationFailureDoesNotFailBooking(t *testing.T) {
	booker := &fakeBooker{body: []byte(`{"uid":"u1","status":"ACCEPTED"}`)}
	notifier := &fakeNotifier{err: errors.New("notify: webhook returned error: 500 - boom")}
	wf, repo, _ := newTestWorkflow(booker, notifier)
	seedPending(t, repo)

	res, err := wf.Confirm(context.Background(), "m1", 1, 3)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, res.Status)
	assert.False(t, res.NotificationSent)

	m, _ := repo.Get(context.Background(), "m1")
	assert.Equal(t, StatusConfirmed, m.Status)
	assert.False(t, m.NotificationSent)
	require.NotNil(t, m.NotificationError)
	assert.Contains(t, *m.NotificationError, "500")
}

func TestConfirm_SettledMeetingIsNoop(t *testing.T) {
	booker := &fakeBooker{body: []byte(`{"uid":"u1","status":"ACCEPTED"}`)}
	wf, repo, _ := newTestWorkflow(booker, &fakeNotifier{})
	m := seedPending(t, repo)
	m.Status = StatusConfirmed
	require.NoError(t, repo.Update(context.Background(), m))

	res, err := wf.Confirm(context.Background(), "m1", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, res.Status)
	assert.Zero(t, booker.calls)
}

func TestConfirm_MissingCredentialsIsPermanent(t *testing.T) {
	booker := &fakeBooker{}
	repo := NewMemoryRepo()
	wf := NewWorkflow(repo, NewMemoryCredentialStore(), booker, nil, nil)
	seedPending(t, repo)

	res, err := wf.Confirm(context.Background(), "m1", 1, 3)
	require.NoError(t, err)
	assert.True(t, res.Permanent)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Zero(t, booker.calls)
}
