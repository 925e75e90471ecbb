package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"callflow/internal/agents"
	"callflow/internal/auth"
	"callflow/internal/calendar"
	"callflow/internal/calls"
	"callflow/internal/config"
	"callflow/internal/meetings"
	"callflow/internal/pipeline"
	"callflow/internal/queue"
	"callflow/internal/reporting"
	"callflow/internal/telephony"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIngestor struct {
	res       pipeline.IngestResult
	err       error
	signature string
}

func (f *fakeIngestor) HandlePostCall(_ context.Context, _ []byte, signature string) (pipeline.IngestResult, error) {
	f.signature = signature
	return f.res, f.err
}

type fakeEnqueuer struct{ n int }

func (f *fakeEnqueuer) Enqueue(_ context.Context, _ string, _ any, opts queue.EnqueueOptions) (queue.EnqueueResult, error) {
	f.n++
	return queue.EnqueueResult{JobID: opts.JobID}, nil
}

type fakeAvailability struct{ err error }

func (f fakeAvailability) ListAvailability(context.Context, string, calendar.AvailabilityQuery) (calendar.Availability, error) {
	if f.err != nil {
		return calendar.Availability{}, f.err
	}
	return calendar.Availability{Slots: map[string][]calendar.Slot{
		"2025-03-05": {{Time: "2025-03-05T10:00:00Z"}},
		"2025-03-04": {{Time: "2025-03-04T09:00:00Z"}},
	}}, nil
}

type fakeDeadLetters struct{ jobs []queue.Job }

func (f fakeDeadLetters) Counts(context.Context) (queue.Counts, error) {
	return queue.Counts{Dead: int64(len(f.jobs))}, nil
}

func (f fakeDeadLetters) DeadLetters(_ context.Context, limit int64) ([]queue.Job, error) {
	if int64(len(f.jobs)) > limit {
		return f.jobs[:limit], nil
	}
	return f.jobs, nil
}

// router wires handlers behind a stub identity middleware.
func router(h Handlers, tenantID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/elevenlabs/post-call", h.PostCallWebhook)

	v1 := r.Group("/v1")
	v1.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), "u1", tenantID, "admin"))
		c.Next()
	})
	v1.POST("/meetings/confirm-booking", h.ConfirmBooking)
	v1.POST("/meetings/check-availability", h.CheckAvailability)
	v1.GET("/meetings/:id", h.GetMeeting)
	v1.GET("/meetings", h.ListMeetings)
	v1.GET("/calls/stats/overview", h.StatsOverview)
	v1.GET("/calls/:id", h.GetCall)
	v1.GET("/calls", h.ListCalls)
	v1.GET("/admin/queues/:queue", h.QueueStatus)
	v1.GET("/admin/queues/:queue/dead-letters", h.DeadLetters)
	return r
}

func do(r http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPostCallWebhook_StatusMapping(t *testing.T) {
	cases := []struct {
		name string
		res  pipeline.IngestResult
		err  error
		want int
	}{
		{"accepted", pipeline.IngestResult{Status: pipeline.IngestAccepted, CallID: "c1"}, nil, http.StatusAccepted},
		{"duplicate", pipeline.IngestResult{Status: pipeline.IngestDuplicate, CallID: "c1"}, nil, http.StatusOK},
		{"ignored", pipeline.IngestResult{Status: pipeline.IngestIgnored}, nil, http.StatusOK},
		{"bad signature", pipeline.IngestResult{}, telephony.ErrBadSignature, http.StatusUnauthorized},
		{"stale", pipeline.IngestResult{}, telephony.ErrStaleWebhook, http.StatusUnauthorized},
		{"invalid", pipeline.IngestResult{}, telephony.ErrInvalidEvent, http.StatusBadRequest},
		{"unknown agent", pipeline.IngestResult{}, agents.ErrUnknownAgent, http.StatusNotFound},
		{"internal", pipeline.IngestResult{}, errors.New("redis down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ing := &fakeIngestor{res: tc.res, err: tc.err}
			r := router(Handlers{Webhooks: ing}, "")

			w := do(r, http.MethodPost, "/webhooks/elevenlabs/post-call", `{}`, telephony.SignatureHeader, "t=1,v0=ab")
			assert.Equal(t, tc.want, w.Code)
			assert.Equal(t, "t=1,v0=ab", ing.signature)
		})
	}
}

const bookingBody = `{
  "eventTypeId": 1234,
  "start": "2025-03-04T15:00:00Z",
  "responses": {"name": "Ada Lovelace", "email": "ada@example.com"},
  "metadata": {"conversationId": "conv_1"}
}`

func newMeetingService(creds ...meetings.Credentials) (*meetings.Service, *fakeEnqueuer) {
	jobs := &fakeEnqueuer{}
	svc := meetings.NewService(meetings.NewMemoryRepo(), meetings.NewMemoryCredentialStore(creds...), jobs, fakeAvailability{})
	return svc, jobs
}

func TestConfirmBooking_AcceptsThenRejectsDuplicate(t *testing.T) {
	svc, jobs := newMeetingService(meetings.Credentials{TenantID: "t1", CalcomAPIKey: "cal_key"})
	r := router(Handlers{Meetings: svc}, "t1")

	w := do(r, http.MethodPost, "/v1/meetings/confirm-booking", bookingBody)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var acc meetings.Accepted
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &acc))
	assert.Equal(t, meetings.StatusPending, acc.Status)
	assert.Equal(t, meetings.BookingJobID(acc.MeetingID), acc.JobID)
	assert.Equal(t, 1, jobs.n)

	w = do(r, http.MethodPost, "/v1/meetings/confirm-booking", bookingBody)
	require.Equal(t, http.StatusConflict, w.Code)
	var conflict map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conflict))
	assert.Equal(t, acc.MeetingID, conflict["existing_meeting_id"])
	assert.Equal(t, 1, jobs.n)

	w = do(r, http.MethodGet, "/v1/meetings/"+acc.MeetingID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"PENDING"`)
}

func TestConfirmBooking_Errors(t *testing.T) {
	svc, _ := newMeetingService()
	r := router(Handlers{Meetings: svc}, "t1")

	w := do(r, http.MethodPost, "/v1/meetings/confirm-booking", `{"eventTypeId":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/v1/meetings/confirm-booking", bookingBody)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "tenant without calendar credentials")

	w = do(router(Handlers{Meetings: svc}, ""), http.MethodPost, "/v1/meetings/confirm-booking", bookingBody)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetMeeting_OtherTenantIsNotFound(t *testing.T) {
	svc, _ := newMeetingService(meetings.Credentials{TenantID: "t1", CalcomAPIKey: "k"})
	w := do(router(Handlers{Meetings: svc}, "t1"), http.MethodPost, "/v1/meetings/confirm-booking", bookingBody)
	require.Equal(t, http.StatusAccepted, w.Code)
	var acc meetings.Accepted
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &acc))

	w = do(router(Handlers{Meetings: svc}, "t2"), http.MethodGet, "/v1/meetings/"+acc.MeetingID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(router(Handlers{Meetings: svc}, "t1"), http.MethodGet, "/v1/meetings?status=BOGUS", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router(Handlers{Meetings: svc}, "t1"), http.MethodGet, "/v1/meetings?status=PENDING", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), acc.MeetingID)
}

func TestCheckAvailability(t *testing.T) {
	svc, _ := newMeetingService(meetings.Credentials{TenantID: "t1", CalcomAPIKey: "k"})
	r := router(Handlers{Meetings: svc}, "t1")

	w := do(r, http.MethodPost, "/v1/meetings/check-availability",
		`{"eventTypeId":1,"startTime":"2025-03-04T00:00:00Z","endTime":"2025-03-06T00:00:00Z"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Available []string `json:"available"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, []string{"2025-03-04T09:00:00Z", "2025-03-05T10:00:00Z"}, out.Available)

	w = do(r, http.MethodPost, "/v1/meetings/check-availability",
		`{"eventTypeId":1,"startTime":"2025-03-06T00:00:00Z","endTime":"2025-03-04T00:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckAvailability_ProviderErrorIsBadGateway(t *testing.T) {
	svc := meetings.NewService(meetings.NewMemoryRepo(),
		meetings.NewMemoryCredentialStore(meetings.Credentials{TenantID: "t1", CalcomAPIKey: "k"}),
		&fakeEnqueuer{}, fakeAvailability{err: &calendar.HTTPError{StatusCode: 500, Body: []byte("boom")}})
	r := router(Handlers{Meetings: svc}, "t1")

	w := do(r, http.MethodPost, "/v1/meetings/check-availability",
		`{"eventTypeId":1,"startTime":"2025-03-04T00:00:00Z","endTime":"2025-03-06T00:00:00Z"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestCalls_TenantScopedReads(t *testing.T) {
	repo := calls.NewMemoryRepo()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(context.Background(), calls.Record{ID: "c1", TenantID: "t1", ConversationID: "conv_1", Status: calls.StatusCompleted, CreatedAt: now}))
	require.NoError(t, repo.Create(context.Background(), calls.Record{ID: "c2", TenantID: "t2", ConversationID: "conv_2", Status: calls.StatusCompleted, CreatedAt: now}))
	r := router(Handlers{Calls: repo}, "t1")

	w := do(r, http.MethodGet, "/v1/calls/c1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"conversation_id":"conv_1"`)

	w = do(r, http.MethodGet, "/v1/calls/c2", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/v1/calls", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"c1"`)
	assert.NotContains(t, w.Body.String(), `"c2"`)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/v1/calls?status=NOPE", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/v1/calls?from=yesterday", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/v1/calls?limit=-1", "").Code)
}

func TestStatsOverview(t *testing.T) {
	repo := reporting.NewMemoryRepo()
	repo.Calls = []calls.Record{
		{ID: "c1", TenantID: "t1", Status: calls.StatusCallbackCompleted, CallbackRequested: true, CallDurationSeconds: 40},
		{ID: "c2", TenantID: "t1", Status: calls.StatusCompleted, CallDurationSeconds: 20},
	}
	repo.Meetings = []meetings.Meeting{{ID: "m1", TenantID: "t1", Status: meetings.StatusConfirmed}}
	r := router(Handlers{Stats: reporting.NewService(repo)}, "t1")

	w := do(r, http.MethodGet, "/v1/calls/stats/overview", "")
	require.Equal(t, http.StatusOK, w.Code)
	var out reporting.Overview
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, 2, out.TotalCalls)
	assert.Equal(t, 1, out.CallbacksCompleted)
	assert.Equal(t, 30, out.AverageDurationSeconds)
	assert.Equal(t, 1, out.Meetings.Confirmed)

	w = do(r, http.MethodGet, "/v1/calls/stats/overview?from=2025-01-02T00:00:00Z&to=2025-01-01T00:00:00Z", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueueAdmin(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.New(rdb, pipeline.QueueCallProcessing, queue.Options{Prefix: "test"})
	_, err := q.Enqueue(context.Background(), pipeline.KindAnalyzeTranscript, pipeline.AnalyzeJob{CallID: "c1"}, queue.EnqueueOptions{JobID: "analyze-c1"})
	require.NoError(t, err)

	dead := fakeDeadLetters{jobs: []queue.Job{
		{ID: "booking-m1", Kind: meetings.KindConfirmBooking, State: queue.StateFailed, LastError: "calendar API error 500"},
		{ID: "booking-m2", Kind: meetings.KindConfirmBooking, State: queue.StateFailed},
	}}
	r := router(Handlers{Queues: map[string]QueueInspector{
		pipeline.QueueCallProcessing:    q,
		pipeline.QueueMeetingProcessing: dead,
	}}, "t1")

	w := do(r, http.MethodGet, "/v1/admin/queues/"+pipeline.QueueCallProcessing, "")
	require.Equal(t, http.StatusOK, w.Code)
	var counts queue.Counts
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &counts))
	assert.Equal(t, int64(1), counts.Scheduled)

	w = do(r, http.MethodGet, "/v1/admin/queues/"+pipeline.QueueMeetingProcessing+"/dead-letters?limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "booking-m1")
	assert.NotContains(t, w.Body.String(), "booking-m2")

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/v1/admin/queues/nope/dead-letters", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/v1/admin/queues/"+pipeline.QueueMeetingProcessing+"/dead-letters?limit=x", "").Code)
}

func TestIssueToken_RejectsUnknownRole(t *testing.T) {
	mgr, err := auth.NewManager(config.AuthConfig{JWTSecret: "s", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	require.NoError(t, err)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/v1/admin/tokens", Handlers{Auth: mgr}.IssueToken)

	w := do(r, http.MethodPost, "/v1/admin/tokens", `{"user_id":"u1","tenant_id":"t1","role":"platform_operator"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/v1/admin/tokens", `{"user_id":"bot","tenant_id":"t1","role":"agent_tool"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body["access_token"])
}
