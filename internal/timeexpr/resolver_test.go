package timeexpr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var utc8 = time.FixedZone("UTC+8", 8*3600)

type fakeParser struct {
	res   ParsedTime
	err   error
	calls int
}

func (f *fakeParser) ParseTime(_ context.Context, _ string, _ time.Time, _ *time.Location) (ParsedTime, error) {
	f.calls++
	return f.res, f.err
}

func TestResolve_StructuralPatterns(t *testing.T) {
	ref := time.Date(2025, 1, 1, 10, 0, 0, 0, utc8)
	r := NewResolver(utc8, nil)

	cases := []struct {
		expr string
		want time.Time
	}{
		{"tomorrow at 2pm", time.Date(2025, 1, 2, 14, 0, 0, 0, utc8)},
		{"Tomorrow at 2:30 PM", time.Date(2025, 1, 2, 14, 30, 0, 0, utc8)},
		{"tomorrow", time.Date(2025, 1, 2, 10, 0, 0, 0, utc8)},
		{"tomorrow morning", time.Date(2025, 1, 2, 9, 0, 0, 0, utc8)},
		{"tomorrow at 3", time.Date(2025, 1, 2, 15, 0, 0, 0, utc8)},
		{"in 30 minutes", ref.Add(30 * time.Minute)},
		{"2 hours", ref.Add(2 * time.Hour)},
		{"an hour from now", ref.Add(time.Hour)},
		{"2025-01-03T09:15:00Z", time.Date(2025, 1, 3, 9, 15, 0, 0, time.UTC)},
		{"2025-01-03 09:15 +05:30", time.Date(2025, 1, 3, 3, 45, 0, 0, time.UTC)},
		{"2025-01-03 09:15", time.Date(2025, 1, 3, 9, 15, 0, 0, utc8)},
		{"at 4pm", time.Date(2025, 1, 1, 16, 0, 0, 0, utc8)},
		{"today at 11:30", time.Date(2025, 1, 1, 11, 30, 0, 0, utc8)},
		{"this afternoon", time.Date(2025, 1, 1, 14, 0, 0, 0, utc8)},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), tc.expr, ref)
			require.NoError(t, err)
			assert.True(t, got.Equal(tc.want), "got %s want %s", got, tc.want)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestResolve_TomorrowScenarioConvertsToUTC(t *testing.T) {
	ref := time.Date(2025, 1, 1, 10, 0, 0, 0, utc8)
	got, err := NewResolver(utc8, nil).Resolve(context.Background(), "tomorrow at 2pm", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 2, 6, 0, 0, 0, time.UTC), got)
}

func TestResolve_RelativeCrossesUTCDay(t *testing.T) {
	// 23:50 local in UTC-5 is 04:50 UTC the next day.
	est := time.FixedZone("UTC-5", -5*3600)
	ref := time.Date(2025, 3, 10, 23, 50, 0, 0, est)

	got, err := NewResolver(est, nil).Resolve(context.Background(), "30 minutes", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 11, 5, 20, 0, 0, time.UTC), got)
}

func TestResolve_PassedTimeOfDayRollsForward(t *testing.T) {
	ref := time.Date(2025, 1, 1, 18, 0, 0, 0, utc8)
	got, err := NewResolver(utc8, nil).Resolve(context.Background(), "at 9am", ref)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 1, 2, 9, 0, 0, 0, utc8)))
}

func TestResolve_ReferenceZoneNotHostZone(t *testing.T) {
	// Same instant, different reference zones => different "tomorrow at 2pm".
	ref := time.Date(2025, 1, 1, 2, 0, 0, 0, time.UTC)
	a, err := NewResolver(utc8, nil).Resolve(context.Background(), "tomorrow at 2pm", ref)
	require.NoError(t, err)
	b, err := NewResolver(time.UTC, nil).Resolve(context.Background(), "tomorrow at 2pm", ref)
	require.NoError(t, err)
	assert.Equal(t, 8*time.Hour, b.Sub(a))
}

func TestResolve_EmptyExpressionIsDistinct(t *testing.T) {
	r := NewResolver(utc8, nil)
	for _, expr := range []string{"", "  ", "null", "None"} {
		_, err := r.Resolve(context.Background(), expr, time.Now())
		assert.ErrorIs(t, err, ErrNoExpression, expr)
	}
}

func TestResolve_FallbackWindowAndConfidence(t *testing.T) {
	ref := time.Date(2025, 1, 1, 10, 0, 0, 0, utc8)
	nextFriday := time.Date(2025, 1, 3, 15, 0, 0, 0, utc8)

	cases := []struct {
		name    string
		res     ParsedTime
		err     error
		wantErr bool
	}{
		{"medium accepted", ParsedTime{At: nextFriday, Confidence: ConfidenceMedium}, nil, false},
		{"high accepted", ParsedTime{At: nextFriday, Confidence: "HIGH"}, nil, false},
		{"low rejected", ParsedTime{At: nextFriday, Confidence: ConfidenceLow}, nil, true},
		{"past rejected", ParsedTime{At: ref.Add(-time.Hour), Confidence: ConfidenceHigh}, nil, true},
		{"beyond horizon rejected", ParsedTime{At: ref.Add(31 * 24 * time.Hour), Confidence: ConfidenceHigh}, nil, true},
		{"parser error", ParsedTime{}, errors.New("llm down"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &fakeParser{res: tc.res, err: tc.err}
			got, err := NewResolver(utc8, p).Resolve(context.Background(), "next friday around three", ref)
			assert.Equal(t, 1, p.calls)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrNotResolved)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(nextFriday))
		})
	}
}

func TestResolve_StructuralMatchSkipsFallback(t *testing.T) {
	p := &fakeParser{err: errors.New("should not be called")}
	_, err := NewResolver(utc8, p).Resolve(context.Background(), "in 10 minutes", time.Now())
	require.NoError(t, err)
	assert.Zero(t, p.calls)
}

func TestResolve_NoFallbackMeansNotResolved(t *testing.T) {
	_, err := NewResolver(utc8, nil).Resolve(context.Background(), "whenever works", time.Now())
	assert.ErrorIs(t, err, ErrNotResolved)
}

func TestResolve_PastExplicitDateGoesToFallback(t *testing.T) {
	ref := time.Date(2025, 1, 1, 10, 0, 0, 0, utc8)
	p := &fakeParser{res: ParsedTime{Confidence: ConfidenceLow}}
	_, err := NewResolver(utc8, p).Resolve(context.Background(), "2024-12-31T09:00:00Z", ref)
	assert.ErrorIs(t, err, ErrNotResolved)
	assert.Equal(t, 1, p.calls)
}

func TestResolve_HugeRelativeOffsetIsNotResolved(t *testing.T) {
	ref := time.Date(2025, 1, 1, 10, 0, 0, 0, utc8)
	_, err := NewResolver(utc8, nil).Resolve(context.Background(), "99999999999 hours", ref)
	assert.ErrorIs(t, err, ErrNotResolved)

	got, err := NewResolver(utc8, nil).Resolve(context.Background(), "in 720 hours", ref)
	require.NoError(t, err)
	assert.True(t, got.Equal(ref.Add(MaxHorizon)))
}
