package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"callflow/internal/llm"
	"callflow/internal/timeexpr"
)

const timeParseSystemPrompt = `Convert a spoken callback time into an exact timestamp.
Current time: %s. Interpret wall-clock times in timezone %s.
Reply with a JSON object only: {"datetime": RFC3339 timestamp with offset or null, "confidence": "high" | "medium" | "low"}.`

// TimeParser is the natural-language fallback for timeexpr.Resolver.
type TimeParser struct {
	llm llm.Client
}

func NewTimeParser(client llm.Client) *TimeParser { return &TimeParser{llm: client} }

var _ timeexpr.NaturalLanguageParser = (*TimeParser)(nil)

type timeParseResponse struct {
	Datetime   *string `json:"datetime"`
	Confidence string  `json:"confidence"`
}

func (p *TimeParser) ParseTime(ctx context.Context, expression string, ref time.Time, loc *time.Location) (timeexpr.ParsedTime, error) {
	out, err := p.llm.CompleteJSON(ctx, llm.CompletionRequest{
		System:      fmt.Sprintf(timeParseSystemPrompt, ref.In(loc).Format(time.RFC3339), loc.String()),
		Prompt:      expression,
		Tier:        llm.TierDetection,
		Temperature: 0.1,
		MaxTokens:   100,
	})
	if err != nil {
		return timeexpr.ParsedTime{}, err
	}

	var res timeParseResponse
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		return timeexpr.ParsedTime{}, fmt.Errorf("analysis: decode time parse: %w", err)
	}
	if res.Datetime == nil || strings.TrimSpace(*res.Datetime) == "" {
		return timeexpr.ParsedTime{}, fmt.Errorf("analysis: no datetime in response")
	}
	at, err := parseDatetime(strings.TrimSpace(*res.Datetime), loc)
	if err != nil {
		return timeexpr.ParsedTime{}, fmt.Errorf("analysis: bad datetime %q: %w", *res.Datetime, err)
	}
	return timeexpr.ParsedTime{At: at, Confidence: timeexpr.Confidence(strings.ToLower(res.Confidence))}, nil
}

// parseDatetime accepts RFC3339, or a local datetime without offset read in loc.
func parseDatetime(s string, loc *time.Location) (time.Time, error) {
	at, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return at, nil
	}
	if local, lerr := time.ParseInLocation("2006-01-02T15:04:05", s, loc); lerr == nil {
		return local, nil
	}
	return time.Time{}, err
}
