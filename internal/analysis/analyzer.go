// Package analysis wraps the LLM capability with the prompts the call pipeline needs:
// summaries, callback-intent detection and natural-language time parsing.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"callflow/internal/llm"
)

var ErrEmptyTranscript = errors.New("analysis: empty transcript")

const summarySystemPrompt = `You analyse phone calls for a sales and support team.
Summarise the transcript in 3 to 5 sentences covering why the customer called,
what was discussed, any commitments or next steps, and the customer's overall mood.`

const intentSystemPrompt = `You decide whether a phone call needs a follow-up call from us.
A follow-up is needed when the customer asked to be called back, the issue is unresolved,
more information was promised, or the customer asked to be contacted later.
Current time: %s (timezone %s).
Reply with a JSON object only:
{"needed": boolean, "reason": string, "requestedTime": string or null, "timing": "specific_time" | "relative_time" | "general_request" | "none"}
requestedTime must quote the customer's own words about when to call, or be null.`

// Intent is the callback signal extracted from a transcript.
type Intent struct {
	Needed            bool
	Reason            string
	RawTimeExpression string
}

type Analyzer struct {
	llm llm.Client
	loc *time.Location
}

func NewAnalyzer(client llm.Client, loc *time.Location) *Analyzer {
	if loc == nil {
		loc = time.UTC
	}
	return &Analyzer{llm: client, loc: loc}
}

// Summarize returns a short summary of transcript. Errors are fatal to the analysis job.
func (a *Analyzer) Summarize(ctx context.Context, transcript string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return "", ErrEmptyTranscript
	}
	out, err := a.llm.Complete(ctx, llm.CompletionRequest{
		System:      summarySystemPrompt,
		Prompt:      transcript,
		Tier:        llm.TierSummary,
		Temperature: 0.3,
		MaxTokens:   300,
	})
	if err != nil {
		return "", fmt.Errorf("analysis: summarize: %w", err)
	}
	return out, nil
}

// Embed returns the vector used by conversation memory.
func (a *Analyzer) Embed(ctx context.Context, text string) ([]float32, error) {
	return a.llm.Embed(ctx, text)
}

type intentResponse struct {
	Needed        bool    `json:"needed"`
	Reason        string  `json:"reason"`
	RequestedTime *string `json:"requestedTime"`
	Timing        string  `json:"timing"`
}

// DetectCallbackIntent asks the detection model whether a callback is needed.
// Callers treat an error as "no additional signal".
func (a *Analyzer) DetectCallbackIntent(ctx context.Context, transcript string, ref time.Time) (Intent, error) {
	if strings.TrimSpace(transcript) == "" {
		return Intent{}, ErrEmptyTranscript
	}
	out, err := a.llm.CompleteJSON(ctx, llm.CompletionRequest{
		System:      fmt.Sprintf(intentSystemPrompt, ref.In(a.loc).Format(time.RFC3339), a.loc.String()),
		Prompt:      transcript,
		Tier:        llm.TierDetection,
		Temperature: 0.2,
		MaxTokens:   200,
	})
	if err != nil {
		return Intent{}, fmt.Errorf("analysis: detect callback: %w", err)
	}

	var res intentResponse
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		return Intent{}, fmt.Errorf("analysis: decode callback intent: %w", err)
	}

	in := Intent{Needed: res.Needed, Reason: strings.TrimSpace(res.Reason)}
	if res.Needed && res.RequestedTime != nil && res.Timing != "none" {
		in.RawTimeExpression = strings.TrimSpace(*res.RequestedTime)
	}
	return in, nil
}
