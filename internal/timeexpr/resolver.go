// Package timeexpr turns spoken or loosely formatted callback times into absolute instants.
//
// Rules:
// - Wall-clock values are interpreted in the configured reference timezone, never the host zone.
// - Structural patterns are tried first; the natural-language parser is only a fallback.
// - An empty expression (ErrNoExpression) is distinct from one that could not be resolved (ErrNotResolved).
package timeexpr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNoExpression = errors.New("timeexpr: no time expression")
	ErrNotResolved  = errors.New("timeexpr: expression not resolved")
)

// DefaultCallbackDelay is applied by callers when a callback was requested but no time resolved.
const DefaultCallbackDelay = 2 * time.Hour

// MaxHorizon bounds fallback-parsed instants.
const MaxHorizon = 30 * 24 * time.Hour

const defaultHour = 10

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

func (c Confidence) acceptable() bool {
	switch Confidence(strings.ToLower(string(c))) {
	case ConfidenceHigh, ConfidenceMedium:
		return true
	default:
		return false
	}
}

// ParsedTime is what a natural-language parser returns.
type ParsedTime struct {
	At         time.Time
	Confidence Confidence
}

// NaturalLanguageParser resolves free-form expressions the structural matchers cannot.
type NaturalLanguageParser interface {
	ParseTime(ctx context.Context, expression string, reference time.Time, loc *time.Location) (ParsedTime, error)
}

type Resolver struct {
	loc         *time.Location
	fallback    NaturalLanguageParser
	defaultHour int
}

// NewResolver builds a resolver anchored to loc. fallback may be nil.
func NewResolver(loc *time.Location, fallback NaturalLanguageParser) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{loc: loc, fallback: fallback, defaultHour: defaultHour}
}

func (r *Resolver) Location() *time.Location { return r.loc }

// Resolve converts expression into an absolute instant (UTC) relative to ref.
func (r *Resolver) Resolve(ctx context.Context, expression string, ref time.Time) (time.Time, error) {
	expr := normalize(expression)
	if isEmptyExpression(expr) {
		return time.Time{}, ErrNoExpression
	}

	if t, ok := parseExplicit(expr, r.loc); ok {
		if t.After(ref) {
			return t.UTC(), nil
		}
		// Past dated instants are not rolled forward; the fallback decides.
		return r.resolveFallback(ctx, expression, ref)
	}
	if d, ok := parseRelative(expr); ok {
		return ref.Add(d).UTC(), nil
	}
	if t, ok := parseTomorrow(expr, ref.In(r.loc), r.defaultHour); ok {
		return t.UTC(), nil
	}
	if t, ok := parseToday(expr, ref.In(r.loc)); ok {
		if !t.After(ref) {
			t = t.AddDate(0, 0, 1)
		}
		return t.UTC(), nil
	}

	return r.resolveFallback(ctx, expression, ref)
}

func (r *Resolver) resolveFallback(ctx context.Context, expression string, ref time.Time) (time.Time, error) {
	if r.fallback == nil {
		return time.Time{}, ErrNotResolved
	}
	res, err := r.fallback.ParseTime(ctx, strings.TrimSpace(expression), ref, r.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrNotResolved, err)
	}
	if !res.Confidence.acceptable() {
		return time.Time{}, fmt.Errorf("%w: confidence %q", ErrNotResolved, res.Confidence)
	}
	if !res.At.After(ref) || !res.At.Before(ref.Add(MaxHorizon)) {
		return time.Time{}, fmt.Errorf("%w: %s outside window", ErrNotResolved, res.At.Format(time.RFC3339))
	}
	return res.At.UTC(), nil
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, ".!?\"'")
	return strings.Join(strings.Fields(s), " ")
}

func isEmptyExpression(s string) bool {
	switch s {
	case "", "null", "none", "n/a", "na", "undefined", "unknown", "not specified":
		return true
	default:
		return false
	}
}
