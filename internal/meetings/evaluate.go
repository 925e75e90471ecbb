package meetings

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"callflow/internal/calendar"
)

// Verdict is the interpreted outcome of a calendar booking response.
type Verdict struct {
	Confirmed   bool
	BookingID   string
	Status      string
	MeetingLink string
	// Warning is set on success paths that also carried an error message.
	Warning string
	// Error is set on failure.
	Error string
	// Permanent failures must not be retried.
	Permanent bool
}

// bookingIDFields is the provider-specific whitelist searched for a booking identifier.
var bookingIDFields = []string{"id", "uid", "bookingId", "bookingUid"}

var confirmedStatuses = map[string]struct{}{
	"ACCEPTED":  {},
	"CONFIRMED": {},
}

// permanentFailures are lowercase fragments of provider messages that no retry can fix.
var permanentFailures = []string{
	"no_available_users",
	"no available users",
	"no eligible",
	"event type not found",
	"eventtype not found",
	"user not found",
	"invalid slot",
	"slot not available",
	"slot is not available",
	"already booked",
	"already has booking",
	"duplicate booking",
}

// EvaluateResponse decides whether a booking response proves a reservation. The transport
// status code is not consulted.
//
// Rules:
//   - An array response is reduced to its first element; a "data" object is unwrapped.
//   - No identifier: failure, with the embedded error message when there is one.
//   - Identifier plus error message: success with a warning, if the evidence rule holds.
//   - Identifier also needs an ACCEPTED/CONFIRMED status, a video link, or a successful
//     integration reference; otherwise failure.
func EvaluateResponse(body []byte) Verdict {
	candidate, envelope, ok := normalize(body)
	if !ok {
		return failure("unrecognized booking response")
	}

	id := bookingID(candidate)
	status := strings.ToUpper(stringField(candidate, "status"))
	errMsg := errorMessage(candidate)
	if errMsg == "" {
		errMsg = errorMessage(envelope)
	}

	if id == "" {
		if errMsg != "" {
			return failure(errMsg)
		}
		if status != "" {
			return failure(fmt.Sprintf("booking response has status %s but no identifier", status))
		}
		return failure("booking response has neither identifier nor status")
	}

	v := Verdict{BookingID: id, Status: status, MeetingLink: meetingLink(candidate)}
	_, statusOK := confirmedStatuses[status]
	if !statusOK && v.MeetingLink == "" && !hasSuccessfulReference(candidate) {
		v.Error = fmt.Sprintf("booking %s has no confirmation evidence (status %q)", id, status)
		if errMsg != "" {
			v.Error += ": " + errMsg
		}
		v.Permanent = isPermanent(errMsg)
		return v
	}
	v.Confirmed = true
	if errMsg != "" {
		v.Warning = errMsg
	}
	return v
}

// EvaluateError applies EvaluateResponse to the body of a failed transport call. A
// confirmed verdict is a salvaged booking.
func EvaluateError(err error) Verdict {
	var herr *calendar.HTTPError
	if !errors.As(err, &herr) {
		return failure(err.Error())
	}
	v := EvaluateResponse(herr.Body)
	if v.Confirmed {
		note := fmt.Sprintf("salvaged from HTTP %d response", herr.StatusCode)
		if v.Warning != "" {
			note += ": " + v.Warning
		}
		v.Warning = note
		return v
	}
	if msg := errorMessage(decodeObject(herr.Body)); msg != "" && v.Error == "" {
		v.Error = msg
	}
	v.Error = fmt.Sprintf("calendar API error %d: %s", herr.StatusCode, v.Error)
	v.Permanent = v.Permanent || isPermanent(string(herr.Body))
	return v
}

func failure(msg string) Verdict {
	return Verdict{Error: msg, Permanent: isPermanent(msg)}
}

func isPermanent(msg string) bool {
	msg = strings.ToLower(msg)
	if msg == "" {
		return false
	}
	for _, frag := range permanentFailures {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

func normalize(body []byte) (candidate, envelope map[string]any, ok bool) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, nil, false
	}
	if arr, isArr := raw.([]any); isArr {
		if len(arr) == 0 {
			return nil, nil, false
		}
		raw = arr[0]
	}
	obj, isObj := raw.(map[string]any)
	if !isObj {
		return nil, nil, false
	}
	switch data := obj["data"].(type) {
	case map[string]any:
		return data, obj, true
	case []any:
		if len(data) > 0 {
			if first, isObj := data[0].(map[string]any); isObj {
				return first, obj, true
			}
		}
	}
	return obj, nil, true
}

func decodeObject(body []byte) map[string]any {
	var obj map[string]any
	_ = json.Unmarshal(body, &obj)
	return obj
}

func bookingID(m map[string]any) string {
	for _, f := range bookingIDFields {
		if s := scalarString(m[f]); s != "" {
			return s
		}
	}
	return ""
}

func errorMessage(m map[string]any) string {
	if m == nil {
		return ""
	}
	switch e := m["error"].(type) {
	case string:
		if e != "" {
			return e
		}
	case map[string]any:
		if s := stringField(e, "message"); s != "" {
			return s
		}
		if s := stringField(e, "code"); s != "" {
			return s
		}
	case bool:
		if e {
			if s := stringField(m, "message"); s != "" {
				return s
			}
			return "provider reported an error"
		}
	}
	if errs, ok := m["errors"].([]any); ok && len(errs) > 0 {
		if s := scalarString(errs[0]); s != "" {
			return s
		}
		if em, ok := errs[0].(map[string]any); ok {
			return stringField(em, "message")
		}
	}
	// A bare message only counts as an error when the provider also flagged failure.
	if success, ok := m["success"].(bool); ok && !success {
		if s := stringField(m, "message"); s != "" {
			return s
		}
		return "provider reported failure"
	}
	if _, hasID := m["id"]; !hasID {
		if s := stringField(m, "message"); s != "" {
			return s
		}
	}
	return ""
}

func meetingLink(m map[string]any) string {
	if s := stringField(m, "meetingUrl"); isURL(s) {
		return s
	}
	if md, ok := m["metadata"].(map[string]any); ok {
		if s := stringField(md, "videoCallUrl"); isURL(s) {
			return s
		}
	}
	if refs, ok := m["references"].([]any); ok {
		for _, r := range refs {
			if rm, ok := r.(map[string]any); ok {
				if s := stringField(rm, "meetingUrl"); isURL(s) {
					return s
				}
			}
		}
	}
	if s := stringField(m, "location"); isURL(s) {
		return s
	}
	return ""
}

// hasSuccessfulReference reports whether a calendar or video integration acknowledged the booking.
func hasSuccessfulReference(m map[string]any) bool {
	refs, ok := m["references"].([]any)
	if !ok {
		return false
	}
	for _, r := range refs {
		rm, ok := r.(map[string]any)
		if !ok {
			continue
		}
		if success, ok := rm["success"].(bool); ok {
			if success {
				return true
			}
			continue
		}
		if scalarString(rm["meetingId"]) != "" || scalarString(rm["uid"]) != "" {
			return true
		}
	}
	return false
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
