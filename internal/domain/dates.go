package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Timestamp is the {seconds, nanoseconds} shape document stores use for dates.
type Timestamp struct {
	Seconds     int64 `json:"seconds"`
	Nanoseconds int64 `json:"nanoseconds"`
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	time.DateOnly,
}

// ToDate normalizes any boundary date representation to a UTC time.
// Native times, Timestamp values or {seconds,nanoseconds} maps, epoch seconds
// and date strings are understood. Anything else, including zero and
// unparseable values, yields nil.
func ToDate(v any) *time.Time {
	switch d := v.(type) {
	case nil:
		return nil
	case time.Time:
		return fromTime(d)
	case *time.Time:
		if d == nil {
			return nil
		}
		return fromTime(*d)
	case Timestamp:
		return fromTime(time.Unix(d.Seconds, d.Nanoseconds))
	case *Timestamp:
		if d == nil {
			return nil
		}
		return fromTime(time.Unix(d.Seconds, d.Nanoseconds))
	case int:
		return fromTime(time.Unix(int64(d), 0))
	case int64:
		return fromTime(time.Unix(d, 0))
	case float64:
		return fromEpoch(d)
	case json.Number:
		f, err := d.Float64()
		if err != nil {
			return nil
		}
		return fromEpoch(f)
	case json.RawMessage:
		var decoded any
		dec := json.NewDecoder(strings.NewReader(string(d)))
		dec.UseNumber()
		if err := dec.Decode(&decoded); err != nil {
			return nil
		}
		return ToDate(decoded)
	case map[string]any:
		return fromTimestampMap(d)
	case string:
		return fromString(d)
	case *string:
		if d == nil {
			return nil
		}
		return fromString(*d)
	}
	return nil
}

func fromTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func fromEpoch(secs float64) *time.Time {
	if math.IsNaN(secs) || math.IsInf(secs, 0) {
		return nil
	}
	whole, frac := math.Modf(secs)
	return fromTime(time.Unix(int64(whole), int64(frac*1e9)))
}

func fromString(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return fromTime(t)
		}
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(secs)
	}
	return nil
}

func fromTimestampMap(m map[string]any) *time.Time {
	secs, ok := numberField(m, "seconds", "_seconds")
	if !ok {
		return nil
	}
	nanos, _ := numberField(m, "nanoseconds", "_nanoseconds")
	return fromTime(time.Unix(int64(secs), int64(nanos)))
}

func numberField(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch n := m[k].(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		case json.Number:
			f, err := n.Float64()
			if err == nil {
				return f, true
			}
		case string:
			f, err := strconv.ParseFloat(n, 64)
			if err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

type DueState string

const (
	DueNormal  DueState = "normal"
	DueSoon    DueState = "due-soon"
	DueOverdue DueState = "overdue"
)

// DueStateAt classifies a due date relative to now: past is overdue, within
// the next 24 hours is due-soon.
func DueStateAt(due *time.Time, now time.Time) DueState {
	if due == nil {
		return DueNormal
	}
	diff := due.Sub(now)
	switch {
	case diff < 0:
		return DueOverdue
	case diff <= 24*time.Hour:
		return DueSoon
	default:
		return DueNormal
	}
}
