package selection

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Proton-105/himera-analytics/internal/api"
)

var (
	// ErrInvalidRange is returned when a complete range ends before it starts.
	ErrInvalidRange = errors.New("date range ends before it starts")
	// ErrUnknownBot is returned when selecting a bot that is not in the loaded list.
	ErrUnknownBot = errors.New("bot is not in the loaded bot list")
)

// DateRange is a calendar date window. A zero To means the second endpoint has not been
// picked yet and the range is incomplete.
type DateRange struct {
	From time.Time
	To   time.Time
}

// NewDateRange builds a range from calendar dates, dropping the time of day.
func NewDateRange(from, to time.Time) DateRange {
	return DateRange{From: calendarDay(from), To: calendarDay(to)}
}

// LastDays returns the range of n calendar days ending on now's date.
func LastDays(now time.Time, n int) DateRange {
	if n < 1 {
		n = 1
	}
	to := calendarDay(now)
	return DateRange{From: to.AddDate(0, 0, -(n - 1)), To: to}
}

// ParseDateRange parses YYYY-MM-DD endpoints; an empty to yields an incomplete range.
func ParseDateRange(from, to string) (DateRange, error) {
	start, err := time.Parse(api.DateLayout, from)
	if err != nil {
		return DateRange{}, fmt.Errorf("parse from date: %w", err)
	}

	r := DateRange{From: start}
	if to != "" {
		end, err := time.Parse(api.DateLayout, to)
		if err != nil {
			return DateRange{}, fmt.Errorf("parse to date: %w", err)
		}
		r.To = end
	}

	return r, r.Validate()
}

// Complete reports whether both endpoints are set.
func (r DateRange) Complete() bool {
	return !r.From.IsZero() && !r.To.IsZero()
}

// Validate rejects complete ranges where From is after To.
func (r DateRange) Validate() error {
	if r.Complete() && r.From.After(r.To) {
		return ErrInvalidRange
	}
	return nil
}

// Equal compares calendar dates only.
func (r DateRange) Equal(other DateRange) bool {
	return r.From.Equal(other.From) && r.To.Equal(other.To)
}

func (r DateRange) normalized() DateRange {
	return DateRange{From: calendarDay(r.From), To: calendarDay(r.To)}
}

type dateRangeJSON struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

func (r DateRange) MarshalJSON() ([]byte, error) {
	out := dateRangeJSON{}
	if !r.From.IsZero() {
		out.From = api.FormatDate(r.From)
	}
	if !r.To.IsZero() {
		out.To = api.FormatDate(r.To)
	}
	return json.Marshal(out)
}

func (r *DateRange) UnmarshalJSON(data []byte) error {
	var in dateRangeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.From == "" {
		*r = DateRange{}
		return nil
	}

	parsed, err := ParseDateRange(in.From, in.To)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// FetchKey identifies one logical analytics query. BotID holds the bot uid.
type FetchKey struct {
	BotID int64  `json:"bot_id"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// KeyFor returns the fetch key for a bot uid and a complete range.
func KeyFor(botID int64, r DateRange) (FetchKey, bool) {
	if botID == 0 || !r.Complete() {
		return FetchKey{}, false
	}

	return FetchKey{BotID: botID, From: api.FormatDate(r.From), To: api.FormatDate(r.To)}, true
}

// calendarDay keeps the value's own year, month and day, so no zone shift can move the date.
func calendarDay(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
