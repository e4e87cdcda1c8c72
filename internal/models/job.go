package models

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// Job is a field-engineer job record as stored in the job log.
type Job struct {
	ID              int64      `json:"id"`
	No              string     `json:"no"`
	Date            *time.Time `json:"date,omitempty"`
	Category        string     `json:"category"`
	RequestedBy     string     `json:"requested_by"`
	TicketID        string     `json:"ticket_id"`
	LocationID      string     `json:"location_id"`
	Coordinates     string     `json:"coordinates"`
	Detail          string     `json:"detail"`
	AppointmentTime string     `json:"appointment_time"` // HH:MM
	Engineer1       string     `json:"engineer_1"`
	Engineer2       string     `json:"engineer_2"`
	Engineer3       string     `json:"engineer_3"`
	Accepted        bool       `json:"accepted"` // BA (berita acara) signed
	Status          string     `json:"status"`
	Remarks         string     `json:"remarks"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// HasDate reports whether the job is scheduled on a calendar date.
func (j *Job) HasDate() bool {
	return j != nil && j.Date != nil && !j.Date.IsZero()
}

// DateKey returns the yyyy-mm-dd key of the job date, or "" when undated.
func (j *Job) DateKey() string {
	if !j.HasDate() {
		return ""
	}
	return j.Date.Format(DateKeyLayout)
}

// DisplayNumber coerces a display label to an integer for ordering.
// Non-digit characters are dropped, so "No. 12" and "12" compare equal and
// "10" sorts after "2". Labels without digits yield 0; numbers too large for
// int saturate at math.MaxInt.
func DisplayNumber(no string) int {
	var b strings.Builder
	for _, r := range no {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0
	}
	n, err := strconv.Atoi(b.String())
	if errors.Is(err, strconv.ErrRange) {
		return math.MaxInt
	}
	if err != nil {
		return 0
	}
	return n
}

// ParseDate parses a yyyy-mm-dd date. An empty string yields nil.
func ParseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(DateKeyLayout, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
