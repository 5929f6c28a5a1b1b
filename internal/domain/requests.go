package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tazhate/remindbot/internal/rule"
)

// Wire shapes of the reminders API.

type ScheduleRequest struct {
	Rule     rule.WireRule `json:"rule"`
	TimeZone string        `json:"timeZone,omitempty"`
}

type ScheduleResponse struct {
	ID        uuid.UUID     `json:"id"`
	Rule      rule.WireRule `json:"rule"`
	TimeZone  string        `json:"timeZone,omitempty"`
	LastRunAt *string       `json:"lastRunAt,omitempty"`
}

type CreateReminderRequest struct {
	Text      string            `json:"text"`
	TimeZone  string            `json:"timeZone"`
	Schedules []ScheduleRequest `json:"schedules"`
}

type ScheduleOperations struct {
	Add    []ScheduleRequest `json:"add,omitempty"`
	Delete []uuid.UUID       `json:"delete,omitempty"`
}

type UpdateReminderRequest struct {
	Text               *string             `json:"text,omitempty"`
	ScheduleOperations *ScheduleOperations `json:"scheduleOperations,omitempty"`
}

type ChangeStatusRequest struct {
	Status State `json:"status"`
}

type ReminderResponse struct {
	ID        uuid.UUID          `json:"id"`
	Text      string             `json:"text"`
	TimeZone  string             `json:"timeZone"`
	Status    State              `json:"status"`
	CreatedAt string             `json:"createdAt"`
	UpdatedAt string             `json:"updatedAt"`
	PausedAt  *string            `json:"pausedAt,omitempty"`
	EndedAt   *string            `json:"endedAt,omitempty"`
	NextRunAt *string            `json:"nextRunAt,omitempty"`
	Schedules []ScheduleResponse `json:"schedules,omitempty"`
}

type PagedReminders struct {
	Reminders []ReminderResponse `json:"reminders"`
	HasNext   bool               `json:"hasNext"`
}

type ReminderCreated struct {
	ReminderID uuid.UUID `json:"reminderId"`
}

type UpdateResult struct {
	Message         *string          `json:"message,omitempty"`
	HasChanges      bool             `json:"hasChanges"`
	UpdatedReminder ReminderResponse `json:"updatedReminder"`
}

// StatusResult answers a status change. Activation returns the reminder under
// "reminder", every other change under "updatedReminder".
type StatusResult struct {
	Message         *string           `json:"message,omitempty"`
	UpdatedReminder *ReminderResponse `json:"updatedReminder,omitempty"`
	Reminder        *ReminderResponse `json:"reminder,omitempty"`
}

// Result returns whichever reminder the server sent.
func (r StatusResult) Result() *ReminderResponse {
	if r.UpdatedReminder != nil {
		return r.UpdatedReminder
	}
	return r.Reminder
}

// ScheduleToRequest converts a schedule for create and add operations.
func ScheduleToRequest(s Schedule) ScheduleRequest {
	return ScheduleRequest{Rule: rule.ToWire(s.Rule), TimeZone: s.TimeZone}
}

// NewCreateRequest builds the create payload.
func NewCreateRequest(text, tz string, schedules []Schedule) CreateReminderRequest {
	req := CreateReminderRequest{Text: text, TimeZone: tz, Schedules: make([]ScheduleRequest, len(schedules))}
	for i, s := range schedules {
		req.Schedules[i] = ScheduleToRequest(s)
	}
	return req
}

// ScheduleFromResponse decodes a schedule. An undecodable rule is an error
// rather than a silently wrong variant.
func ScheduleFromResponse(s ScheduleResponse) (Schedule, error) {
	r, errs := rule.ParseWire(s.Rule)
	if len(errs) > 0 {
		return Schedule{}, fmt.Errorf("decode schedule %s: %w", s.ID, errs)
	}
	out := Schedule{ID: s.ID, Rule: r, TimeZone: s.TimeZone}
	if s.LastRunAt != nil {
		t, err := ParseInstant(*s.LastRunAt, time.UTC)
		if err != nil {
			return Schedule{}, fmt.Errorf("decode schedule %s: lastRunAt: %w", s.ID, err)
		}
		out.LastRunAt = &t
	}
	return out, nil
}

// ScheduleToResponse is the inverse of ScheduleFromResponse.
func ScheduleToResponse(s Schedule) ScheduleResponse {
	return ScheduleResponse{
		ID:        s.ID,
		Rule:      rule.ToWire(s.Rule),
		TimeZone:  s.TimeZone,
		LastRunAt: formatInstant(s.LastRunAt),
	}
}

// ReminderFromResponse decodes a reminder. Naive timestamps are read in the
// reminder's zone.
func ReminderFromResponse(dto ReminderResponse) (*Reminder, error) {
	r := &Reminder{
		ID:       dto.ID,
		Text:     dto.Text,
		TimeZone: dto.TimeZone,
		Status:   dto.Status,
	}
	if !r.Status.Valid() {
		return nil, fmt.Errorf("decode reminder %s: unknown status %q", dto.ID, dto.Status)
	}
	loc := r.Location()

	var err error
	if r.CreatedAt, err = parseRequired(dto.CreatedAt, loc); err != nil {
		return nil, fmt.Errorf("decode reminder %s: createdAt: %w", dto.ID, err)
	}
	if r.UpdatedAt, err = parseRequired(dto.UpdatedAt, loc); err != nil {
		return nil, fmt.Errorf("decode reminder %s: updatedAt: %w", dto.ID, err)
	}
	for name, field := range map[string]struct {
		in  *string
		out **time.Time
	}{
		"pausedAt":  {dto.PausedAt, &r.PausedAt},
		"endedAt":   {dto.EndedAt, &r.EndedAt},
		"nextRunAt": {dto.NextRunAt, &r.NextRunAt},
	} {
		if field.in == nil || *field.in == "" {
			continue
		}
		t, err := ParseInstant(*field.in, loc)
		if err != nil {
			return nil, fmt.Errorf("decode reminder %s: %s: %w", dto.ID, name, err)
		}
		*field.out = &t
	}

	r.Schedules = make([]Schedule, 0, len(dto.Schedules))
	for _, s := range dto.Schedules {
		sched, err := ScheduleFromResponse(s)
		if err != nil {
			return nil, fmt.Errorf("decode reminder %s: %w", dto.ID, err)
		}
		r.Schedules = append(r.Schedules, sched)
	}
	return r, nil
}

// ReminderToResponse encodes r in the server's shape, used for the local
// snapshot cache.
func ReminderToResponse(r *Reminder) ReminderResponse {
	dto := ReminderResponse{
		ID:        r.ID,
		Text:      r.Text,
		TimeZone:  r.TimeZone,
		Status:    r.Status,
		CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: r.UpdatedAt.UTC().Format(time.RFC3339Nano),
		PausedAt:  formatInstant(r.PausedAt),
		EndedAt:   formatInstant(r.EndedAt),
		NextRunAt: formatInstant(r.NextRunAt),
	}
	for _, s := range r.Schedules {
		dto.Schedules = append(dto.Schedules, ScheduleToResponse(s))
	}
	return dto
}

// ParseInstant reads an RFC 3339 timestamp. A timestamp without an offset is
// read as wall time in loc.
func ParseInstant(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	ldt, err := rule.ParseLocalDateTime(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return ldt.In(loc), nil
}

func parseRequired(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return ParseInstant(s, loc)
}

func formatInstant(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}
