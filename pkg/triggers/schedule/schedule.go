// Package schedule materializes time-based workflow triggers into
// precomputed next-run entries and polls them centrally, so one ticker
// serves every cron expression in the system.
package schedule

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is returned when schedule validation fails.
var ErrInvalidSchedule = errors.New("invalid schedule configuration")

// Schedule is the materialized next-run entry for one active workflow
// with a schedule trigger. NextDueAt is precomputed so the poller can
// select due entries without parsing cron expressions on every tick.
type Schedule struct {
	ID             string    `json:"id"              validate:"required"`
	WorkflowID     string    `json:"workflow_id"     validate:"required"`
	CronExpression string    `json:"cron_expression" validate:"required"`

	// Timezone is the IANA zone the cron expression is evaluated in.
	// Empty means UTC.
	Timezone string `json:"timezone,omitempty"`

	NextDueAt time.Time `json:"next_due_at" validate:"required"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Active    bool      `json:"active"`
}

// NewSchedule creates a schedule with the first due time computed.
func NewSchedule(id, workflowID, cronExpression, timezone string) (*Schedule, error) {
	now := time.Now().UTC()
	schedule := &Schedule{
		ID:             id,
		WorkflowID:     workflowID,
		CronExpression: cronExpression,
		Timezone:       timezone,
		CreatedAt:      now,
		UpdatedAt:      now,
		Active:         true,
	}

	if err := schedule.calculateNextDueAt(now); err != nil {
		return nil, err
	}

	return schedule, nil
}

// UpdateNextDueAt advances the due time past the current moment.
func (s *Schedule) UpdateNextDueAt() error {
	return s.calculateNextDueAt(time.Now().UTC())
}

func (s *Schedule) calculateNextDueAt(referenceTime time.Time) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	cronSchedule, err := parser.Parse(s.CronExpression)
	if err != nil {
		return err
	}

	location := time.UTC

	if s.Timezone != "" {
		if loc, locErr := time.LoadLocation(s.Timezone); locErr == nil {
			location = loc
		}
	}

	s.NextDueAt = cronSchedule.Next(referenceTime.In(location)).UTC()
	s.UpdatedAt = time.Now().UTC()

	return nil
}

// IsDue reports whether the schedule should fire at the given time.
func (s *Schedule) IsDue(now time.Time) bool {
	return s.Active && !s.NextDueAt.After(now)
}

// Validate checks the schedule fields, including cron syntax.
func (s *Schedule) Validate() error {
	if s.ID == "" || s.WorkflowID == "" || s.CronExpression == "" {
		return ErrInvalidSchedule
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(s.CronExpression)

	return err
}
