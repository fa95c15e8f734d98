package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RunStatus is the outcome of a processing run
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusError   RunStatus = "error"
)

// Processing methods
const (
	MethodLatestComparative = "latest_comparative"
	MethodMonthly           = "monthly"
)

// RunResult summarizes one processing run. It is persisted as the run history.
type RunResult struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"run_id"`
	Status          RunStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	Method          string    `gorm:"type:varchar(50);not null" json:"method"`
	TargetDate      time.Time `gorm:"type:date;not null" json:"-"`
	ProcessedPoints int       `gorm:"not null;default:0" json:"processed_points"`
	TotalPoints     int       `gorm:"not null;default:0" json:"total_points"`
	AlertsCount     int       `gorm:"not null;default:0" json:"alerts_count"`
	Error           string    `gorm:"type:text" json:"error,omitempty"`
	StartedAt       time.Time `gorm:"not null;index:,sort:desc" json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`

	TargetDateString string `gorm:"-" json:"target_date"`
}

func (RunResult) TableName() string {
	return "processing_runs"
}

// NewRunResult starts a result for the given method and target date
func NewRunResult(method string, target time.Time) *RunResult {
	return &RunResult{
		ID:               uuid.New(),
		Status:           RunStatusSuccess,
		Method:           method,
		TargetDate:       target,
		TargetDateString: target.Format(DateLayout),
		StartedAt:        time.Now().UTC(),
	}
}

// Fail marks the run as failed with the given error and zero saved points
func (r *RunResult) Fail(err error) {
	r.Status = RunStatusError
	r.ProcessedPoints = 0
	if err != nil {
		r.Error = err.Error()
	}
	r.Finish()
}

// Finish stamps the completion time
func (r *RunResult) Finish() {
	r.FinishedAt = time.Now().UTC()
}

// IsSuccess reports whether the run completed
func (r *RunResult) IsSuccess() bool {
	return r.Status == RunStatusSuccess
}

// Err returns nil for a successful run, otherwise the recorded failure.
// The run keeps only the message, so the error carries no kind.
func (r *RunResult) Err() error {
	if r.IsSuccess() {
		return nil
	}
	return fmt.Errorf("run %s failed: %s", r.ID, r.Error)
}

// AfterFind restores the display date on rows loaded from storage
func (r *RunResult) AfterFind(_ *gorm.DB) error {
	r.TargetDateString = r.TargetDate.Format(DateLayout)
	return nil
}
