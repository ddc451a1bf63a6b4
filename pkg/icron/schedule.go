package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// NextRun returns the first fire time of a standard 5-field cron
// expression after refTime.
func NextRun(cronExpr string, refTime time.Time) (time.Time, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(refTime), nil
}

// NextRuns returns the first n fire times after refTime.
func NextRuns(cronExpr string, refTime time.Time, n int) ([]time.Time, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	runs := make([]time.Time, 0, n)
	at := refTime
	for i := 0; i < n; i++ {
		at = schedule.Next(at)
		if at.IsZero() {
			break
		}
		runs = append(runs, at)
	}
	return runs, nil
}
