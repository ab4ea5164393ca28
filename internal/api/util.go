package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

func splitTags(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, ",")
}

func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

// computeNextRun mirrors the scheduler's own cron advancement so a schedule
// created or edited through this API is immediately eligible for the
// evaluation loop's next due-schedules poll, without waiting on a
// reconciliation pass. tz folds the schedule's declared timezone into the
// parsed cron spec via the CRON_TZ= prefix robfig/cron recognizes, so the
// wall-clock fields are evaluated in that zone rather than the server's.
func computeNextRun(expr, tz string, from time.Time) (time.Time, error) {
	if tz == "" {
		tz = "UTC"
	}
	schedule, err := cron.ParseStandard("CRON_TZ=" + tz + " " + expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q for timezone %q: %w", expr, tz, err)
	}
	return schedule.Next(from), nil
}
