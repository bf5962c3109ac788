package backup

import (
	"fmt"
	"github.com/robfig/cron/v3"
	"strings"
	"time"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CronSpec folds an optional IANA timezone into the expression the way both
// robfig/cron and gocron understand it.
func CronSpec(expression, timezone string) string {
	expression = strings.TrimSpace(expression)
	if timezone == "" || strings.HasPrefix(expression, "CRON_TZ=") || strings.HasPrefix(expression, "TZ=") {
		return expression
	}
	return "CRON_TZ=" + timezone + " " + expression
}

// ParseCron validates a five field expression with an optional timezone.
func ParseCron(expression, timezone string) (cron.Schedule, error) {
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
	}
	schedule, err := cronParser.Parse(CronSpec(expression, timezone))
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

func NextRun(expression, timezone string, after time.Time) (time.Time, error) {
	schedule, err := ParseCron(expression, timezone)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(after), nil
}
