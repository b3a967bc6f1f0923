package crud

import (
	"fmt"
	"time"

	"github.com/dsi-data/logops/internal/apperr"
	"github.com/dsi-data/logops/internal/model"
)

const timeLayout = "20060102150405"

// applyRetentionGate enforces the age floor independent of any caller
// filter: for ARCHIVE the cutoff is retentionDays before now, for DELETE
// it is deleteRetentionDays before now. If the caller already supplied a
// DateEnd, it must be at or before the cutoff (a stricter filter is
// honored unchanged); otherwise the default "older than N days" filter
// is synthesized. The cutoff is pinned to the end of its calendar day
// (23:59:59) rather than now's exact time of day, matching
// dateparse.Parse's own end-of-day rounding for "older than N days" -
// otherwise a phrase whose N equals the configured retention floor would
// be rejected as too recent purely from clock-time jitter within the
// same day.
func applyRetentionGate(filters model.Filters, now time.Time, retentionDays int) (model.Filters, error) {
	cutoffDay := now.AddDate(0, 0, -retentionDays)
	cutoff := time.Date(cutoffDay.Year(), cutoffDay.Month(), cutoffDay.Day(), 23, 59, 59, 0, cutoffDay.Location()).Format(timeLayout)

	out := filters
	if out.DateEnd != nil {
		if *out.DateEnd > cutoff {
			return out, apperr.New(apperr.SafetyRuleViolation,
				fmt.Sprintf("selected rows must be older than %d days; requested cutoff %s is too recent", retentionDays, *out.DateEnd))
		}
		if out.DateOperation == "" {
			out.DateOperation = "less_than"
		}
		return out, nil
	}

	out.DateOperation = "less_than"
	out.DateEnd = &cutoff
	return out, nil
}
