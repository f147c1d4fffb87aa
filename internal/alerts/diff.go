package alerts

import (
	"sort"
	"strings"

	"github.com/lox/nwsannounce/internal/models"
)

// Result is the outcome of comparing two alert sets.
type Result struct {
	New     []models.AlertRecord
	Expired []models.AlertRecord
}

// Empty reports whether nothing changed.
func (r Result) Empty() bool {
	return len(r.New) == 0 && len(r.Expired) == 0
}

// Diff compares the previous and current active sets. New alerts are those
// only in current that meet every threshold, most severe first, then
// earliest effective time. Expired alerts are those only in previous. Diff
// does not modify its inputs.
func Diff(previous, current models.AlertSet, th models.Thresholds) Result {
	var res Result

	for id, a := range current {
		if _, seen := previous[id]; seen {
			continue
		}
		if !th.Admits(a) {
			continue
		}
		res.New = append(res.New, a)
	}

	for id, a := range previous {
		if _, ok := current[id]; !ok {
			res.Expired = append(res.Expired, a)
		}
	}

	SortBySeverity(res.New)
	sort.Slice(res.Expired, func(i, j int) bool {
		return res.Expired[i].ID < res.Expired[j].ID
	})

	return res
}

// SortBySeverity orders alerts by severity descending, then effective time
// ascending. The ID breaks remaining ties so the order is total.
func SortBySeverity(records []models.AlertRecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		if !a.Effective.Equal(b.Effective) {
			return a.Effective.Before(b.Effective)
		}
		return a.ID < b.ID
	})
}

// Sorted returns the set's records in severity order.
func Sorted(set models.AlertSet) []models.AlertRecord {
	records := make([]models.AlertRecord, 0, len(set))
	for _, a := range set {
		records = append(records, a)
	}
	SortBySeverity(records)
	return records
}

var highPriorityKeywords = []string{"tornado", "severe thunderstorm", "flash flood warning"}

// IsHighPriority flags the alert types that warrant extra attention beyond
// the normal announcement.
func IsHighPriority(a models.AlertRecord) bool {
	text := strings.ToLower(a.Event + " " + a.Headline)
	for _, kw := range highPriorityKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
