package window

import (
	"fmt"
	"time"

	"github.com/cyp0633/libhorizon/storage"
)

// Policy is applied to every window created by Initialize.
type Policy struct {
	HotWindowMonthsAhead   int
	HistoryRetentionMonths int
	MaxInstancesPerRun     int
	ProcessingPriority     int

	// A processed window needs processing again once its end date is
	// closer than LookAheadMonths and ProcessingCooldown has passed.
	LookAheadMonths    int
	ProcessingCooldown time.Duration

	// NotesKept bounds the processing history kept in ConfigurationNotes.
	NotesKept int
}

// DefaultPolicy returns the production policy.
func DefaultPolicy() Policy {
	return Policy{
		HotWindowMonthsAhead:   12,
		HistoryRetentionMonths: 3,
		MaxInstancesPerRun:     1000,
		ProcessingPriority:     5,
		LookAheadMonths:        1,
		ProcessingCooldown:     time.Hour,
		NotesKept:              5,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.HotWindowMonthsAhead == 0 {
		p.HotWindowMonthsAhead = def.HotWindowMonthsAhead
	}
	if p.MaxInstancesPerRun == 0 {
		p.MaxInstancesPerRun = def.MaxInstancesPerRun
	}
	if p.ProcessingPriority == 0 {
		p.ProcessingPriority = def.ProcessingPriority
	}
	if p.LookAheadMonths == 0 {
		p.LookAheadMonths = def.LookAheadMonths
	}
	if p.NotesKept == 0 {
		p.NotesKept = def.NotesKept
	}
	return p
}

// ConfigProblems lists every check w fails.
func ConfigProblems(w storage.Window) []string {
	var problems []string
	if w.OrganizationID == "" {
		problems = append(problems, "organization id is required")
	}
	if w.HotWindowMonthsAhead < 1 {
		problems = append(problems, "hot window months ahead must be at least 1")
	}
	if w.HistoryRetentionMonths < 0 {
		problems = append(problems, "history retention months must not be negative")
	}
	if w.ProcessingPriority < 1 || w.ProcessingPriority > 10 {
		problems = append(problems, "processing priority must be between 1 and 10")
	}
	if w.MaxInstancesPerRun < 1 {
		problems = append(problems, "max instances per run must be at least 1")
	}
	return problems
}

// ValidateConfig reports whether w passes every check of ConfigProblems.
func ValidateConfig(w storage.Window) bool {
	return len(ConfigProblems(w)) == 0
}

func validate(w storage.Window) error {
	if problems := ConfigProblems(w); len(problems) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, problems)
	}
	return nil
}
