package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Period is a single open interval within a day, "HH:MM" wall-clock times.
// End must be strictly after Start; overnight wraparound is not supported.
type Period struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// DaySchedule holds the open periods for one weekday (DayID 0=Sunday .. 6=Saturday)
type DaySchedule struct {
	DayID   int      `json:"dayId"`
	DayName string   `json:"dayName"`
	IsOpen  bool     `json:"isOpen"`
	Periods []Period `json:"periods"`
}

// StoreScheduleConfig is the persisted operating-hours record.
// With AutoSchedule disabled the store is treated as always open (manual override).
type StoreScheduleConfig struct {
	AutoSchedule   bool          `json:"autoSchedule"`
	Schedules      []DaySchedule `json:"schedules"`
	AdditionalInfo string        `json:"additionalInfo"`
}

// ValidationResult aggregates all violations across a week of schedules
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

var ptDayNames = [7]string{
	"Domingo", "Segunda", "Terça", "Quarta", "Quinta", "Sexta", "Sábado",
}

// Name returns the display name for the day, falling back to the
// Portuguese weekday name when the record carries none.
func (d DaySchedule) Name() string {
	if d.DayName != "" {
		return d.DayName
	}
	if d.DayID >= 0 && d.DayID <= 6 {
		return ptDayNames[d.DayID]
	}
	return strconv.Itoa(d.DayID)
}

// parseMinutes converts "HH:MM" to minute-of-day
func parseMinutes(hhmm string) (int, error) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", hhmm)
	}

	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", hhmm, err)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", hhmm, err)
	}

	if hours < 0 || hours > 23 {
		return 0, fmt.Errorf("invalid time %q: hour out of range", hhmm)
	}
	if minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid time %q: minute out of range", hhmm)
	}

	return hours*60 + minutes, nil
}

// ValidatePeriod checks a single period: parseable bounds with end after start
func ValidatePeriod(p Period) error {
	start, err := parseMinutes(p.Start)
	if err != nil {
		return err
	}

	end, err := parseMinutes(p.End)
	if err != nil {
		return err
	}

	if end <= start {
		return fmt.Errorf("period %s-%s: end must be after start", p.Start, p.End)
	}

	return nil
}

// ValidateDaySchedule returns the first violation within a day: every period
// must be individually valid and no two periods may overlap.
func ValidateDaySchedule(d DaySchedule) error {
	for _, p := range d.Periods {
		if err := ValidatePeriod(p); err != nil {
			return err
		}
	}

	// Pairwise overlap on minute-of-day. Parse errors are caught above.
	for i := 0; i < len(d.Periods); i++ {
		s1, _ := parseMinutes(d.Periods[i].Start)
		e1, _ := parseMinutes(d.Periods[i].End)

		for j := i + 1; j < len(d.Periods); j++ {
			s2, _ := parseMinutes(d.Periods[j].Start)
			e2, _ := parseMinutes(d.Periods[j].End)

			if s1 < e2 && e1 > s2 {
				return fmt.Errorf("periods %s-%s and %s-%s overlap",
					d.Periods[i].Start, d.Periods[i].End,
					d.Periods[j].Start, d.Periods[j].End)
			}
		}
	}

	return nil
}

// ValidateAllSchedules validates every day independently and aggregates all
// violations; it does not short-circuit on the first failure.
func ValidateAllSchedules(schedules []DaySchedule) ValidationResult {
	result := ValidationResult{Valid: true, Errors: []string{}}

	seen := make(map[int]bool, len(schedules))
	for _, d := range schedules {
		if d.DayID < 0 || d.DayID > 6 {
			result.Errors = append(result.Errors,
				fmt.Sprintf("%s: day id %d out of range 0-6", d.Name(), d.DayID))
		} else if seen[d.DayID] {
			result.Errors = append(result.Errors,
				fmt.Sprintf("%s: duplicate day id %d", d.Name(), d.DayID))
		}
		seen[d.DayID] = true

		if err := ValidateDaySchedule(d); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", d.Name(), err))
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// findDay locates the schedule entry for a weekday, if any
func findDay(schedules []DaySchedule, dayID int) (DaySchedule, bool) {
	for _, d := range schedules {
		if d.DayID == dayID {
			return d, true
		}
	}
	return DaySchedule{}, false
}

// IsStoreOpenAt reports whether the store is open at the given instant.
// With autoSchedule disabled the store is always open. Period bounds are
// inclusive on both ends.
func IsStoreOpenAt(schedules []DaySchedule, autoSchedule bool, t time.Time) bool {
	if !autoSchedule {
		return true
	}

	day, ok := findDay(schedules, int(t.Weekday()))
	if !ok || !day.IsOpen {
		return false
	}

	now := t.Hour()*60 + t.Minute()
	for _, p := range day.Periods {
		start, err := parseMinutes(p.Start)
		if err != nil {
			continue
		}
		end, err := parseMinutes(p.End)
		if err != nil {
			continue
		}

		if now >= start && now <= end {
			return true
		}
	}

	return false
}

// IsStoreOpenNow is IsStoreOpenAt against the wall clock
func IsStoreOpenNow(schedules []DaySchedule, autoSchedule bool) bool {
	return IsStoreOpenAt(schedules, autoSchedule, time.Now())
}

// NextOpeningAt returns a human-readable label for the next opening after t:
// a remaining period today ("Hoje às HH:MM"), otherwise the first open day
// within the next 7 calendar days labeled with its name and first period.
// ok is false when no open day exists within the window.
func NextOpeningAt(schedules []DaySchedule, t time.Time) (string, bool) {
	now := t.Hour()*60 + t.Minute()

	if day, found := findDay(schedules, int(t.Weekday())); found && day.IsOpen {
		for _, p := range day.Periods {
			start, err := parseMinutes(p.Start)
			if err != nil {
				continue
			}
			if start > now {
				return fmt.Sprintf("Hoje às %s", p.Start), true
			}
		}
	}

	for offset := 1; offset <= 7; offset++ {
		dayID := (int(t.Weekday()) + offset) % 7

		day, found := findDay(schedules, dayID)
		if !found || !day.IsOpen || len(day.Periods) == 0 {
			continue
		}

		if offset == 7 {
			return fmt.Sprintf("Próxima %s às %s", day.Name(), day.Periods[0].Start), true
		}
		return fmt.Sprintf("%s às %s", day.Name(), day.Periods[0].Start), true
	}

	return "", false
}

// NextOpeningNow is NextOpeningAt against the wall clock
func NextOpeningNow(schedules []DaySchedule) (string, bool) {
	return NextOpeningAt(schedules, time.Now())
}
