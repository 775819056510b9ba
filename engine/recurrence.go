/*
recurrence.go - Lesson schedule computation

PURPOSE:
  Turns a recurrence specification (day of week, interval, term and
  optional start/end override) into the first lesson date and the number
  of lessons. This is a pure function: no store, no clock.

ALGORITHM:
  1. StartDate (if given) must be inside the term and on Weekday
  2. EndDate (if given) must be inside the term and on Weekday
  3. EndDate >= StartDate when both are given
  4. First lesson = StartDate, or the first Weekday on/after term start
  5. Last eligible day = EndDate, or term end
  6. Lessons = floor((last - first) / interval) + 1, or 0 if first > last
  7. Zero lessons is an error

EXAMPLE:
  Term 2022-09-01 (Thu) .. 2022-10-21 (Fri), Monday, weekly:
  first lesson 2022-09-05, lessons on 09-05, 09-12, ..., 10-17 = 7

SEE ALSO:
  - term.go: Term bounds
  - booking.go: Persists FirstDate and Lessons on the Booking
*/
package engine

// RecurrenceSpec is built per booking submission and never stored as such.
type RecurrenceSpec struct {
	Weekday   Weekday
	Interval  Interval
	Duration  Duration
	Term      Term
	StartDate *Date
	EndDate   *Date
}

// Schedule is the derived lesson plan.
type Schedule struct {
	FirstDate Date
	Lessons   int
	Interval  Interval
}

// Dates returns every lesson date: FirstDate + k*Interval for k in [0, Lessons).
func (s Schedule) Dates() []Date {
	dates := make([]Date, s.Lessons)
	for k := range dates {
		dates[k] = s.FirstDate.AddDays(k * s.Interval.Days())
	}
	return dates
}

// LastDate is the date of the final lesson.
func (s Schedule) LastDate() Date {
	return s.FirstDate.AddDays((s.Lessons - 1) * s.Interval.Days())
}

// ComputeSchedule derives the first lesson date and lesson count.
// Cross-field violations are returned together as ValidationErrors.
func ComputeSchedule(spec RecurrenceSpec) (Schedule, error) {
	var verrs ValidationErrors

	if !spec.Weekday.Valid() {
		verrs = append(verrs, &FieldError{Field: "day_of_week", Code: CodeInvalidChoice})
	}
	if !spec.Interval.Valid() {
		verrs = append(verrs, &FieldError{Field: "days_between_lessons", Code: CodeInvalidChoice})
	}
	if len(verrs) > 0 {
		return Schedule{}, verrs
	}

	term := spec.Term
	verrs = append(verrs, checkBoundDate("start_date", spec.StartDate, spec.Weekday, term)...)
	verrs = append(verrs, checkBoundDate("end_date", spec.EndDate, spec.Weekday, term)...)

	if spec.StartDate != nil && spec.EndDate != nil && spec.EndDate.Before(*spec.StartDate) {
		verrs = append(verrs, &FieldError{Field: "end_date", Code: CodeEndBeforeStart})
	}
	if err := verrs.orNil(); err != nil {
		return Schedule{}, err
	}

	first := firstLessonDate(spec)
	last := term.EndDate
	if spec.EndDate != nil {
		last = *spec.EndDate
	}

	lessons := countLessons(first, last, spec.Interval)
	if lessons == 0 {
		return Schedule{}, ValidationErrors{{Field: "end_date", Code: CodeZeroLessons}}
	}

	return Schedule{FirstDate: first, Lessons: lessons, Interval: spec.Interval}, nil
}

func checkBoundDate(field string, d *Date, weekday Weekday, term Term) []*FieldError {
	if d == nil {
		return nil
	}
	var errs []*FieldError
	if d.Weekday() != weekday {
		errs = append(errs, &FieldError{Field: field, Code: CodeWeekdayMismatch})
	}
	if !term.Contains(*d) {
		errs = append(errs, &FieldError{Field: field, Code: CodeDateOutOfTerm})
	}
	return errs
}

// firstLessonDate is StartDate, or the first matching weekday on or after
// the term start. The search never needs more than seven steps.
func firstLessonDate(spec RecurrenceSpec) Date {
	if spec.StartDate != nil {
		return *spec.StartDate
	}
	first := spec.Term.StartDate
	for i := 0; i < 7 && first.Weekday() != spec.Weekday; i++ {
		first = first.AddDays(1)
	}
	return first
}

func countLessons(first, last Date, interval Interval) int {
	if first.After(last) {
		return 0
	}
	return DaysBetween(first, last)/interval.Days() + 1
}
