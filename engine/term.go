/*
term.go - Term calendar

PURPOSE:
  Terms are the administratively defined date ranges lessons are booked
  into. The calendar keeps them ordered and non-overlapping, and answers
  "which term are we in" / "which term is next" for a given day.

CRITICAL INVARIANTS:
  1. EndDate > StartDate for every term
  2. No two terms share a day (closed ranges)
  3. Terms are ordered by StartDate

  Invariants are checked on every write against every other stored term,
  inside the same unit of work as the write.

SEE ALSO:
  - recurrence.go: Consumes a Term as the bounds of a schedule
  - period.go: The closed-range overlap test
*/
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// =============================================================================
// TERM
// =============================================================================

type Term struct {
	ID        TermID
	Name      string
	StartDate Date
	EndDate   Date
}

func (t Term) Period() Period { return Period{Start: t.StartDate, End: t.EndDate} }

// Contains reports whether d falls on or between the first and last day of the term.
func (t Term) Contains(d Date) bool { return t.Period().Contains(d) }

func (t Term) String() string {
	return fmt.Sprintf("%s %s-%s", t.Name, t.StartDate.Time.Format("02/01/2006"), t.EndDate.Time.Format("02/01/2006"))
}

// ValidateTerm checks term against all existing terms. A stored term is
// allowed to match itself when it is being re-validated after an edit.
func ValidateTerm(term Term, all []Term) error {
	if strings.TrimSpace(term.Name) == "" {
		return &FieldError{Field: "name", Code: CodeMissingField}
	}
	if term.StartDate.IsZero() {
		return &FieldError{Field: "start_date", Code: CodeMissingField}
	}
	if term.EndDate.IsZero() {
		return &FieldError{Field: "end_date", Code: CodeMissingField}
	}
	if !term.EndDate.After(term.StartDate) {
		return &FieldError{Field: "end_date", Code: CodeEndBeforeStart}
	}

	for _, other := range SortTerms(all) {
		if term.ID != 0 && other.ID == term.ID {
			continue
		}
		if term.Period().Overlaps(other.Period()) {
			return &FieldError{Field: "start_date", Code: CodeOverlaps, Conflict: other.Name}
		}
	}
	return nil
}

// SortTerms returns a copy of terms ordered by StartDate.
func SortTerms(terms []Term) []Term {
	sorted := make([]Term, len(terms))
	copy(sorted, terms)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartDate.Before(sorted[j].StartDate)
	})
	return sorted
}

// CurrentTerm returns the first term, by start date, containing today.
func CurrentTerm(today Date, terms []Term) (Term, bool) {
	for _, t := range SortTerms(terms) {
		if t.Contains(today) {
			return t, true
		}
	}
	return Term{}, false
}

// NextTerm returns the first term starting strictly after today.
func NextTerm(today Date, terms []Term) (Term, bool) {
	for _, t := range SortTerms(terms) {
		if t.StartDate.After(today) {
			return t, true
		}
	}
	return Term{}, false
}

// DefaultTerm is the term a new booking is placed in when none is chosen:
// the current term, or the next one outside term time.
func DefaultTerm(today Date, terms []Term) (Term, error) {
	if len(terms) == 0 {
		return Term{}, ErrNoTerms
	}
	if t, ok := CurrentTerm(today, terms); ok {
		return t, nil
	}
	if t, ok := NextTerm(today, terms); ok {
		return t, nil
	}
	return Term{}, ErrTermNotFound
}

// =============================================================================
// TERM SERVICE - Administrator writes
// =============================================================================

type TermService struct {
	Store  TxStore
	Logger *zap.Logger
}

// Save validates term against every other stored term and persists it.
// A zero ID creates a new term.
func (s *TermService) Save(ctx context.Context, term Term) (Term, error) {
	err := s.Store.WithTx(ctx, func(tx Store) error {
		if term.ID != 0 {
			if _, err := tx.GetTerm(ctx, term.ID); err != nil {
				return err
			}
		}
		all, err := tx.ListTerms(ctx)
		if err != nil {
			return fmt.Errorf("failed to list terms: %w", err)
		}
		if err := ValidateTerm(term, all); err != nil {
			return err
		}
		return tx.SaveTerm(ctx, &term)
	})
	if err != nil {
		return Term{}, err
	}
	logger(s.Logger).Info("term saved",
		zap.Int64("term_id", int64(term.ID)),
		zap.String("name", term.Name),
		zap.Stringer("start", term.StartDate),
		zap.Stringer("end", term.EndDate))
	return term, nil
}

func (s *TermService) Delete(ctx context.Context, id TermID) error {
	return s.Store.WithTx(ctx, func(tx Store) error {
		if _, err := tx.GetTerm(ctx, id); err != nil {
			return err
		}
		return tx.DeleteTerm(ctx, id)
	})
}

// Resolve returns the current and next term relative to today.
func (s *TermService) Resolve(ctx context.Context, today Date) (current, next *Term, err error) {
	terms, err := s.Store.ListTerms(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(terms) == 0 {
		return nil, nil, ErrNoTerms
	}
	if t, ok := CurrentTerm(today, terms); ok {
		current = &t
	}
	if t, ok := NextTerm(today, terms); ok {
		next = &t
	}
	return current, next, nil
}

func logger(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
