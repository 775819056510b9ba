/*
request.go - Lesson request lifecycle

PURPOSE:
  A client asks for lessons (how many, how often, how long, and when they
  are available). An administrator later turns the request into exactly
  one Booking; see BookingService.CreateFromRequest.

LIFECYCLE:
  Submitted ──▶ (edited while unfulfilled) ──▶ Fulfilled   (booking created)
       │
       └──▶ Withdrawn (deleted, only while unfulfilled)

SEE ALSO:
  - booking.go: Fulfils requests atomically with booking creation
*/
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Request struct {
	ID           RequestID
	ClientID     UserID
	ChildID      *ChildID
	Availability string
	Lessons      int
	Interval     Interval
	Duration     Duration
	Info         string
	Fulfilled    bool
	CreatedAt    time.Time
}

func validateRequest(r Request) error {
	var verrs ValidationErrors
	if r.Lessons < 1 {
		verrs = append(verrs, &FieldError{Field: "lessons", Code: CodeInvalidChoice})
	}
	if !r.Interval.Valid() {
		verrs = append(verrs, &FieldError{Field: "days_between_lessons", Code: CodeInvalidChoice})
	}
	if !r.Duration.Valid() {
		verrs = append(verrs, &FieldError{Field: "duration", Code: CodeInvalidChoice})
	}
	if r.Availability == "" {
		verrs = append(verrs, &FieldError{Field: "availability", Code: CodeMissingField})
	}
	return verrs.orNil()
}

type RequestService struct {
	Store  TxStore
	Logger *zap.Logger
}

// Submit records a new, unfulfilled request from a client.
func (s *RequestService) Submit(ctx context.Context, r Request) (Request, error) {
	r.ID = 0
	r.Fulfilled = false
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	err := s.Store.WithTx(ctx, func(tx Store) error {
		if err := s.checkParties(ctx, tx, r); err != nil {
			return err
		}
		if err := validateRequest(r); err != nil {
			return err
		}
		return tx.SaveRequest(ctx, &r)
	})
	if err != nil {
		return Request{}, err
	}
	logger(s.Logger).Info("lesson request submitted",
		zap.Int64("request_id", int64(r.ID)),
		zap.Int64("client_id", int64(r.ClientID)))
	return r, nil
}

// Update replaces the lesson details of an unfulfilled request owned by clientID.
func (s *RequestService) Update(ctx context.Context, clientID UserID, r Request) (Request, error) {
	err := s.Store.WithTx(ctx, func(tx Store) error {
		existing, err := s.owned(ctx, tx, clientID, r.ID)
		if err != nil {
			return err
		}
		r.ClientID = existing.ClientID
		r.CreatedAt = existing.CreatedAt
		r.Fulfilled = false
		if err := s.checkParties(ctx, tx, r); err != nil {
			return err
		}
		if err := validateRequest(r); err != nil {
			return err
		}
		return tx.SaveRequest(ctx, &r)
	})
	if err != nil {
		return Request{}, err
	}
	return r, nil
}

// Withdraw deletes an unfulfilled request owned by clientID.
func (s *RequestService) Withdraw(ctx context.Context, clientID UserID, id RequestID) error {
	return s.Store.WithTx(ctx, func(tx Store) error {
		if _, err := s.owned(ctx, tx, clientID, id); err != nil {
			return err
		}
		return tx.DeleteRequest(ctx, id)
	})
}

func (s *RequestService) owned(ctx context.Context, tx Store, clientID UserID, id RequestID) (Request, error) {
	existing, err := tx.GetRequest(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if existing.ClientID != clientID {
		return Request{}, ErrNotRequestOwner
	}
	if existing.Fulfilled {
		return Request{}, ErrRequestFulfilled
	}
	return existing, nil
}

func (s *RequestService) checkParties(ctx context.Context, tx Store, r Request) error {
	client, err := tx.GetUser(ctx, r.ClientID)
	if err != nil {
		return err
	}
	if client.Role != RoleStudent {
		return &FieldError{Field: "client", Code: CodeWrongRole}
	}
	if r.ChildID == nil {
		return nil
	}
	child, err := tx.GetChild(ctx, *r.ChildID)
	if err != nil {
		return err
	}
	return checkChild(&child, r.ClientID)
}
