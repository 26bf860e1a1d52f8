package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/hackgods/clinic-queue/internal/redis"
)

var ErrTokenAllocationBusy = errors.New("token allocation for this doctor and day is busy, please retry")

// TokenScopeKey names the serialization scope shared by the Redis lock and
// the Postgres advisory lock.
func TokenScopeKey(doctorID uuid.UUID, day time.Time) string {
	return fmt.Sprintf("token:%s:%s", doctorID, day.Format(DateLayout))
}

// NextToken returns the token for a new booking. The active count alone would
// hand out a number already taken once an earlier appointment leaves the
// queue, so the highest assigned token is a floor.
func NextToken(c TokenCounts) int {
	next := c.Active + 1
	if c.Highest+1 > next {
		next = c.Highest + 1
	}
	return next
}

// TokenAllocator assigns per doctor, per day sequential tokens. Allocation and
// insert happen in one critical section: a Redis lock across API replicas and
// an advisory-locked transaction underneath it.
type TokenAllocator struct {
	repo   Repository
	locker redisclient.Locker
}

func NewTokenAllocator(repo Repository, locker redisclient.Locker) *TokenAllocator {
	return &TokenAllocator{repo: repo, locker: locker}
}

// Allocate persists draft with the next token for its doctor and day.
func (a *TokenAllocator) Allocate(ctx context.Context, draft Appointment) (*Appointment, error) {
	var created *Appointment

	insert := func(ctx context.Context) error {
		return a.repo.WithinTokenScope(ctx, draft.DoctorID, draft.Date, func(ctx context.Context, tx Repository) error {
			counts, err := tx.CountTokens(ctx, draft.DoctorID, draft.Date)
			if err != nil {
				return err
			}

			row := draft
			row.Token = NextToken(counts)
			appt, err := tx.InsertAppointment(ctx, row)
			if err != nil {
				return err
			}
			created = appt
			return nil
		})
	}

	var err error
	if a.locker != nil {
		err = a.locker.WithLock(ctx, TokenScopeKey(draft.DoctorID, draft.Date), insert)
	} else {
		err = insert(ctx)
	}

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrTokenAllocationBusy
		}
		return nil, fmt.Errorf("allocate token: %w", err)
	}
	return created, nil
}
