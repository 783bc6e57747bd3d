package service

import (
	"context"
	"fmt"
	"time"

	"fieldbook/internal/dates"
	"fieldbook/internal/domain"
	"fieldbook/internal/models"

	"github.com/rs/zerolog"
)

// Blocker creates one blocked booking.
type Blocker interface {
	Block(ctx context.Context, date time.Time, duration models.Duration, actor string) (*Result, error)
}

// CommitResult lists which selected dates were blocked and which were kept for a retry.
type CommitResult struct {
	Message string   `json:"message"`
	Blocked []string `json:"blocked"`
	Failed  []string `json:"failed"`
}

// BlockSelectionService keeps the admin's multi-select set and commits it as blocked days.
type BlockSelectionService struct {
	repo    domain.SessionRepository
	blocker Blocker
	loc     *time.Location
	now     func() time.Time
	logger  zerolog.Logger
}

func NewBlockSelectionService(repo domain.SessionRepository, blocker Blocker, loc *time.Location, logger *zerolog.Logger) *BlockSelectionService {
	if loc == nil {
		loc = time.Local
	}
	return &BlockSelectionService{
		repo:    repo,
		blocker: blocker,
		loc:     loc,
		now:     time.Now,
		logger:  logger.With().Str("component", "block_selection").Logger(),
	}
}

func (s *BlockSelectionService) SetClock(now func() time.Time) {
	s.now = now
}

// Toggle adds date to the selection, or removes it when already present. Past dates are rejected.
func (s *BlockSelectionService) Toggle(ctx context.Context, session string, date time.Time) (bool, error) {
	day := dates.In(date, s.loc)
	key := dates.Format(day)

	members, err := s.List(ctx, session)
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if m == key {
			if err := s.repo.Remove(ctx, session, key); err != nil {
				return false, &domain.StorageError{Op: "selection_remove", Err: err}
			}
			return false, nil
		}
	}

	if dates.IsPast(day, s.now().In(s.loc)) {
		return false, &domain.AvailabilityConflict{Date: day, Role: string(models.RoleAdmin), Reason: domain.ReasonPast}
	}
	if err := s.repo.Add(ctx, session, key); err != nil {
		return false, &domain.StorageError{Op: "selection_add", Err: err}
	}
	return true, nil
}

// List returns the selected date keys in calendar order.
func (s *BlockSelectionService) List(ctx context.Context, session string) ([]string, error) {
	members, err := s.repo.Members(ctx, session)
	if err != nil {
		return nil, &domain.StorageError{Op: "selection_list", Err: err}
	}
	return members, nil
}

func (s *BlockSelectionService) Clear(ctx context.Context, session string) error {
	if err := s.repo.Clear(ctx, session); err != nil {
		return &domain.StorageError{Op: "selection_clear", Err: err}
	}
	return nil
}

// Commit blocks every selected date in order, continuing past failures. Blocked dates leave
// the selection; failed ones stay. The whole set is cleared only when every date succeeded.
func (s *BlockSelectionService) Commit(ctx context.Context, session string, duration models.Duration, actor string) (*CommitResult, error) {
	keys, err := s.List(ctx, session)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, domain.ErrEmptySelection
	}

	res := &CommitResult{Blocked: []string{}, Failed: []string{}}
	for _, key := range keys {
		date, err := dates.Parse(key, s.loc)
		if err == nil {
			_, err = s.blocker.Block(ctx, date, duration, actor)
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("date", key).Msg("block failed")
			res.Failed = append(res.Failed, key)
			continue
		}
		res.Blocked = append(res.Blocked, key)
		if err := s.repo.Remove(ctx, session, key); err != nil {
			s.logger.Warn().Err(err).Str("date", key).Msg("failed to drop blocked date from selection")
		}
	}

	if len(res.Failed) > 0 {
		res.Message = domain.UserMessage(domain.ErrBlockCommitFailed)
		return res, fmt.Errorf("%w: %d of %d", domain.ErrBlockCommitFailed, len(res.Failed), len(keys))
	}

	if err := s.repo.Clear(ctx, session); err != nil {
		s.logger.Warn().Err(err).Str("session", session).Msg("failed to clear selection")
	}
	res.Message = fmt.Sprintf("%d day(s) blocked.", len(res.Blocked))
	return res, nil
}
