package calendar

import (
	"context"
	"errors"
	"sync"
	"time"

	"fieldbook/internal/dates"
	"fieldbook/internal/domain"
	"fieldbook/internal/models"
	"fieldbook/internal/store"

	"github.com/rs/zerolog"
)

var (
	ErrLoadTimeout   = errors.New("calendar load timed out")
	ErrSessionClosed = errors.New("calendar session closed")
)

const DefaultWeekLoadTimeout = 10 * time.Second

type View string

const (
	ViewMonth View = "month"
	ViewWeek  View = "week"
)

// Source is the slice of the booking store a calendar view reads from.
type Source interface {
	FetchDaily(ctx context.Context, start, end time.Time) (map[string][]*models.Booking, error)
	Subscribe(start, end time.Time, onRefresh store.RefreshFunc) *store.Subscription
}

type SessionConfig struct {
	View           View
	Role           models.Role
	Mode           Mode
	Anchor         time.Time
	Location       *time.Location
	LoadTimeout    time.Duration
	SwipeThreshold float64
	Now            func() time.Time
}

// Snapshot is one rendered state of the view.
type Snapshot struct {
	View  View       `json:"view"`
	Month *MonthGrid `json:"month,omitempty"`
	Week  *WeekGrid  `json:"week,omitempty"`
	Error string     `json:"error,omitempty"`
}

// Session is a mounted calendar view. It owns at most one store subscription,
// which lives until Close.
type Session struct {
	src    Source
	cfg    SessionConfig
	logger zerolog.Logger

	mu             sync.Mutex
	month          time.Time
	nav            *WeekNavigator
	mode           Mode
	selected       *time.Time
	blockSelection map[string]bool
	sub            *store.Subscription
	updates        chan *Snapshot
	closed         bool
}

func NewSession(src Source, cfg SessionConfig, logger *zerolog.Logger) *Session {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultWeekLoadTimeout
	}
	if cfg.View == "" {
		cfg.View = ViewMonth
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeNormal
	}
	if cfg.Role == "" {
		cfg.Role = models.RolePublic
	}
	anchor := cfg.Anchor
	if anchor.IsZero() {
		anchor = cfg.Now()
	}
	anchor = dates.Day(anchor.In(cfg.Location))

	return &Session{
		src:            src,
		cfg:            cfg,
		logger:         logger.With().Str("component", "calendar_session").Str("view", string(cfg.View)).Logger(),
		month:          dates.MonthStart(anchor),
		nav:            NewWeekNavigator(anchor, cfg.SwipeThreshold),
		mode:           cfg.Mode,
		blockSelection: map[string]bool{},
		updates:        make(chan *Snapshot, 1),
	}
}

// Window returns the inclusive date range the view shows.
func (s *Session) Window() (time.Time, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windowLocked()
}

func (s *Session) windowLocked() (time.Time, time.Time) {
	if s.cfg.View == ViewWeek {
		return s.nav.Range()
	}
	return dates.MonthGridRange(s.month.Year(), s.month.Month(), s.cfg.Location)
}

// Load fetches the window and renders it. The week view gives up after LoadTimeout
// with ErrLoadTimeout instead of waiting indefinitely.
func (s *Session) Load(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	start, end := s.windowLocked()
	s.mu.Unlock()

	var daily map[string][]*models.Booking
	var err error
	if s.cfg.View == ViewWeek {
		daily, err = s.fetchWithWatchdog(ctx, start, end)
	} else {
		daily, err = s.src.FetchDaily(ctx, start, end)
	}
	if err != nil {
		if errors.Is(err, ErrLoadTimeout) {
			s.logger.Warn().Dur("timeout", s.cfg.LoadTimeout).Msg("week load timed out")
		}
		return nil, err
	}
	return s.render(daily), nil
}

func (s *Session) fetchWithWatchdog(ctx context.Context, start, end time.Time) (map[string][]*models.Booking, error) {
	type result struct {
		daily map[string][]*models.Booking
		err   error
	}

	loadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		daily, err := s.src.FetchDaily(loadCtx, start, end)
		ch <- result{daily: daily, err: err}
	}()

	timer := time.NewTimer(s.cfg.LoadTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.daily, r.err
	case <-timer.C:
		return nil, ErrLoadTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Watch subscribes to changes inside the window and returns the snapshot channel.
// Only the latest snapshot is kept when the reader falls behind.
func (s *Session) Watch() <-chan *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil && !s.closed {
		start, end := s.windowLocked()
		s.sub = s.src.Subscribe(start, end, s.onRefresh)
	}
	return s.updates
}

func (s *Session) onRefresh(rows []*models.Booking, err error) {
	var snap *Snapshot
	if err != nil {
		s.logger.Error().Err(err).Msg("calendar refresh failed")
		snap = &Snapshot{View: s.cfg.View, Error: domain.UserMessage(err)}
	} else {
		snap = s.render(store.GroupByDate(rows))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.updates <- snap:
	default:
		select {
		case <-s.updates:
		default:
		}
		s.updates <- snap
	}
}

func (s *Session) render(daily map[string][]*models.Booking) *Snapshot {
	s.mu.Lock()
	opts := Options{
		Role:           s.cfg.Role,
		Mode:           s.mode,
		Selected:       s.selected,
		BlockSelection: make(map[string]bool, len(s.blockSelection)),
		Now:            s.cfg.Now(),
	}
	for k, v := range s.blockSelection {
		opts.BlockSelection[k] = v
	}
	month := s.month
	weekStart := s.nav.Current()
	s.mu.Unlock()

	snap := &Snapshot{View: s.cfg.View}
	if s.cfg.View == ViewWeek {
		snap.Week = BuildWeek(weekStart, daily, opts)
	} else {
		snap.Month = BuildMonth(month.Year(), month.Month(), s.cfg.Location, daily, opts)
	}
	return snap
}

// Navigate moves the view by delta months or weeks and retargets the subscription.
func (s *Session) Navigate(delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.View == ViewWeek {
		for ; delta > 0; delta-- {
			s.nav.Next()
		}
		for ; delta < 0; delta++ {
			s.nav.Prev()
		}
	} else {
		s.month = s.month.AddDate(0, delta, 0)
	}
	s.retargetLocked()
}

// Swipe applies a gesture to the week view and reports whether it navigated.
func (s *Session) Swipe(startX, endX float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.View != ViewWeek {
		return false
	}
	moved := s.nav.Swipe(startX, endX)
	if moved {
		s.retargetLocked()
	}
	return moved
}

func (s *Session) retargetLocked() {
	if s.sub != nil {
		start, end := s.windowLocked()
		s.sub.SetWindow(start, end)
	}
}

func (s *Session) SetMode(mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
}

func (s *Session) Select(date *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = date
}

// SetBlockSelection replaces the highlighted block-mode dates.
func (s *Session) SetBlockSelection(keys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockSelection = make(map[string]bool, len(keys))
	for _, k := range keys {
		s.blockSelection[k] = true
	}
}

// Close tears down the subscription and the update channel.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
	close(s.updates)
}
