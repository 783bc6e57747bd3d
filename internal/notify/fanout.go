package notify

import (
	"context"
	"errors"
	"fmt"

	"fieldbook/internal/domain"
	"fieldbook/internal/metrics"

	"github.com/rs/zerolog"
)

// Fanout delivers every event to all configured sinks. A failing sink does not
// stop the others; the joined error makes the worker retry the whole event.
type Fanout struct {
	senders []domain.Sender
	logger  zerolog.Logger
}

func NewFanout(logger *zerolog.Logger, senders ...domain.Sender) *Fanout {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "notify").Logger()
	}
	return &Fanout{senders: senders, logger: l}
}

func (f *Fanout) Name() string { return "fanout" }

// Len reports the number of sinks.
func (f *Fanout) Len() int { return len(f.senders) }

func (f *Fanout) Send(ctx context.Context, event string, payload []byte) error {
	var errs []error
	for _, s := range f.senders {
		err := s.Send(ctx, event, payload)
		metrics.IncDelivery(s.Name(), err)
		if err != nil {
			f.logger.Warn().Err(err).Str("sink", s.Name()).Str("event", event).Msg("delivery failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		f.logger.Debug().Str("sink", s.Name()).Str("event", event).Msg("delivered")
	}
	return errors.Join(errs...)
}
