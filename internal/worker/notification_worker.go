package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fieldbook/internal/domain"
	"fieldbook/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultQueueKey      = "notifications:queue"
	defaultDeadLetterKey = "notifications:deadletter"
)

// NotificationWorker is the lifecycle outbox. Enqueue persists the event to
// notification_queue and signals the worker through redis or a local channel;
// Start drains the queue into the sender with backoff and a dead letter list.
// Delivery is at-least-once: a retried event is resent to every sink.
type NotificationWorker struct {
	queue         domain.NotificationQueue
	sender        domain.Sender
	redis         *redis.Client
	retryPolicy   RetryPolicy
	local         chan models.Notification
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	now           func() time.Time
	logger        zerolog.Logger
}

// NewNotificationWorker builds a worker with sane defaults. redisClient may be nil.
func NewNotificationWorker(queue domain.NotificationQueue, sender domain.Sender, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *NotificationWorker {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "notification_worker").Logger()
	}
	return &NotificationWorker{
		queue:         queue,
		sender:        sender,
		redis:         redisClient,
		retryPolicy:   retry.withDefaults(),
		local:         make(chan models.Notification, 128),
		redisQueueKey: defaultQueueKey,
		deadLetterKey: defaultDeadLetterKey,
		pollInterval:  2 * time.Second,
		batchSize:     20,
		now:           time.Now,
		logger:        l,
	}
}

// SetPolling overrides the database poll cadence. Zero values keep the defaults.
func (w *NotificationWorker) SetPolling(interval time.Duration, batchSize int) {
	if interval > 0 {
		w.pollInterval = interval
	}
	if batchSize > 0 {
		w.batchSize = batchSize
	}
}

func (w *NotificationWorker) SetClock(now func() time.Time) {
	if now != nil {
		w.now = now
	}
}

// Enqueue implements domain.Outbox.
func (w *NotificationWorker) Enqueue(ctx context.Context, payload *models.LifecyclePayload) error {
	if payload == nil || payload.Event == "" {
		return errors.New("event is required")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	n := models.Notification{
		Event:   payload.Event,
		Payload: string(body),
		Status:  models.NotificationPending,
	}
	if payload.Booking != nil {
		n.BookingID = payload.Booking.ID
	}

	if err := w.queue.CreateNotification(ctx, &n); err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, n); err != nil {
			w.logger.Warn().Err(err).Int64("notification_id", n.ID).Msg("redis push failed, falling back to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.local <- n:
	default:
		w.logger.Warn().Int64("notification_id", n.ID).Msg("memory queue full, left to polling")
	}
	return nil
}

// Start runs the delivery loop until ctx is done.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.logger.Info().Str("sender", w.sender.Name()).Msg("notification worker started")
	defer w.logger.Info().Msg("notification worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if n, ok := w.tryLocalQueue(); ok {
			w.processQueued(ctx, n)
			continue
		}

		if n, ok := w.tryRedis(ctx); ok {
			w.processQueued(ctx, n)
			continue
		}

		if w.drainPending(ctx) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pollInterval):
			}
		}
	}
}

// drainPending processes one batch of due rows and reports how many it saw.
func (w *NotificationWorker) drainPending(ctx context.Context) int {
	pending, err := w.queue.GetPendingNotifications(ctx, w.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("fetch pending notifications")
		}
		return 0
	}
	for i := range pending {
		w.process(ctx, &pending[i])
	}
	return len(pending)
}

func (w *NotificationWorker) tryLocalQueue() (models.Notification, bool) {
	select {
	case n := <-w.local:
		return n, true
	default:
		return models.Notification{}, false
	}
}

func (w *NotificationWorker) tryRedis(ctx context.Context) (models.Notification, bool) {
	if w.redis == nil {
		return models.Notification{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.Notification{}, false
		}
		w.logger.Error().Err(err).Msg("redis BRPOP")
		return models.Notification{}, false
	}
	if len(res) != 2 {
		return models.Notification{}, false
	}
	var n models.Notification
	if err := json.Unmarshal([]byte(res[1]), &n); err != nil {
		w.logger.Error().Err(err).Msg("decode redis notification")
		return models.Notification{}, false
	}
	return n, true
}

// processQueued re-reads a signalled row so one already handled by the poller
// is not delivered twice.
func (w *NotificationWorker) processQueued(ctx context.Context, queued models.Notification) {
	n, err := w.queue.GetNotification(ctx, queued.ID)
	if err != nil {
		w.logger.Error().Err(err).Int64("notification_id", queued.ID).Msg("reload notification")
		return
	}
	if !w.due(n) {
		return
	}
	w.process(ctx, n)
}

func (w *NotificationWorker) due(n *models.Notification) bool {
	switch n.Status {
	case models.NotificationPending:
		return true
	case models.NotificationRetry:
		return n.NextRetryAt == nil || !n.NextRetryAt.After(w.now())
	default:
		return false
	}
}

func (w *NotificationWorker) process(ctx context.Context, n *models.Notification) {
	if !json.Valid([]byte(n.Payload)) {
		w.fail(ctx, n, errors.New("payload is not valid json"))
		return
	}

	if err := w.sender.Send(ctx, n.Event, []byte(n.Payload)); err != nil {
		w.retryOrFail(ctx, n, err)
		return
	}

	if err := w.queue.UpdateNotificationStatus(ctx, n.ID, models.NotificationCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("mark completed")
	}
}

func (w *NotificationWorker) retryOrFail(ctx context.Context, n *models.Notification, cause error) {
	attempt := n.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		w.fail(ctx, n, cause)
		return
	}

	next := w.now().Add(w.retryPolicy.NextDelay(attempt))
	w.logger.Warn().Err(cause).
		Int64("notification_id", n.ID).
		Str("event", n.Event).
		Int("attempt", attempt).
		Time("next_retry_at", next).
		Msg("notification delivery failed, will retry")
	if err := w.queue.UpdateNotificationStatus(ctx, n.ID, models.NotificationRetry, cause.Error(), &next); err != nil {
		w.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("mark retry")
	}
}

func (w *NotificationWorker) fail(ctx context.Context, n *models.Notification, cause error) {
	w.logger.Error().Err(cause).Int64("notification_id", n.ID).Str("event", n.Event).Msg("notification dead-lettered")
	if err := w.queue.UpdateNotificationStatus(ctx, n.ID, models.NotificationFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("mark failed")
	}
	w.pushDeadLetter(ctx, n)
}

func (w *NotificationWorker) pushRedis(ctx context.Context, n models.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, w.redisQueueKey, data).Err()
}

func (w *NotificationWorker) pushDeadLetter(ctx context.Context, n *models.Notification) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(n)
	if err != nil {
		w.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("encode dead letter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("dead letter push")
	}
}
