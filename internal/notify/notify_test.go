package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fieldbook/internal/config"
	"fieldbook/internal/models"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var occurred = time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC)

func testPayload(t *testing.T, event string) []byte {
	t.Helper()
	clock := "14:30"
	p := models.LifecyclePayload{
		Event: event,
		Booking: &models.Booking{
			ID:           "b-1",
			JobNumber:    "J25001",
			Date:         time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
			BookingTime:  &clock,
			Duration:     models.DurationHalfDay,
			Status:       models.StatusConfirmed,
			Service:      "Boundary survey",
			CustomerName: "Ada Lovelace",
			Address:      "1 Analytical Way",
			Postcode:     "2000",
		},
		Actor:      models.ActorCustomer,
		OccurredAt: occurred,
	}
	data, err := json.Marshal(p)
	require.NoError(t, err)
	return data
}

func TestWebhookSender(t *testing.T) {
	var gotBody []byte
	var gotHeaders http.Header
	status := http.StatusNoContent
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(status)
	}))
	defer server.Close()

	payload := testPayload(t, models.EventCreated)

	t.Run("Signed", func(t *testing.T) {
		s := NewWebhookSender(config.WebhookConfig{URL: server.URL, Secret: "s3cret"})
		require.NoError(t, s.Send(context.Background(), models.EventCreated, payload))
		assert.JSONEq(t, string(payload), string(gotBody))
		assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
		assert.Equal(t, models.EventCreated, gotHeaders.Get(EventHeader))
		assert.Equal(t, Sign([]byte("s3cret"), payload), gotHeaders.Get(SignatureHeader))
		assert.Contains(t, gotHeaders.Get(SignatureHeader), "sha256=")
	})

	t.Run("Unsigned", func(t *testing.T) {
		s := NewWebhookSender(config.WebhookConfig{URL: server.URL})
		require.NoError(t, s.Send(context.Background(), models.EventCreated, payload))
		assert.Empty(t, gotHeaders.Get(SignatureHeader))
	})

	t.Run("Non2xxIsError", func(t *testing.T) {
		status = http.StatusBadGateway
		s := NewWebhookSender(config.WebhookConfig{URL: server.URL})
		err := s.Send(context.Background(), models.EventCreated, payload)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "502")
	})
}

type mockTelegramBot struct {
	mock.Mock
}

func (m *mockTelegramBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

func TestTelegramSender(t *testing.T) {
	bot := new(mockTelegramBot)
	s := NewTelegramSender(bot, []int64{100, 200})

	bot.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == 100
	})).Return(tgbotapi.Message{}, nil).Once()
	bot.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == 200
	})).Return(tgbotapi.Message{}, errors.New("chat not found")).Once()

	err := s.Send(context.Background(), models.EventCreated, testPayload(t, models.EventCreated))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat 200")
	bot.AssertExpectations(t)

	text := bot.Calls[0].Arguments.Get(0).(tgbotapi.MessageConfig).Text
	assert.Contains(t, text, "New booking J25001")
	assert.Contains(t, text, "Mon 10 Mar 2025 · half-day · 14:30")
	assert.Contains(t, text, "By customer")
}

func TestSummary(t *testing.T) {
	t.Run("Unblocked", func(t *testing.T) {
		text := Summary(models.EventUnblocked, &models.LifecyclePayload{
			Date:       "2025-03-12",
			RemovedIDs: []string{"a", "b"},
			Actor:      models.ActorAdmin,
		})
		assert.Equal(t, "Day unblocked\n2025-03-12\nRemoved 2 blocked row(s)\nBy admin", text)
	})

	t.Run("BlockedRowHidesPlaceholder", func(t *testing.T) {
		text := Summary(models.EventBlocked, &models.LifecyclePayload{
			Booking: &models.Booking{
				JobNumber:    "B25001",
				Date:         time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC),
				Duration:     models.DurationFullDay,
				IsBlocked:    true,
				CustomerName: models.BlockedCustomerName,
			},
		})
		assert.Equal(t, "Day blocked B25001\nWed 12 Mar 2025 · full-day", text)
	})

	t.Run("CancelledWithReason", func(t *testing.T) {
		text := Summary(models.EventCancelled, &models.LifecyclePayload{
			Booking: &models.Booking{JobNumber: "J25002", Date: time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)},
			Reason:  "weather",
		})
		assert.Contains(t, text, "Booking cancelled J25002")
		assert.Contains(t, text, "Reason: weather")
	})
}

func TestKafkaSender(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	s := newKafkaSenderWithProducer(producer, "bookings")

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "bookings" {
			return errors.New("wrong topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "b-1" {
			return errors.New("wrong key " + string(key))
		}
		if len(msg.Headers) == 0 || string(msg.Headers[0].Value) != models.EventCreated {
			return errors.New("missing event header")
		}
		return nil
	})
	require.NoError(t, s.Send(context.Background(), models.EventCreated, testPayload(t, models.EventCreated)))

	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	assert.ErrorIs(t, s.Send(context.Background(), models.EventCreated, testPayload(t, models.EventCreated)), sarama.ErrOutOfBrokers)

	require.NoError(t, s.Close())
}

func TestPartitionKey(t *testing.T) {
	assert.Equal(t, "b-1", partitionKey([]byte(`{"booking":{"id":"b-1"},"date":"2025-03-10"}`)))
	assert.Equal(t, "2025-03-10", partitionKey([]byte(`{"event":"unblocked","date":"2025-03-10"}`)))
	assert.Equal(t, "", partitionKey([]byte(`nope`)))
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.Called(ctx, exchange, key, mandatory, immediate, msg).Error(0)
}

func TestAMQPSender(t *testing.T) {
	pub := new(mockPublisher)
	s := &AMQPSender{channel: pub, queue: "fieldbook.events", now: func() time.Time { return occurred }}
	payload := testPayload(t, models.EventCancelled)

	pub.On("PublishWithContext", mock.Anything, "", "fieldbook.events", false, false, mock.MatchedBy(func(p amqp.Publishing) bool {
		return p.DeliveryMode == amqp.Persistent &&
			p.ContentType == "application/json" &&
			p.Type == models.EventCancelled &&
			p.Timestamp.Equal(occurred) &&
			string(p.Body) == string(payload)
	})).Return(nil).Once()

	require.NoError(t, s.Send(context.Background(), models.EventCancelled, payload))
	pub.AssertExpectations(t)
	assert.NoError(t, s.Close())
}

type mockSender struct {
	mock.Mock
	name string
}

func (m *mockSender) Name() string { return m.name }

func (m *mockSender) Send(ctx context.Context, event string, payload []byte) error {
	return m.Called(ctx, event, payload).Error(0)
}

func TestFanout(t *testing.T) {
	ok := &mockSender{name: "ok"}
	ok.On("Send", mock.Anything, models.EventCreated, mock.Anything).Return(nil)
	bad := &mockSender{name: "bad"}
	bad.On("Send", mock.Anything, models.EventCreated, mock.Anything).Return(errors.New("down"))
	last := &mockSender{name: "last"}
	last.On("Send", mock.Anything, models.EventCreated, mock.Anything).Return(nil)

	f := NewFanout(nil, ok, bad, last)
	assert.Equal(t, 3, f.Len())

	err := f.Send(context.Background(), models.EventCreated, []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	last.AssertCalled(t, "Send", mock.Anything, models.EventCreated, mock.Anything)

	assert.NoError(t, NewFanout(nil).Send(context.Background(), models.EventCreated, []byte(`{}`)), "no sinks is a successful delivery")
}
