package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"braillescan/internal/model"
)

var errMalformedEvent = errors.New("malformed detection event")

type RecordLister interface {
	ListBySessionID(ctx context.Context, sessionID string) ([]model.DetectionRecord, error)
}

type ResultWarmer interface {
	SetResults(ctx context.Context, sessionID string, records []model.DetectionRecord) error
	ClearDirty(ctx context.Context, sessionID string) error
}

// DetectionEventWorker consumes detection-completed events and refreshes the
// cached result list of the affected session.
type DetectionEventWorker struct {
	conn      *amqp.Connection
	records   RecordLister
	cache     ResultWarmer
	queueName string
	log       zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDetectionEventWorker(conn *amqp.Connection, records RecordLister, cache ResultWarmer, queueName string, log zerolog.Logger) *DetectionEventWorker {
	return &DetectionEventWorker{
		conn:      conn,
		records:   records,
		cache:     cache,
		queueName: queueName,
		log:       log.With().Str("component", "detection_event_worker").Logger(),
	}
}

func (w *DetectionEventWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				if err := w.Handle(workerCtx, d.Body); err != nil {
					w.log.Error().Err(err).Str("message_id", d.MessageId).Msg("handle detection event failed")
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

// Handle decodes one event body and rewrites the session's cached results.
func (w *DetectionEventWorker) Handle(ctx context.Context, body []byte) error {
	var event model.DetectionEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("%w: %v", errMalformedEvent, err)
	}
	if event.SessionID == "" {
		return fmt.Errorf("%w: missing session_id", errMalformedEvent)
	}

	records, err := w.records.ListBySessionID(ctx, event.SessionID)
	if err != nil {
		return fmt.Errorf("list session results failed: %w", err)
	}
	if err := w.cache.SetResults(ctx, event.SessionID, records); err != nil {
		return err
	}
	if err := w.cache.ClearDirty(ctx, event.SessionID); err != nil {
		return err
	}

	w.log.Debug().
		Str("session_id", event.SessionID).
		Str("record_id", event.RecordID).
		Int("character_count", event.CharacterCount).
		Int("results", len(records)).
		Msg("session results refreshed")
	return nil
}

func (w *DetectionEventWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
