package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Sink receives events after the state change that produced them committed.
// A Sink error never rolls back state.
type Sink interface {
	Publish(ctx context.Context, evs ...Event) error
}

// Nop drops everything.
type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }

// LogSink writes each event as one structured log line.
type LogSink struct {
	log *zap.SugaredLogger
}

func NewLogSink(log *zap.SugaredLogger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Publish(_ context.Context, evs ...Event) error {
	for _, e := range evs {
		kv := []any{"ticker", e.Ticker()}
		switch {
		case e.TokenAdded != nil:
			kv = append(kv, "address", e.TokenAdded.Address.Hex(), "decimals", e.TokenAdded.Decimals)
		case e.Transfer != nil:
			kv = append(kv, "trader", e.Transfer.Trader.Hex(), "amount", e.Transfer.Amount.Dec())
		case e.Order != nil:
			kv = append(kv, "order_id", e.Order.ID, "trader", e.Order.Trader.Hex(), "side", e.Order.Side,
				"amount", e.Order.Amount.Dec(), "filled", e.Order.Filled.Dec(), "price", e.Order.Price.Dec())
		case e.Trade != nil:
			kv = append(kv, "trade_id", e.Trade.ID, "order_id", e.Trade.OrderID, "maker", e.Trade.Maker.Hex(),
				"taker", e.Trade.Taker.Hex(), "amount", e.Trade.Amount.Dec(), "price", e.Trade.Price.Dec())
		}
		s.log.Infow(string(e.Kind), kv...)
	}
	return nil
}

// KafkaSink publishes events as JSON, keyed by ticker so one token's events
// stay ordered within a partition.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (s *KafkaSink) Publish(ctx context.Context, evs ...Event) error {
	if len(evs) == 0 {
		return nil
	}
	msgs, err := encodeMessages(evs)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func encodeMessages(evs []Event) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(evs))
	for _, e := range evs {
		val, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encode %s event: %w", e.Kind, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.Ticker()),
			Value: val,
			Headers: []kafka.Header{
				{Key: "kind", Value: []byte(e.Kind)},
			},
		})
	}
	return msgs, nil
}

// FanOut publishes to every sink and joins their errors.
type FanOut []Sink

func (f FanOut) Publish(ctx context.Context, evs ...Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, evs...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu  sync.Mutex
	evs []Event
}

func (r *Recorder) Publish(_ context.Context, evs ...Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, evs...)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.evs...)
}

// Kinds returns the recorded kinds in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.evs))
	for i, e := range r.evs {
		out[i] = e.Kind
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = nil
}

var (
	_ Sink = Nop{}
	_ Sink = (*LogSink)(nil)
	_ Sink = (*KafkaSink)(nil)
	_ Sink = FanOut(nil)
	_ Sink = (*Recorder)(nil)
)
