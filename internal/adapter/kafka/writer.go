package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/corona-dd-collector/internal/adapter/influx"
	"github.com/couchcryptid/corona-dd-collector/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

const (
	headerSeries  = "series"
	headerPubDate = "pub_date"
)

// messageWriter is the subset of *kafkago.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes series points to a Kafka topic, one message per point
// with the point in InfluxDB line protocol as the value.
// It implements pipeline.Sink.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for topic.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "kafka" }

// Write publishes every point of batch in a single WriteMessages call.
// Messages are keyed by series so one series stays on one partition.
func (w *Writer) Write(ctx context.Context, batch domain.Batch) error {
	if len(batch.Points) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(batch.Points))
	for i := range batch.Points {
		msg, err := serializeToMessage(batch.Points[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write %s: %w", batch.Series, err)
	}
	w.logger.Debug("kafka batch written", "series", batch.Series, "messages", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage encodes a point as one line of InfluxDB line protocol.
func serializeToMessage(p domain.SeriesPoint) (kafkago.Message, error) {
	pt, err := influx.NewPoint(p)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize point: %w", err)
	}

	headers := []kafkago.Header{{Key: headerSeries, Value: []byte(p.Series)}}
	if pub, ok := p.Fields[domain.FieldPubDate].(string); ok {
		headers = append(headers, kafkago.Header{Key: headerPubDate, Value: []byte(pub)})
	}

	return kafkago.Message{
		Key:     []byte(p.Series),
		Value:   []byte(pt.PrecisionString(influx.Precision)),
		Headers: headers,
	}, nil
}
