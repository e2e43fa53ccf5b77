package activitylog

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/flarelabs/flare/internal/logutil"
)

// KafkaLog publishes activities to a topic. The writer runs async, so Add
// never blocks on the broker.
type KafkaLog struct {
	writer *kafka.Writer
	log    zerolog.Logger
}

func NewKafkaLog(brokers []string, topic string) *KafkaLog {
	return &KafkaLog{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Async:        true,
			Balancer:     kafka.CRC32Balancer{},
			BatchSize:    10,
			Topic:        topic,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		log: logutil.Component("activity-log"),
	}
}

func (l *KafkaLog) Add(ctx context.Context, a Activity) {
	value, err := json.Marshal(a)
	if err != nil {
		l.log.Warn().Err(err).Msg("encoding activity")
		return
	}
	err = l.writer.WriteMessages(ctx, kafka.Message{Value: value})
	if err != nil {
		l.log.Warn().Err(err).Msg("publishing activity")
	}
}

func (l *KafkaLog) Close() error {
	return l.writer.Close()
}
