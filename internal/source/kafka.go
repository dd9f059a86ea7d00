package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/banshee-data/fleettrack/internal/monitoring"
	"github.com/banshee-data/fleettrack/internal/position"
)

var kafkaLogf = monitoring.Component("source/kafka")

const readRetryDelay = time.Second

// messageReader is the part of *kafka.Reader the source uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Kafka is a push source consuming position batches from a topic. A message
// value is either a JSON array of reports or a Traccar socket message.
type Kafka struct {
	Hub

	Brokers []string
	Topic   string
	GroupID string

	newReader func() messageReader

	mu     sync.Mutex
	reader messageReader
	cancel context.CancelFunc
	done   chan struct{}
}

// NewKafka returns a Kafka source for topic.
func NewKafka(brokers []string, topic, groupID string) *Kafka {
	k := &Kafka{Brokers: brokers, Topic: topic, GroupID: groupID}
	k.newReader = func() messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  k.Brokers,
			Topic:    k.Topic,
			GroupID:  k.GroupID,
			MinBytes: 1,
			MaxBytes: 10 << 20,
		})
	}
	return k
}

// Connect starts consuming. kafka-go connects lazily, so the source reports
// connected once the first message has been read.
func (k *Kafka) Connect(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cancel != nil {
		return nil
	}
	if len(k.Brokers) == 0 || k.Topic == "" {
		return errors.New("kafka: brokers and topic are required")
	}
	runCtx, cancel := context.WithCancel(ctx)
	k.reader = k.newReader()
	k.cancel = cancel
	k.done = make(chan struct{})
	go k.run(runCtx, k.reader, k.done)
	return nil
}

func (k *Kafka) run(ctx context.Context, r messageReader, done chan struct{}) {
	defer close(done)
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			k.SetConnected(false)
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			kafkaLogf("read error: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(readRetryDelay):
			}
			continue
		}
		k.SetConnected(true)
		batch, err := DecodeBatch(m.Value)
		if err != nil {
			kafkaLogf("skipping offset %d: %v", m.Offset, err)
			continue
		}
		k.Publish(batch)
	}
}

// Disconnect stops consuming and closes the reader.
func (k *Kafka) Disconnect() error {
	k.mu.Lock()
	cancel, done, r := k.cancel, k.done, k.reader
	k.cancel, k.reader = nil, nil
	k.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	k.SetConnected(false)
	return r.Close()
}

// DecodeBatch accepts a JSON array of reports or a Traccar socket message.
func DecodeBatch(data []byte) ([]position.Report, error) {
	if t := bytes.TrimSpace(data); len(t) > 0 && t[0] == '[' {
		var batch []position.Report
		if err := json.Unmarshal(t, &batch); err != nil {
			return nil, fmt.Errorf("decode report batch: %w", err)
		}
		return batch, nil
	}
	return DecodeTraccarMessage(data)
}
