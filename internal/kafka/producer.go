package kafka

import (
	"context"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"time"
)

type Producer struct {
	w       *kafka.Writer
	topic   string // default utk Publish; PublishSync bawa topicnya sendiri
	log     *zap.Logger
	inbox   chan kafka.Message
	closeCh chan struct{}
}

func NewProducer(brokers []string, topic string, buf int, log *zap.Logger) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		topic:   topic,
		log:     log,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				close(p.inbox)
				for m := range p.inbox {
					p.write(m)
				}
				_ = p.w.Close()
				close(p.closeCh)
				return
			case m, ok := <-p.inbox:
				if !ok {
					_ = p.w.Close()
					close(p.closeCh)
					return
				}
				p.write(m)
			}
		}
	}()
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		p.log.Error("kafka write", zap.String("topic", m.Topic), zap.Error(err))
	}
}

// PublishSync nunggu broker ack; dipakai outbox publisher supaya baris outbox
// tidak ditandai published sebelum benar-benar masuk bus. Topic ikut per
// pesan: satu publisher bisa ngurasin outbox multi-topic.
func (p *Producer) PublishSync(ctx context.Context, topic string, key, value []byte, headers ...kafka.Header) error {
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	})
}

func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) {
	p.inbox <- kafka.Message{
		Topic:   p.topic,
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
}

// Tutup channel supaya goroutine nge-flush sisa pesan lalu exit rapi.
func (p *Producer) Close() { close(p.inbox) }

// Tunggu sampai goroutine selesai.
func (p *Producer) WaitClosed() { <-p.closeCh }
