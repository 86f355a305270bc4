package kafka

import (
	"context"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"time"
)

// Handler harus return nil hanya jika proses sukses & boleh commit offset.
type Handler func(ctx context.Context, m kafka.Message) error

// reader = subset kafka.Reader yang dipakai Consumer.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       reader
	log     *zap.Logger
	workers int
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, log: log, workers: workers}
}

func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make(chan kafka.Message, 1024)
	errs := make(chan error, c.workers)

	// workers
	for i := 0; i < c.workers; i++ {
		go func(id int) {
			for m := range jobs {
				if err := h(ctx, m); err != nil {
					// offset TIDAK di-commit: pesan balik lagi (at-least-once)
					errs <- err
					continue
				}
				// commit on success
				if err := c.r.CommitMessages(ctx, m); err != nil {
					errs <- err
				}
			}
		}(i)
	}

	// dispatcher loop. FetchMessage, bukan ReadMessage: ReadMessage auto-commit
	// saat fetch kalau pakai consumer group, jadi handler gagal = pesan hilang.
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			close(jobs)
			// kecilkan noise saat shutdown
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		select {
		case jobs <- m:
		case <-ctx.Done():
			close(jobs)
			return nil
		}

		// non-blocking drain error agar tidak deadlock
		select {
		case e := <-errs:
			c.log.Warn("consumer worker", zap.Error(e))
			time.Sleep(200 * time.Millisecond) // backoff ringan
		default:
		}
	}
}
