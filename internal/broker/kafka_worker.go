package broker

import (
	"context"
	"log/slog"
	netUrl "net/url"
	"sync"
	"time"

	"github.com/IliaW/page-renderer/config"
	"github.com/IliaW/page-renderer/internal/model"
	"github.com/IliaW/page-renderer/internal/telemetry"
	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"
)

const modeHeader = "render-mode"

// messageReader is the part of *kafka.Reader the consumer needs.
type messageReader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// messageWriter is the part of *kafka.Writer the producer needs.
type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// KafkaProducerClient publishes a notice for every finished render. Notices are keyed by
// host, so the notices of one domain stay ordered on one partition.
type KafkaProducerClient struct {
	noticeChan <-chan *model.RenderNotice
	writer     messageWriter
	metrics    *telemetry.KafkaProducerMetrics
	cfg        *config.ProducerConfig
	wg         *sync.WaitGroup
}

func NewKafkaProducer(noticeChan <-chan *model.RenderNotice, metrics *telemetry.KafkaProducerMetrics,
	cfg *config.ProducerConfig, wg *sync.WaitGroup) *KafkaProducerClient {
	return &KafkaProducerClient{
		noticeChan: noticeChan,
		writer:     newNoticeWriter(cfg, metrics),
		metrics:    metrics,
		cfg:        cfg,
		wg:         wg,
	}
}

func newNoticeWriter(cfg *config.ProducerConfig, metrics *telemetry.KafkaProducerMetrics) *kafka.Writer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Addr...),
		Topic:        cfg.WriteTopicName,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  cfg.MaxAttempts,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAsks),
		Async:        cfg.Async,
		Compression:  kafka.Lz4,
	}
	// In async mode WriteMessages returns before delivery, so the outcome is only known here.
	if cfg.Async {
		w.Completion = func(messages []kafka.Message, err error) {
			if err != nil {
				slog.Error("failed to deliver render notices.", slog.Int("count", len(messages)),
					slog.String("err", err.Error()))
				metrics.FailedSendMsgCnt(int64(len(messages)))
				return
			}
			metrics.SuccessfullySendMsgCnt(int64(len(messages)))
		}
	}

	return w
}

// Run publishes notices in batches of BatchSize, or whatever is pending each BatchTimeout.
// It returns once noticeChan is closed and the last batch is written.
func (p *KafkaProducerClient) Run() {
	slog.Info("starting kafka producer...", slog.String("topic", p.cfg.WriteTopicName),
		slog.Bool("async", p.cfg.Async))
	defer p.wg.Done()
	defer func() {
		if err := p.writer.Close(); err != nil {
			slog.Error("failed to close kafka writer.", slog.String("err", err.Error()))
		}
	}()

	pending := make([]kafka.Message, 0, p.cfg.BatchSize)
	flush := func() {
		if len(pending) > 0 {
			p.publish(pending)
			pending = make([]kafka.Message, 0, p.cfg.BatchSize)
		}
	}
	ticker := time.NewTicker(p.cfg.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			flush()
		case notice, ok := <-p.noticeChan:
			if !ok {
				flush()
				slog.Info("stopping kafka writer.")
				return
			}
			m, err := noticeMessage(notice)
			if err != nil {
				slog.Error("failed to encode render notice.", slog.String("url", notice.URL),
					slog.String("err", err.Error()))
				p.metrics.FailedSendMsgCnt(1)
				continue
			}
			pending = append(pending, m)
			if len(pending) >= p.cfg.BatchSize {
				flush()
				ticker.Reset(p.cfg.BatchTimeout)
			}
		}
	}
}

func (p *KafkaProducerClient) publish(batch []kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.WriteTimeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, batch...); err != nil {
		slog.Error("failed to send render notices.", slog.Int("count", len(batch)),
			slog.String("err", err.Error()))
		p.metrics.FailedSendMsgCnt(int64(len(batch)))
		return
	}
	if !p.cfg.Async {
		p.metrics.SuccessfullySendMsgCnt(int64(len(batch)))
	}
	slog.Debug("render notices sent.", slog.Int("count", len(batch)))
}

// noticeMessage keys the notice by the rendered host and tags it with the render mode, so
// consumers can route html and screenshot notices without decoding the body.
func noticeMessage(notice *model.RenderNotice) (kafka.Message, error) {
	body, err := jsoniter.Marshal(notice)
	if err != nil {
		return kafka.Message{}, err
	}
	key := notice.URL
	if u, err := netUrl.Parse(notice.URL); err == nil && u.Host != "" {
		key = u.Host
	}

	return kafka.Message{
		Key:     []byte(key),
		Value:   body,
		Headers: []kafka.Header{{Key: modeHeader, Value: []byte(notice.Mode)}},
	}, nil
}

// KafkaConsumerClient feeds raw render requests to the workers.
type KafkaConsumerClient struct {
	requestChan chan<- []byte
	reader      messageReader
	metrics     *telemetry.KafkaConsumerMetrics
	cfg         *config.ConsumerConfig
	wg          *sync.WaitGroup
}

func NewKafkaConsumer(requestChan chan<- []byte, metrics *telemetry.KafkaConsumerMetrics,
	cfg *config.ConsumerConfig, wg *sync.WaitGroup) *KafkaConsumerClient {
	return &KafkaConsumerClient{
		requestChan: requestChan,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:          cfg.Brokers,
			Topic:            cfg.ReadTopicName,
			GroupID:          cfg.GroupID,
			MaxWait:          cfg.MaxWait,
			ReadBatchTimeout: cfg.ReadBatchTimeout,
			QueueCapacity:    cfg.QueueCapacity,
			MaxBytes:         cfg.MaxBytes,
			CommitInterval:   cfg.CommitInterval,
		}),
		metrics: metrics,
		cfg:     cfg,
		wg:      wg,
	}
}

// Run reads render requests until ctx is cancelled, then closes requestChan.
// A request is committed only after a worker queue has taken it. One still in hand at
// shutdown stays uncommitted and is redelivered to the group.
func (c *KafkaConsumerClient) Run(ctx context.Context) {
	slog.Info("starting kafka consumer.", slog.String("topic", c.cfg.ReadTopicName))
	defer c.wg.Done()
	defer func() {
		if err := c.reader.Close(); err != nil {
			slog.Error("failed to close kafka reader.", slog.String("err", err.Error()))
		}
		close(c.requestChan)
		slog.Info("close requestChan.")
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("stopping kafka reader.")
				return
			}
			slog.Error("failed to fetch message from kafka.", slog.String("err", err.Error()))
			c.metrics.FailedReadMsgCnt(1)
			continue
		}

		select {
		case c.requestChan <- m.Value:
			c.metrics.SuccessfullyReadMsgCnt(1)
		case <-ctx.Done():
			slog.Warn("render request left uncommitted on shutdown.", slog.Int("partition", m.Partition),
				slog.Int64("offset", m.Offset))
			return
		}

		if err = c.reader.CommitMessages(context.Background(), m); err != nil {
			slog.Error("failed to commit message.", slog.Int64("offset", m.Offset),
				slog.String("err", err.Error()))
		}
	}
}
