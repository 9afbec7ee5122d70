// Package kafka 提供了与 Kafka 消息队列交互的功能，用于异步执行文档入库。
package kafka

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"rfp-smart-go/internal/config"
	"rfp-smart-go/pkg/log"
	"rfp-smart-go/pkg/tasks"
)

// TaskProcessor 执行一次入库任务。Process 返回错误表示可重试的失败，
// 重试次数用尽后消费者调用 Abandon 让处理方把文档置为终态。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.DocumentIngestTask) error
	Abandon(ctx context.Context, task tasks.DocumentIngestTask, cause error)
}

// AttemptCounter 记录任务的失败次数。
type AttemptCounter interface {
	Incr(ctx context.Context, taskKey string) (int64, error)
	Reset(ctx context.Context, taskKey string) error
}

// Producer 发送入库任务。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	log.Info("[Kafka] 生产者初始化成功")
	return &Producer{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers(cfg.Brokers)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}}
}

// Publish 发送一个文档入库任务，以文档 ID 作为消息 key 保证同一文档的任务有序。
func (p *Producer) Publish(ctx context.Context, task tasks.DocumentIngestTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.Key()),
		Value: taskBytes,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// messageReader 是 kafka.Reader 中消费者用到的部分。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer 消费入库任务。失败的任务在本地按退避间隔重试，
// 失败次数记在 Redis 中以便重启后延续；达到 maxAttempts 后调用 Abandon 并提交 offset。
type Consumer struct {
	reader      messageReader
	processor   TaskProcessor
	attempts    AttemptCounter
	maxAttempts int64
	backoff     time.Duration
	maxBackoff  time.Duration
	topic       string
}

// NewConsumer 创建消费者。
func NewConsumer(cfg config.KafkaConfig, processor TaskProcessor, attempts AttemptCounter) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(r, cfg, processor, attempts)
}

func newConsumer(r messageReader, cfg config.KafkaConfig, processor TaskProcessor, attempts AttemptCounter) *Consumer {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoff := time.Duration(cfg.RetryBackoffMs) * time.Millisecond
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Consumer{
		reader:      r,
		processor:   processor,
		attempts:    attempts,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		maxBackoff:  30 * backoff,
		topic:       cfg.Topic,
	}
}

// Run 阻塞消费直到 ctx 被取消。读取失败只记录日志并退避后重试。
func (c *Consumer) Run(ctx context.Context) {
	log.Infof("[Kafka] 消费者已启动，正在监听主题 '%s'", c.topic)
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("[Kafka] 关闭消费者失败: %v", err)
		}
	}()

	wait := c.backoff
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Errorf("[Kafka] 从 Kafka 读取消息失败，%s 后重试: %v", wait, err)
			if !sleep(ctx, wait) {
				return
			}
			wait = min(wait*2, c.maxBackoff)
			continue
		}
		wait = c.backoff
		log.Infof("[Kafka] 收到消息: partition %d offset %d", m.Partition, m.Offset)

		if c.handleMessage(ctx, m) {
			if err := c.reader.CommitMessages(ctx, m); err != nil {
				log.Errorf("[Kafka] 提交 offset 失败: %v", err)
			}
		}
	}
}

// handleMessage 处理一条消息，返回是否应提交 offset。
// 只有 ctx 被取消时才返回 false，此时消息留给下一次启动重新消费。
func (c *Consumer) handleMessage(ctx context.Context, m kafka.Message) bool {
	var task tasks.DocumentIngestTask
	if err := json.Unmarshal(m.Value, &task); err != nil || task.DocumentID == "" {
		// 消息格式错误，直接提交，避免阻塞队列
		log.Errorf("[Kafka] 无法解析消息: %v, value: %s", err, string(m.Value))
		return true
	}

	var local int64
	wait := c.backoff
	for {
		log.Infof("[Kafka] 开始处理入库任务: document=%s, file=%s", task.DocumentID, task.FileName)
		procErr := c.processor.Process(ctx, task)
		if procErr == nil {
			log.Infof("[Kafka] 入库任务处理成功: document=%s", task.DocumentID)
			if err := c.attempts.Reset(ctx, task.Key()); err != nil {
				log.Warnf("[Kafka] 清理失败计数出错: %v", err)
			}
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		log.Errorf("[Kafka] 入库任务处理失败: document=%s, err=%v", task.DocumentID, procErr)
		local++
		attempts, err := c.attempts.Incr(ctx, task.Key())
		if err != nil {
			// Redis 不可用时退回到本进程内的计数
			log.Errorf("[Kafka] 记录失败次数出错: %v", err)
			attempts = local
		}
		if attempts >= c.maxAttempts {
			log.Errorf("[Kafka] 入库任务失败 %d 次，放弃重试: document=%s", attempts, task.DocumentID)
			c.processor.Abandon(ctx, task, procErr)
			_ = c.attempts.Reset(ctx, task.Key())
			return true
		}

		if !sleep(ctx, wait) {
			return false
		}
		wait = min(wait*2, c.maxBackoff)
	}
}

// sleep 等待 d，ctx 提前取消时返回 false。
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func brokers(list string) []string {
	var out []string
	for _, b := range strings.Split(list, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
