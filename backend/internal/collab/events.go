package collab

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/IBM/sarama"

	"github.com/cd-con/brainstorm/backend/internal/canvas"
)

// CanvasOpEvent 已应用变更的外发事件（kafka，按 roomID 分区）
// 审计/分析消费用，不在文档主路径上
type CanvasOpEvent struct {
	EventType   string            `json:"eventType"` // 固定 "MUTATION_APPLIED"
	RoomID      string            `json:"roomId"`
	ComponentID string            `json:"componentId"`
	ObjectType  string            `json:"objectType,omitempty"`
	Kind        string            `json:"kind"`
	AuthorID    uint64            `json:"authorId"`
	SessionID   string            `json:"sessionId"`
	Payload     canvas.Properties `json:"payload,omitempty"`
	AppliedAt   time.Time         `json:"appliedAt"`
}

// EventDispatcher：本地有界队列 + worker 异步发送 + 有限重试。
// 目标：
// - 不阻塞房间串行化点（Publish 只负责入队）
// - Kafka 短暂阻塞时靠队列吸收，后台慢慢补发
// - 队列满时允许降级（丢弃），避免内存无限增长
type EventDispatcher struct {
	producer sarama.SyncProducer
	topic    string

	queue chan CanvasOpEvent

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

type EventDispatcherOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func NewEventDispatcher(producer sarama.SyncProducer, topic string, opt EventDispatcherOptions) *EventDispatcher {
	d := &EventDispatcher{
		producer:    producer,
		topic:       topic,
		queue:       make(chan CanvasOpEvent, opt.QueueSize),
		workers:     opt.Workers,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
	}
	d.Start()
	return d
}

// Publish：把事件放入本地队列。
// - 队列满时直接丢弃并打日志（事件流不要求强一致，不能反压主链路）
func (d *EventDispatcher) Publish(evt CanvasOpEvent) {
	select {
	case d.queue <- evt:
	default:
		log.Printf("event queue full, drop event room=%s component=%s kind=%s",
			evt.RoomID, evt.ComponentID, evt.Kind)
	}
}

// Enqueue：阻塞版入队，等待直到 ctx 超时
func (d *EventDispatcher) Enqueue(ctx context.Context, evt CanvasOpEvent) error {
	select {
	case d.queue <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *EventDispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		go d.workerLoop(i)
	}
}

func (d *EventDispatcher) workerLoop(workerID int) {
	for evt := range d.queue {
		d.sendWithRetry(workerID, evt)
	}
}

func (d *EventDispatcher) sendWithRetry(workerID int, evt CanvasOpEvent) {
	for attempt := 0; attempt <= d.maxRetry; attempt++ {
		err := d.sendOnce(evt)
		if err == nil {
			return
		}

		if attempt == d.maxRetry {
			log.Printf("kafka send failed, drop event room=%s component=%s kind=%s worker=%d err=%v",
				evt.RoomID, evt.ComponentID, evt.Kind, workerID, err)
			return
		}

		// 退避，每次退避时间X2
		backoff := d.baseBackoff * time.Duration(1<<attempt)
		if backoff > d.maxBackoff {
			backoff = d.maxBackoff
		}
		time.Sleep(backoff)
	}
}

func (d *EventDispatcher) sendOnce(evt CanvasOpEvent) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(evt.RoomID), // 以 roomId 做 key，便于按房间分区
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = d.producer.SendMessage(msg)
	return err
}
