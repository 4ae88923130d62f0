package collab

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/IBM/sarama"
)

// EventDispatcher：本地有界队列 + worker 异步发送 + 有限重试。
// 目标：
// - 不阻塞提交主链路（Submit 只负责入队）
// - Kafka 短暂不可用时靠队列吸收，后台慢慢补发
// - 队列满时允许降级（丢弃），事件流不要求强一致
type EventDispatcher struct {
	producer sarama.SyncProducer
	topic    string

	queue chan TripOpEvent

	// sem 限制并发的 SendMessage 数量
	sem *SemaphoreControl

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

type DispatcherOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func NewEventDispatcher(producer sarama.SyncProducer, topic string, sem *SemaphoreControl, opt DispatcherOptions) *EventDispatcher {
	d := &EventDispatcher{
		producer:    producer,
		topic:       topic,
		queue:       make(chan TripOpEvent, opt.QueueSize),
		sem:         sem,
		workers:     opt.Workers,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
	}

	d.Start()
	return d
}

// TryEnqueue：非阻塞入队。队列满直接返回 ErrEventQueueFull 由调用方记日志丢弃——
// 提交主链路在会话锁内调用这里，一毫秒都不能等。
func (d *EventDispatcher) TryEnqueue(evt TripOpEvent) error {
	select {
	case d.queue <- evt:
		return nil
	default:
		return ErrEventQueueFull
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

func (d *EventDispatcher) sendWithRetry(workerID int, evt TripOpEvent) {
	for attempt := 0; attempt <= d.maxRetry; attempt++ {
		if d.sem != nil {
			// worker 允许一直等（不在主链路上）
			_ = d.sem.Acquire(context.Background())
		}

		err := d.sendOnce(evt)

		if d.sem != nil {
			_ = d.sem.Release()
		}

		if err == nil {
			return
		}

		if attempt == d.maxRetry {
			log.Printf("kafka send failed, drop event trip=%s op=%s rev=%d worker=%d err=%v",
				evt.TripID, evt.OpID, evt.AppliedRevision, workerID, err)
			return
		}

		// 退避，每次 X2，封顶 maxBackoff
		backoff := d.baseBackoff * time.Duration(1<<attempt)
		if backoff > d.maxBackoff {
			backoff = d.maxBackoff
		}
		time.Sleep(backoff)
	}
}

func (d *EventDispatcher) sendOnce(evt TripOpEvent) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		// 以 tripId 做 key，同一行程的事件落同一分区，消费侧保序
		Key:   sarama.StringEncoder(evt.TripID),
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = d.producer.SendMessage(msg)
	return err
}
