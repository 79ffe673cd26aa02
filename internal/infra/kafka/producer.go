package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var ErrProducerClosed = errors.New("kafka: producer closed")

// Producer は内部バッファ経由で非同期に書き込む。
// 停止後の Publish は ErrProducerClosed を返し、受け付け済みのものは必ず書いてから閉じる。
type Producer struct {
	w        *kafka.Writer
	inbox    chan kafka.Message
	stopping chan struct{}
	stopOnce sync.Once
	closeCh  chan struct{}
	log      *zap.Logger

	mu     sync.RWMutex
	closed bool
}

func NewProducer(brokers []string, topic string, buf int, log *zap.Logger) *Producer {
	return newProducer(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}, buf, log)
}

func newProducer(w *kafka.Writer, buf int, log *zap.Logger) *Producer {
	return &Producer{
		w:        w,
		inbox:    make(chan kafka.Message, buf),
		stopping: make(chan struct{}),
		closeCh:  make(chan struct{}),
		log:      log.Named("kafka.producer"),
	}
}

// Start は inbox を読み続ける。ctx 終了か Close で受付を止め、残りを流してから抜ける。
// HTTP の終了待ちより先に止まらないよう、呼び出し側は Background を渡して Close で止める。
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				p.shutdown()
				return
			case <-p.stopping:
				p.shutdown()
				return
			case m := <-p.inbox:
				p.write(m)
			}
		}
	}()
}

// 受付を止める。戻った時点で送信中の Publish は無い
func (p *Producer) stop() {
	p.stopOnce.Do(func() { close(p.stopping) })
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *Producer) shutdown() {
	p.stop()
	for {
		select {
		case m := <-p.inbox:
			p.write(m)
		default:
			p.closeWriter()
			return
		}
	}
}

func (p *Producer) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.log.Error("write message failed", zap.Error(err), zap.ByteString("key", m.Key))
	}
}

func (p *Producer) closeWriter() {
	if err := p.w.Close(); err != nil {
		p.log.Warn("close writer failed", zap.Error(err))
	}
}

// バッファが一杯なら ctx が切れるか停止するまで待つ
func (p *Producer) Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}

	select {
	case p.inbox <- kafka.Message{Key: key, Value: value, Time: time.Now(), Headers: headers}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopping:
		return ErrProducerClosed
	}
}

// 受付を止めて書き残しを流させる。WaitClosed で完了を待つ
func (p *Producer) Close() { p.stop() }

func (p *Producer) WaitClosed() { <-p.closeCh }
