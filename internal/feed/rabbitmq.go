package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/smysle/sakura-redenvelope-go/pkg/logger"
)

// EventRedEnvelopeCreated 公告事件类型
const EventRedEnvelopeCreated = "red_envelope.created"

// Event 投递到交换机的消息体
type Event struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`
	OccurredAt time.Time    `json:"occurred_at"`
	Data       Announcement `json:"data"`
}

// RabbitMQAnnouncer 把公告发布到 topic 交换机
type RabbitMQAnnouncer struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	mu         sync.Mutex
}

// sanitizeAMQPURL 去掉首尾空白和引号，只接受 amqp/amqps
func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP 地址必须以 amqp:// 或 amqps:// 开头")
	}
	return clean, nil
}

// NewRabbitMQAnnouncer 连接 RabbitMQ 并声明交换机
func NewRabbitMQAnnouncer(amqpURL, exchange, routingKey string) (*RabbitMQAnnouncer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("打开 channel 失败: %w", err)
	}

	if err := declareExchange(ch, exchange); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明交换机失败: %w", err)
	}

	return &RabbitMQAnnouncer{
		conn:       conn,
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
	}, nil
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	)
}

// encodeEvent 生成事件 ID 和消息体
func encodeEvent(a Announcement, now time.Time) (string, []byte, error) {
	event := Event{
		ID:         uuid.New().String(),
		Type:       EventRedEnvelopeCreated,
		OccurredAt: now,
		Data:       a,
	}
	body, err := json.Marshal(event)
	if err != nil {
		return "", nil, err
	}
	return event.ID, body, nil
}

// Announce 实现 Announcer，引用为 amqp:<事件ID>
func (p *RabbitMQAnnouncer) Announce(ctx context.Context, a Announcement) (string, error) {
	id, body, err := encodeEvent(a, time.Now())
	if err != nil {
		return "", err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    time.Now(),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, msg)
	if err != nil {
		// channel 出错后会被服务端关闭，重开一次再试
		logger.Warn().Err(err).Str("exchange", p.exchange).Msg("发布公告失败，重新打开 channel")
		ch, chErr := p.conn.Channel()
		if chErr != nil {
			return "", fmt.Errorf("发布公告失败: %w", err)
		}
		p.channel = ch
		if err := declareExchange(ch, p.exchange); err != nil {
			return "", fmt.Errorf("声明交换机失败: %w", err)
		}
		if err := p.channel.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, msg); err != nil {
			return "", fmt.Errorf("发布公告失败: %w", err)
		}
	}

	return "amqp:" + id, nil
}

// Close 关闭 channel 和连接
func (p *RabbitMQAnnouncer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
