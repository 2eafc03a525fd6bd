package analytics

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"soundvault/server/bot/domain"
	commonlog "soundvault/server/common/log"
)

const exchangeName = "soundvault.events"

// Publisher fans play events out to the analytics exchange. It carries
// the same contract as play-event logging: best effort, never blocking
// playback.
type Publisher struct {
	channel *amqp.Channel
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return &Publisher{channel: ch}, nil
}

func (p *Publisher) PublishPlay(ctx context.Context, event domain.PlayEvent) {
	if p == nil {
		return
	}
	if event.PlayedAt.IsZero() {
		event.PlayedAt = time.Now()
	}
	body, err := json.Marshal(event)
	if err != nil {
		commonlog.Warnf("marshal play event guild=%s: %v", event.GuildID, err)
		return
	}
	err = p.channel.PublishWithContext(ctx, exchangeName, event.GuildID+".play", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   event.PlayedAt,
	})
	if err != nil {
		commonlog.Warnf("publish play event guild=%s file=%s: %v", event.GuildID, event.FileName, err)
	}
}

func (p *Publisher) Close() {
	if p == nil || p.channel == nil {
		return
	}
	_ = p.channel.Close()
}
