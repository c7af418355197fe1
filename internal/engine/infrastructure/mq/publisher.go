// Package mq 事件总线适配：订单与成交事件按 symbol 分区发布到 Kafka。
package mq

import (
	"context"

	"github.com/wyfcoding/tradingengine/internal/engine/domain"
	"github.com/wyfcoding/tradingengine/pkg/mq"
)

type kafkaPublisher struct {
	producer *mq.KafkaProducer
}

// NewKafkaPublisher 创建事件发布器。分区键为 symbol，保证单交易对事件有序。
func NewKafkaPublisher(producer *mq.KafkaProducer) domain.EventPublisher {
	return &kafkaPublisher{producer: producer}
}

func (p *kafkaPublisher) PublishOrderUpdate(ctx context.Context, event *domain.OrderUpdateEvent) error {
	return p.producer.SendMessage(ctx, domain.TopicOrderUpdates, event.Symbol, event)
}

func (p *kafkaPublisher) PublishTrade(ctx context.Context, event *domain.TradeEvent) error {
	return p.producer.SendMessage(ctx, domain.TopicTrades, event.Symbol, event)
}
