package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/akazantsev/walletd/internal/core/events"
)

const balanceChangedTopic = "wallet.balance_changed"

type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    balanceChangedTopic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (p *Publisher) PublishBalanceChanged(event events.BalanceChanged) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal balance changed event: %w", err)
	}

	return p.writer.WriteMessages(
		context.Background(),
		kafka.Message{
			Key:   []byte(event.WalletID.String()),
			Value: data,
		},
	)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ events.Publisher = (*Publisher)(nil)
