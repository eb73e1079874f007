package repository

import (
	"context"

	"QuantPull/internal/domain/models"
	domrepo "QuantPull/internal/domain/repository"
	pkgkafka "QuantPull/pkg/kafka"
)

// KafkaDecisionPublisher delivers signals and risk decisions to the
// execution side over Kafka. Messages are keyed by symbol so per-symbol
// ordering survives partitioning.
type KafkaDecisionPublisher struct {
	producer       *pkgkafka.Producer
	signalsTopic   string
	decisionsTopic string
}

func NewKafkaDecisionPublisher(producer *pkgkafka.Producer, signalsTopic, decisionsTopic string) domrepo.DecisionPublisher {
	return &KafkaDecisionPublisher{
		producer:       producer,
		signalsTopic:   signalsTopic,
		decisionsTopic: decisionsTopic,
	}
}

func (p *KafkaDecisionPublisher) PublishSignal(ctx context.Context, s models.Signal) error {
	return p.producer.Publish(ctx, p.signalsTopic, []byte(s.Symbol), s)
}

func (p *KafkaDecisionPublisher) PublishDecision(ctx context.Context, d models.RiskDecision) error {
	return p.producer.Publish(ctx, p.decisionsTopic, []byte(d.Signal.Symbol), d)
}

func (p *KafkaDecisionPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
