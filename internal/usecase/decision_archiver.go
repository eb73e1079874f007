package usecase

import (
	"context"
	"encoding/json"
	"time"

	"QuantPull/internal/domain/models"
	domrepo "QuantPull/internal/domain/repository"
	pkgkafka "QuantPull/pkg/kafka"
)

// DecisionStore persists risk decisions for audit.
type DecisionStore interface {
	StoreDecision(ctx context.Context, d models.RiskDecision) error
}

// DecisionArchiver consumes the decisions topic and lands every decision in
// the audit table. It runs as a Kafka message handler so audit writes never
// sit on the strategy loop's critical path.
type DecisionArchiver struct {
	topic   string
	store   DecisionStore
	metrics domrepo.Metrics
}

func NewDecisionArchiver(topic string, store DecisionStore, metrics domrepo.Metrics) *DecisionArchiver {
	return &DecisionArchiver{topic: topic, store: store, metrics: metrics}
}

func (a *DecisionArchiver) Topic() string { return a.topic }

// Handle parses one decision message and stores it. Unmarshal failures are
// permanent and reported back so the consumer can dead-letter them.
func (a *DecisionArchiver) Handle(ctx context.Context, b []byte) error {
	var d models.RiskDecision
	if err := json.Unmarshal(b, &d); err != nil {
		a.metrics.RecordError("archiver_unmarshal")
		return err
	}

	if !d.Signal.Timestamp.IsZero() {
		a.metrics.RecordLatency("decision_e2e", time.Since(d.Signal.Timestamp).Seconds())
	}

	start := time.Now()
	if err := a.store.StoreDecision(ctx, d); err != nil {
		a.metrics.RecordError("archiver_store")
		return err
	}
	a.metrics.RecordLatency("decision_store", time.Since(start).Seconds())
	return nil
}

var _ pkgkafka.MessageHandler = (*DecisionArchiver)(nil)
