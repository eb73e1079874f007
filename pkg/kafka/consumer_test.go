package kafka

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"QuantPull/pkg/logger"
)

func init() {
	// keep consumer metrics off the default registry in tests
	SetConsumerMetricsRegisterer(prometheus.NewRegistry())
}

type stubHandler struct{ topic string }

func (h stubHandler) Topic() string                        { return h.topic }
func (h stubHandler) Handle(context.Context, []byte) error { return nil }

func TestConsumerLogsThroughConfiguredLogger(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "consumer.log")
	lg, err := logger.New(&logger.Config{Level: "info", Output: logPath})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	c, err := NewConsumer(
		WithConsumerBrokers([]string{"127.0.0.1:9092"}),
		WithConsumerLogger(lg),
	)
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}

	c.RegisterHandler(stubHandler{topic: "audit"})
	// the duplicate registration is refused and warned about
	c.RegisterHandler(stubHandler{topic: "audit"})

	out, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(out), "handler already registered") {
		t.Fatalf("duplicate-handler warning missing from log output: %s", out)
	}
	if !strings.Contains(string(out), `"topic":"audit"`) {
		t.Fatalf("warning lacks topic field: %s", out)
	}
}

func TestConsumerDefaultsToNopLogger(t *testing.T) {
	c, err := NewConsumer(WithConsumerBrokers([]string{"127.0.0.1:9092"}))
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	// Logging without a configured logger must not panic.
	c.RegisterHandler(stubHandler{topic: "audit"})
	c.RegisterHandler(stubHandler{topic: "audit"})
}
