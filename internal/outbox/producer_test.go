package outbox

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestProducerAppliesConfiguredTunables(t *testing.T) {
	p := NewKafkaProducer(ProducerConfig{
		Brokers:      []string{"broker-1:9092", "broker-2:9092"},
		BatchTimeout: 250 * time.Millisecond,
		WriteTimeout: 3 * time.Second,
	})
	defer p.Close()

	w := p.writerFor("competition_events")
	if w.Topic != "competition_events" {
		t.Fatalf("expected topic competition_events, got %q", w.Topic)
	}
	if w.BatchTimeout != 250*time.Millisecond {
		t.Fatalf("expected batch timeout 250ms, got %v", w.BatchTimeout)
	}
	if w.WriteTimeout != 3*time.Second {
		t.Fatalf("expected write timeout 3s, got %v", w.WriteTimeout)
	}
	if w.RequiredAcks != kafka.RequireAll {
		t.Fatalf("expected RequireAll acks, got %v", w.RequiredAcks)
	}
	if w.Async {
		t.Fatal("producer writers must be synchronous")
	}
}

func TestProducerDefaultsUnsetTunables(t *testing.T) {
	p := NewKafkaProducer(ProducerConfig{Brokers: []string{"broker-1:9092"}})
	defer p.Close()

	w := p.writerFor("competition_events")
	if w.BatchTimeout != time.Second {
		t.Fatalf("expected default batch timeout 1s, got %v", w.BatchTimeout)
	}
	if w.WriteTimeout != 10*time.Second {
		t.Fatalf("expected default write timeout 10s, got %v", w.WriteTimeout)
	}
}

func TestProducerReusesWriterPerTopic(t *testing.T) {
	p := NewKafkaProducer(ProducerConfig{Brokers: []string{"broker-1:9092"}})
	defer p.Close()

	first := p.writerFor("competition_events")
	second := p.writerFor("competition_events")
	if first != second {
		t.Fatal("expected the same writer for repeated topic lookups")
	}

	other := p.writerFor("other_topic")
	if other == first {
		t.Fatal("expected a distinct writer per topic")
	}
}

func TestProducerCloseReleasesWriters(t *testing.T) {
	p := NewKafkaProducer(ProducerConfig{Brokers: []string{"broker-1:9092"}})
	p.writerFor("competition_events")
	p.writerFor("other_topic")

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	p.mu.Lock()
	remaining := len(p.writers)
	p.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected no writers after close, got %d", remaining)
	}
}
