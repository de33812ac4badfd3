package events

import "testing"

func TestDisabledWithoutBrokers(t *testing.T) {
	for _, brokers := range []string{"", "   "} {
		if p := NewPublisher(Config{Brokers: brokers}); p != nil {
			t.Fatalf("publisher enabled with brokers %q", brokers)
		}
	}

	// A nil publisher absorbs calls without panicking.
	var p *Publisher
	p.TaskRan(nil, nil)
	if err := p.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}

func TestEnabledConfig(t *testing.T) {
	p := NewPublisher(Config{Brokers: "localhost:9092,localhost:9093"})
	if p == nil {
		t.Fatal("publisher disabled with brokers set")
	}
	defer p.Close()

	if p.writer.Topic != DefaultConfig().Topic {
		t.Fatalf("topic = %q", p.writer.Topic)
	}
}
