// Package memory keeps stage-completion events in process. It stands in for
// Pub/Sub when publishing is disabled and in tests.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/wrc-harvester/internal/crawler"
)

// Message is one recorded publish. Data is the JSON body Pub/Sub would carry.
type Message struct {
	ID         string
	Topic      string
	Payload    any
	Data       []byte
	Attributes map[string]string
}

// Publisher records events per topic.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish encodes payload the way the Pub/Sub publisher does and records it.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", errors.New("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := Message{Topic: topic, Payload: payload, Data: data}
	if run, ok := payload.(crawler.Run); ok {
		msg.Attributes = run.Attributes()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	msg.ID = fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, msg)
	return msg.ID, nil
}

// Messages returns every recorded message in publish order.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Message(nil), p.messages...)
}

// Runs decodes the stage runs published to topic.
func (p *Publisher) Runs(topic string) []crawler.Run {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var runs []crawler.Run
	for _, msg := range p.messages {
		if msg.Topic != topic {
			continue
		}
		var run crawler.Run
		if err := json.Unmarshal(msg.Data, &run); err != nil {
			continue
		}
		runs = append(runs, run)
	}
	return runs
}
