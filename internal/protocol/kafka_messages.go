package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultHive is the partition key used when a producer names no hive
const DefaultHive = "hive-1"

// Reading sources
const (
	SourceSimulator = "simulator"
	SourceAPI       = "api"
)

// ReadingMessage is the internal message format for Kafka
type ReadingMessage struct {
	Hive       string      `json:"hive"`
	Source     string      `json:"source"`
	ReceivedAt time.Time   `json:"received_at"`
	Data       ReadingData `json:"data"`
}

// Key returns the partition key, keeping one hive's readings on one partition
func (m *ReadingMessage) Key() string {
	if m.Hive == "" {
		return DefaultHive
	}
	return m.Hive
}

// EncodeReadingMessage encodes a ReadingMessage to JSON
func EncodeReadingMessage(msg *ReadingMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeReadingMessage decodes and validates a ReadingMessage
func DecodeReadingMessage(data []byte) (*ReadingMessage, error) {
	var msg ReadingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := msg.Data.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reading message: %w", err)
	}
	return &msg, nil
}
