package queue

import (
	"fmt"
	"strings"
)

// GenerationMessage asks a worker to run the generation pipeline of a batch.
type GenerationMessage struct {
	BatchID       string `json:"batchId"`
	CorrelationID string `json:"correlationId,omitempty"`
	ChunkSize     int    `json:"chunkSize,omitempty"`
}

func (m GenerationMessage) Validate() error {
	if strings.TrimSpace(m.BatchID) == "" {
		return fmt.Errorf("batchId is required")
	}
	if m.ChunkSize < 0 {
		return fmt.Errorf("chunkSize must not be negative")
	}
	return nil
}
