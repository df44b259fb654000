package queue

import (
	"context"
)

// Publisher publishes generation jobs to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg GenerationMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg GenerationMessage) error

// Consumer consumes generation jobs from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// GenerationQueue carries offloaded batch generation jobs.
	GenerationQueue = "codegen.generate"

	generationRoutingKey = "codegen.generate"
)

// DLQName returns the dead-letter queue name of a work queue, e.g. dlq.codegen.generate.
func DLQName(queue string) string {
	return "dlq." + queue
}

// WorkQueueNames returns all work queues.
func WorkQueueNames() []string {
	return []string{GenerationQueue}
}

// DLQNames returns all dead-letter queues.
func DLQNames() []string {
	return []string{DLQName(GenerationQueue)}
}
