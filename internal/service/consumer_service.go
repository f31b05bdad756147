package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"agent-memory-be/internal/entity"
	"agent-memory-be/internal/pkg/logger"
	"agent-memory-be/pkg/events"

	"github.com/ThreeDotsLabs/watermill/message"
)

const (
	TaskSummarize = "summarize"
	TaskCleanup   = "cleanup"

	maintenanceModule = "MAINTENANCE"
)

// MaintenanceWildcard matches every maintenance subject on NATS.
const MaintenanceWildcard = "memory.maintenance.>"

// MaintenanceSubjects is what an external scheduler publishes to, on the in-process
// bus or on NATS.
var MaintenanceSubjects = []string{
	events.Subject(events.MaintenanceSummarize),
	events.Subject(events.MaintenanceCleanup),
}

// IConsumerService runs maintenance requested by an external scheduler. The memory
// core has no timer of its own.
type IConsumerService interface {
	// Consume subscribes to MaintenanceSubjects on the in-process bus.
	Consume(ctx context.Context) error
	// Handle runs one maintenance request; it is also the NATS subscriber handler.
	Handle(ctx context.Context, event events.Event) error
}

type consumerService struct {
	subscriber message.Subscriber
	memory     IMemoryService
	minConf    float64
	logger     logger.ILogger
}

func NewConsumerService(
	subscriber message.Subscriber,
	memory IMemoryService,
	defaultMinConfidence float64,
	logger logger.ILogger,
) IConsumerService {
	return &consumerService{
		subscriber: subscriber,
		memory:     memory,
		minConf:    defaultMinConfidence,
		logger:     logger,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	if cs.subscriber == nil {
		return fmt.Errorf("no in-process subscriber configured")
	}

	for _, topic := range MaintenanceSubjects {
		messages, err := cs.subscriber.Subscribe(ctx, topic)
		if err != nil {
			return err
		}

		go func() {
			for msg := range messages {
				cs.processMessage(ctx, msg)
			}
		}()
	}

	return nil
}

func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	evt, err := events.FromMessage(msg)
	if err != nil {
		log.Printf("[ERROR] Failed to decode maintenance request: %v", err)
		msg.Ack() // malformed, never retry
		return
	}

	if err := cs.Handle(ctx, evt); err != nil {
		log.Printf("[ERROR] Maintenance request failed: %v", err)
		msg.Nack()
		return
	}
	msg.Ack()
}

// maintenanceRequest is the decoded payload:
// {"task": "summarize"|"cleanup", "older_than_seconds": n, "min_confidence": x}.
type maintenanceRequest struct {
	task          string
	olderThan     time.Duration
	minConfidence float64
}

func (cs *consumerService) decode(event events.Event) (maintenanceRequest, error) {
	data := event.Payload()
	req := maintenanceRequest{minConfidence: cs.minConf}

	if task, ok := data["task"].(string); ok && task != "" {
		req.task = strings.ToLower(task)
	} else {
		switch event.EventType() {
		case events.MaintenanceSummarize:
			req.task = TaskSummarize
		case events.MaintenanceCleanup:
			req.task = TaskCleanup
		}
	}
	if req.task != TaskSummarize && req.task != TaskCleanup {
		return req, fmt.Errorf("%w: unknown maintenance task %q", entity.ErrInvalidInput, req.task)
	}

	seconds, ok := data["older_than_seconds"].(float64)
	if !ok || seconds < 0 {
		return req, fmt.Errorf("%w: older_than_seconds is required", entity.ErrInvalidInput)
	}
	req.olderThan = time.Duration(seconds * float64(time.Second))

	if v, ok := data["min_confidence"].(float64); ok {
		req.minConfidence = v
	}
	return req, nil
}

func (cs *consumerService) Handle(ctx context.Context, event events.Event) error {
	req, err := cs.decode(event)
	if err != nil {
		cs.logger.Error(maintenanceModule, "Rejected maintenance request", map[string]interface{}{
			"event_type": event.EventType(), "error": err.Error(),
		})
		// bad requests are not retried
		return nil
	}

	cs.logger.Info(maintenanceModule, "Running maintenance", map[string]interface{}{
		"task": req.task, "older_than": req.olderThan.String(),
	})

	switch req.task {
	case TaskSummarize:
		count, err := cs.memory.SummarizeOldContext(ctx, req.olderThan)
		if err != nil {
			return err
		}
		cs.logger.Info(maintenanceModule, "Summarize finished", map[string]interface{}{"summarized": count})
	case TaskCleanup:
		report, err := cs.memory.CleanupMemory(ctx, req.minConfidence, req.olderThan)
		if err != nil {
			return err
		}
		cs.logger.Info(maintenanceModule, "Cleanup finished", map[string]interface{}{
			"archived_knowledge": report.ArchivedKnowledge,
			"deleted_contexts":   report.DeletedContexts,
		})
	}
	return nil
}
