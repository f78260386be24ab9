// Package events publishes job lifecycle events to EventBridge so downstream
// consumers (notifiers, indexers) can react to recaps without polling the
// job table.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"
)

// Source identifies this pipeline on the bus.
const Source = "media-recap"

// Detail types for the job lifecycle.
const (
	DetailJobDispatched = "recap.job.dispatched"
	DetailJobCompleted  = "recap.job.completed"
	DetailJobFailed     = "recap.job.failed"
)

// JobEvent is the detail payload carried by every lifecycle event.
type JobEvent struct {
	JobID      string    `json:"jobId"`
	ObjectKey  string    `json:"objectKey"`
	ResultKey  string    `json:"resultKey,omitempty"`
	Phase      string    `json:"phase,omitempty"`
	Error      string    `json:"error,omitempty"`
	Degraded   bool      `json:"degraded,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Emitter publishes lifecycle events to one event bus. A nil Emitter or a
// nil client silently skips publishing, which is how local runs and
// deployments without a bus opt out.
type Emitter struct {
	client  *eventbridge.Client
	busName string
}

// New builds an emitter. An empty busName targets the account default bus.
func New(client *eventbridge.Client, busName string) *Emitter {
	return &Emitter{client: client, busName: busName}
}

func (e *Emitter) enabled() bool {
	return e != nil && e.client != nil
}

// JobDispatched announces that a claim was won and a pipeline run started.
func (e *Emitter) JobDispatched(ctx context.Context, jobID, objectKey string) error {
	return e.emit(ctx, DetailJobDispatched, JobEvent{JobID: jobID, ObjectKey: objectKey})
}

// JobCompleted announces a persisted recap artifact.
func (e *Emitter) JobCompleted(ctx context.Context, jobID, objectKey, resultKey string, degraded bool) error {
	return e.emit(ctx, DetailJobCompleted, JobEvent{
		JobID:     jobID,
		ObjectKey: objectKey,
		ResultKey: resultKey,
		Degraded:  degraded,
	})
}

// JobFailed announces a terminal failure and the phase that caused it.
func (e *Emitter) JobFailed(ctx context.Context, jobID, objectKey, phase, errMsg string) error {
	return e.emit(ctx, DetailJobFailed, JobEvent{
		JobID:     jobID,
		ObjectKey: objectKey,
		Phase:     phase,
		Error:     errMsg,
	})
}

func (e *Emitter) emit(ctx context.Context, detailType string, ev JobEvent) error {
	if !e.enabled() {
		log.Debug().Str("detailType", detailType).Str("jobId", ev.JobID).Msg("Event bus not configured, skipping emit")
		return nil
	}

	ev.OccurredAt = time.Now().UTC()
	detail, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", detailType, err)
	}

	entry := eventbridgetypes.PutEventsRequestEntry{
		Source:     aws.String(Source),
		DetailType: aws.String(detailType),
		Detail:     aws.String(string(detail)),
	}
	if e.busName != "" {
		entry.EventBusName = aws.String(e.busName)
	}

	result, err := e.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		log.Error().Err(err).Str("jobId", ev.JobID).Str("detailType", detailType).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, re := range result.Entries {
			if re.ErrorCode != nil || re.ErrorMessage != nil {
				log.Error().
					Int("index", i).
					Str("errorCode", aws.ToString(re.ErrorCode)).
					Str("errorMessage", aws.ToString(re.ErrorMessage)).
					Str("jobId", ev.JobID).
					Str("detailType", detailType).
					Msg("EventBridge PutEvents entry failed")
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(re.ErrorCode), aws.ToString(re.ErrorMessage))
			}
		}
	}

	log.Debug().Str("jobId", ev.JobID).Str("detailType", detailType).Msg("Lifecycle event emitted")
	return nil
}
