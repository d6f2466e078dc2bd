package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/acme/voice-batch-engine/internal/domain"
	"github.com/acme/voice-batch-engine/pkg/logger"
)

// EventPublisher forwards engine callbacks to Kafka topics so analytics and
// dashboard consumers can follow campaigns without polling the API. It
// satisfies the engine's callback sink interface.
type EventPublisher struct {
	callWriter     *kafka.Writer
	campaignWriter *kafka.Writer
	log            *logger.Logger
}

// NewEventPublisher constructs a publisher for the configured topics.
func NewEventPublisher(k *Kafka, callTopic, campaignTopic string, log *logger.Logger) *EventPublisher {
	if log == nil {
		log = logger.NewNop()
	}
	return &EventPublisher{
		callWriter:     k.NewWriter(callTopic),
		campaignWriter: k.NewWriter(campaignTopic),
		log:            log,
	}
}

// OnCallStarted publishes a call.started event.
func (p *EventPublisher) OnCallStarted(contact domain.Contact) {
	p.publishCall(CallEvent{
		Event:      EventCallStarted,
		Phone:      contact.Phone,
		Status:     string(contact.Status),
		OccurredAt: time.Now().UTC(),
	})
}

// OnCallCompleted publishes a call.completed event.
func (p *EventPublisher) OnCallCompleted(result domain.CallResult) {
	event := CallEvent{
		Event:           EventCallCompleted,
		CampaignID:      result.CampaignID,
		JobID:           result.JobID,
		Phone:           result.Phone,
		Status:          string(result.Status),
		DurationSeconds: result.DurationSeconds,
		ExtractedData:   result.ExtractedData,
		Error:           result.Error,
		OccurredAt:      time.Now().UTC(),
	}
	if result.Outcome != nil {
		event.Outcome = string(*result.Outcome)
	}
	p.publishCall(event)
}

// OnCampaignProgress publishes a campaign.progress event.
func (p *EventPublisher) OnCampaignProgress(campaign domain.Campaign, percent float64) {
	p.publishCampaign(CampaignEvent{
		Event:           EventCampaignProgress,
		CampaignID:      campaign.ID,
		Name:            campaign.Name,
		Status:          string(campaign.Status),
		ProgressPercent: percent,
		SuccessRate:     campaign.SuccessRate(),
		TotalCalls:      campaign.TotalCalls,
		CompletedCalls:  campaign.CompletedCalls,
		OccurredAt:      time.Now().UTC(),
	})
}

// OnCampaignCompleted publishes a campaign.completed event.
func (p *EventPublisher) OnCampaignCompleted(campaign domain.Campaign) {
	p.publishCampaign(CampaignEvent{
		Event:           EventCampaignCompleted,
		CampaignID:      campaign.ID,
		Name:            campaign.Name,
		Status:          string(campaign.Status),
		ProgressPercent: campaign.ProgressPercent(),
		SuccessRate:     campaign.SuccessRate(),
		TotalCalls:      campaign.TotalCalls,
		CompletedCalls:  campaign.CompletedCalls,
		OccurredAt:      time.Now().UTC(),
	})
}

// Close closes the underlying writers.
func (p *EventPublisher) Close() error {
	err := p.callWriter.Close()
	if cerr := p.campaignWriter.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (p *EventPublisher) publishCall(event CallEvent) {
	value, err := json.Marshal(event)
	if err != nil {
		p.log.Error("event publisher: marshal call event", zap.Error(err))
		return
	}
	p.write(p.callWriter, []byte(event.Phone), value)
}

func (p *EventPublisher) publishCampaign(event CampaignEvent) {
	value, err := json.Marshal(event)
	if err != nil {
		p.log.Error("event publisher: marshal campaign event", zap.Error(err))
		return
	}
	p.write(p.campaignWriter, event.CampaignID[:], value)
}

func (p *EventPublisher) write(writer *kafka.Writer, key, value []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	record := kafka.Message{Key: key, Value: value, Time: time.Now().UTC()}
	if err := writer.WriteMessages(ctx, record); err != nil {
		p.log.Error("event publisher: write", zap.Error(err))
	}
}
