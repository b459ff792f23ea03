package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditshare-backend/pkg/config"
	"github.com/angelmondragon/creditshare-backend/pkg/db/models"
	"github.com/angelmondragon/creditshare-backend/pkg/enums"
	"github.com/angelmondragon/creditshare-backend/pkg/logger"
	"github.com/angelmondragon/creditshare-backend/pkg/outbox"
	"github.com/angelmondragon/creditshare-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/creditshare-backend/pkg/outbox/registry"
)

func settledEvent(t *testing.T, attempts int) models.OutboxEvent {
	t.Helper()
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPurchaseSettled,
		AggregateType: enums.AggregatePurchase,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t),
		AttemptCount:  attempts,
	}
}

func purchaseResolution() *registry.ResolvedEvent {
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			EventType:     enums.EventPurchaseSettled,
			AggregateType: enums.AggregatePurchase,
			Topic:         "cs-purchase-events",
		},
		Envelope: outbox.PayloadEnvelope{Version: 1},
		Payload:  &payloads.PurchaseSettledEvent{},
	}
}

func TestProcessBatchContinuesAfterTransientFailure(t *testing.T) {
	first, second := settledEvent(t, 0), settledEvent(t, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{first, second}}
	pub := &fakePublisher{results: []publishResult{
		fakePublishResult{err: errors.New("unavailable")},
		fakePublishResult{},
	}}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: purchaseResolution()}, &fakeDLQRepo{}, nil)

	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, []uuid.UUID{first.ID}, repo.failed)
	assert.Equal(t, []uuid.UUID{second.ID}, repo.published)

	require.Len(t, pub.sent, 2)
	attrs := pub.sent[1].Attributes
	assert.Equal(t, second.ID.String(), attrs["event_id"])
	assert.Equal(t, string(enums.EventPurchaseSettled), attrs["event_type"])
	assert.Equal(t, second.AggregateID.String(), attrs["aggregate_id"])
	assert.Equal(t, "1", attrs["schema_version"])
}

func TestProcessBatchEmptyReportsIdle(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeRegistry{}, &fakeDLQRepo{}, nil)
	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestProcessBatchDeadLettersUnresolvableRows(t *testing.T) {
	event := settledEvent(t, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlq := &fakeDLQRepo{}
	resolver := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("payload missing"))}
	service := newTestService(t, repo, &fakePublisher{}, resolver, dlq, nil)

	_, err := service.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, dlq.entries, 1)
	entry := dlq.entries[0]
	assert.Equal(t, event.ID, entry.EventID)
	assert.JSONEq(t, string(event.Payload), string(entry.Payload))
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, entry.ErrorReason)
	require.NotNil(t, entry.ErrorMessage)
	assert.Contains(t, *entry.ErrorMessage, "payload missing")
	assert.Equal(t, []uuid.UUID{event.ID}, repo.terminal)
}

func TestProcessBatchDeadLettersMissingPublisher(t *testing.T) {
	event := settledEvent(t, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlq := &fakeDLQRepo{}
	service := newTestService(t, repo, nil, &fakeRegistry{resolved: purchaseResolution()}, dlq, nil)
	service.publisherFactory = func(string) publisher { return nil }

	_, err := service.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, dlq.entries[0].ErrorReason)
}

func TestProcessBatchDeadLettersOnMaxAttempts(t *testing.T) {
	event := settledEvent(t, 1)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{err: errors.New("deadline")}}}
	dlq := &fakeDLQRepo{}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: purchaseResolution()}, dlq, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	_, err := service.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, dlq.entries[0].ErrorReason)
	assert.Empty(t, repo.failed)
	assert.Equal(t, []uuid.UUID{event.ID}, repo.terminal)
}

func TestProcessBatchReturnsBookkeepingErrors(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{settledEvent(t, 0)}, markErr: errors.New("conn reset")}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: purchaseResolution()}, &fakeDLQRepo{}, nil)

	_, err := service.processBatch(context.Background())
	assert.ErrorIs(t, err, repo.markErr)
}

func TestNewServiceDefaults(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeRegistry{}, &fakeDLQRepo{}, &config.OutboxConfig{})
	assert.Equal(t, defaultBatchSize, service.batchSize)
	assert.Equal(t, defaultMaxAttempts, service.maxAttempts)
	assert.Equal(t, defaultPollMs*time.Millisecond, service.pollInterval)

	_, err := NewService(ServiceParams{Config: &config.Config{}})
	assert.Error(t, err)
}

func TestBackoffAndJitter(t *testing.T) {
	assert.Equal(t, time.Second, nextBackoff(0, 500*time.Millisecond, maxBackoff))
	assert.Equal(t, maxBackoff, nextBackoff(8*time.Second, time.Second, maxBackoff))
	for i := 0; i < 20; i++ {
		d := withJitter(time.Second)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, time.Second+jitterWindow)
	}
	assert.Zero(t, withJitter(0))
}

func newTestService(t *testing.T, repo outboxRepository, pub publisher, resolver registryResolver, dlq dlqRepository, override *config.OutboxConfig) *Service {
	t.Helper()
	outboxCfg := config.OutboxConfig{BatchSize: 2, PollIntervalMS: 100, MaxAttempts: 5}
	if override != nil {
		outboxCfg = *override
	}
	service, err := NewService(ServiceParams{
		Config:           &config.Config{Outbox: outboxCfg},
		Logger:           logger.Nop(),
		DB:               fakeDB{},
		PubSub:           fakePubSubClient{},
		Repository:       repo,
		Registry:         resolver,
		PublisherFactory: func(string) publisher { return pub },
		DLQRepository:    dlq,
	})
	require.NoError(t, err)
	return service
}

func mustEnvelopePayload(t *testing.T) json.RawMessage {
	t.Helper()
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{"purchaseId":"x"}`),
	})
	require.NoError(t, err)
	return payload
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
	markErr   error
}

func (f *fakeRepo) FetchUnpublishedForPublish(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }

func (fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type fakePubSubClient struct{}

func (fakePubSubClient) Ping(context.Context) error { return nil }

func (fakePubSubClient) Publisher(string) *gcppubsub.Publisher { return nil }

type fakePublisher struct {
	results []publishResult
	sent    []*gcppubsub.Message
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.sent = append(f.sent, msg)
	if len(f.results) == 0 {
		return nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) { return "server-id", f.err }

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.OccurredAt = time.Now()
	return &resolved, nil
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) Record(_ *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}

type awaitingResult struct {
	pub      *fakePublisher
	sentSeen *[]int
}

func (a awaitingResult) Get(context.Context) (string, error) {
	*a.sentSeen = append(*a.sentSeen, len(a.pub.sent))
	return "server-id", nil
}

func TestPublishBatchStartsAllBeforeAwaiting(t *testing.T) {
	first, second := settledEvent(t, 0), settledEvent(t, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{first, second}}
	pub := &fakePublisher{}
	var seen []int
	pub.results = []publishResult{awaitingResult{pub: pub, sentSeen: &seen}, awaitingResult{pub: pub, sentSeen: &seen}}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: purchaseResolution()}, &fakeDLQRepo{}, nil)

	factoryCalls := 0
	service.publisherFactory = func(string) publisher {
		factoryCalls++
		return pub
	}

	_, err := service.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, seen, "both messages handed off before the first ack wait")
	assert.Equal(t, []uuid.UUID{first.ID, second.ID}, repo.published)

	_, err = service.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, factoryCalls, "publisher is reused across batches for the same topic")
}
