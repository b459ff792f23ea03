package enums

// OutboxAggregateType names the entity an outbox event describes.
type OutboxAggregateType string

const (
	AggregateUser     OutboxAggregateType = "user"
	AggregateReferral OutboxAggregateType = "referral"
	AggregatePurchase OutboxAggregateType = "purchase"
)

var aggregateTypes = []OutboxAggregateType{AggregateUser, AggregateReferral, AggregatePurchase}

func (a OutboxAggregateType) IsValid() bool { return member(aggregateTypes, a) }

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parse("aggregate type", aggregateTypes, value)
}

// OutboxEventType names a domain event written to the outbox. The value is
// also the Pub/Sub "event_type" attribute.
type OutboxEventType string

const (
	EventUserSynced        OutboxEventType = "user_synced"
	EventReferralCreated   OutboxEventType = "referral_created"
	EventReferralConverted OutboxEventType = "referral_converted"
	EventPurchaseSettled   OutboxEventType = "purchase_settled"
)

var eventTypes = []OutboxEventType{
	EventUserSynced,
	EventReferralCreated,
	EventReferralConverted,
	EventPurchaseSettled,
}

func (e OutboxEventType) IsValid() bool { return member(eventTypes, e) }

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parse("outbox event type", eventTypes, value)
}

// OutboxDLQErrorReason records why the publisher stopped retrying a row.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	return member([]OutboxDLQErrorReason{OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable}, r)
}
