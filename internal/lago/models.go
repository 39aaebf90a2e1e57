package lago

import "time"

// MaxEventsPerBatch is the documented hard cap on the batch ingestion
// endpoint.
const MaxEventsPerBatch = 100

type Customer struct {
	LagoID     string `json:"lago_id"`
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
}

type Subscription struct {
	LagoID             string `json:"lago_id"`
	ExternalID         string `json:"external_id"`
	ExternalCustomerID string `json:"external_customer_id"`
	PlanCode           string `json:"plan_code"`
	Status             string `json:"status"`
}

// Event is a usage event. TransactionID doubles as the idempotency key:
// Lago deduplicates on it, so retried deliveries of the same event never
// double-count usage.
type Event struct {
	TransactionID          string            `json:"transaction_id"`
	ExternalSubscriptionID string            `json:"external_subscription_id"`
	Code                   string            `json:"code"`
	Timestamp              time.Time         `json:"timestamp"`
	Properties             map[string]string `json:"properties"`
}
