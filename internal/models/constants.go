package models

// Lifecycle events delivered to notification sinks.
const (
	EventCreated     = "created"
	EventModified    = "modified"
	EventRescheduled = "rescheduled"
	EventCancelled   = "cancelled"
	EventCompleted   = "completed"
	EventBlocked     = "blocked"
	EventUnblocked   = "unblocked"
)

// Placeholder identity carried by blocked rows.
const (
	BlockedService      = "blocked"
	BlockedCustomerName = "BLOCKED"
	BlockedEmail        = "blocked@placeholder.invalid"
	BlockedPhone        = "0000000000"
	BlockedAddress      = "Blocked day"
	BlockedPostcode     = "0000"
)

const (
	PaymentUnpaid   = "unpaid"
	PaymentInvoiced = "invoiced"
	PaymentPaid     = "paid"
)

const (
	ActorSystem   = "system"
	ActorAdmin    = "admin"
	ActorCustomer = "customer"
)

const (
	JobNumberPrefix     = "J"
	BlockedNumberPrefix = "B"
)

const (
	NotificationPending   = "pending"
	NotificationRetry     = "retry"
	NotificationCompleted = "completed"
	NotificationFailed    = "failed"
)
