package events

const (
	TopicOrders            = "orders"
	TopicInventoryOutcomes = "stock-orders"
	TopicPaymentOutcomes   = "payment-orders"

	DeadLetterSuffix = ".DLT"
)

const (
	HeaderEventID  = "event-id"
	HeaderProducer = "producer"

	HeaderDLTOriginalTopic     = "dlt-original-topic"
	HeaderDLTOriginalPartition = "dlt-original-partition"
	HeaderDLTOriginalOffset    = "dlt-original-offset"
	HeaderDLTExceptionMessage  = "dlt-exception-message"
	HeaderDLTErrorKind         = "dlt-error-kind"
	HeaderDLTAttempts          = "dlt-attempts"
)

// DeadLetterTopic names the dead-letter topic paired with topic.
func DeadLetterTopic(topic string) string {
	return topic + DeadLetterSuffix
}
