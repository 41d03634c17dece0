package events

// Topic constants for domain events emitted by the ordering platform.
const (
	TopicOrderCreated        = "order.created"
	TopicOrderPaid           = "order.paid"
	TopicOrderCanceled       = "order.canceled"
	TopicVoucherApplied      = "voucher.applied"
	TopicVoucherRemoved      = "voucher.removed"
	TopicVoucherForceRemoved = "voucher.force_removed"
	TopicPromotionCreated    = "promotion.created"
)

// DefaultTopics returns the canonical list of topics the platform emits.
func DefaultTopics() []string {
	return []string{
		TopicOrderCreated,
		TopicOrderPaid,
		TopicOrderCanceled,
		TopicVoucherApplied,
		TopicVoucherRemoved,
		TopicVoucherForceRemoved,
		TopicPromotionCreated,
	}
}
