package hub

// Diner channel events.
const (
	EventCartUpdate     = "cart_update"
	EventError          = "error"
	EventMemberJoin     = "member_join"
	EventMemberUpdate   = "member_update"
	EventMemberPresence = "member_presence"
	EventChatMessage    = "chat_message"
	EventOrderCompleted = "order_completed"
	EventCartCleared    = "cart_cleared"
	EventOrderConfirmed = "order_confirmed"
	EventOrderCancelled = "order_cancelled"
	EventOrderFailed    = "order_failed"
	EventSessionClosed  = "session_closed"
	EventTableMoved     = "table_moved"
)

// Admin channel events.
const (
	EventTablesSnapshot        = "tables_snapshot"
	EventPendingWaiterRequests = "pending_waiter_requests"
	EventPendingOrders         = "pending_orders"
	EventTableUpdate           = "table_update"
	EventNewOrder              = "new_order"
	EventOrderRemoved          = "order_removed"
	EventOrderAcknowledged     = "order_acknowledged"
	EventWaiterRequest         = "waiter_request"
	EventWaiterRequestResolved = "waiter_request_resolved"
	EventPOSRetrySuccess       = "pos_retry_success"
	EventPOSRetryFailed        = "pos_retry_failed"
	EventActionResult          = "action_result"
)

// WebSocket close codes.
const (
	ClosePolicyViolation = 1008
	CloseSessionClosed   = 4410
	CloseChannelFull     = 4429
)

// Message is the envelope of every server push.
type Message struct {
	Event string      `json:"type"`
	Data  interface{} `json:"data"`
}
