package types

const (
	ActionRabbitMQConnected       = "rabbitmq_connected"
	ActionRabbitConnectionClosed  = "rabbitmq_connection_closed"
	ActionRabbitConnectionClosing = "rabbitmq_connection_closing"
	ActionRabbitReconnected       = "rabbitmq_reconnection_success"

	ActionDatabaseTransactionFailed = "database_transaction_failed"

	ActionAssignOrder     = "assign_order"
	ActionReassignOrder   = "reassign_order"
	ActionBatchAssign     = "batch_assign"
	ActionZoneRecompute   = "zone_stats_recompute"
	ActionRouteReoptimize = "route_reoptimize"
	ActionTrackingFlush   = "tracking_buffer_flush"
	ActionGeofenceEvent   = "geofence_transition"
)
