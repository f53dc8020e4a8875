/*
Package metrics provides Prometheus metrics collection and exposition for
relaymq's transport and routing layers.

Metrics are registered at package init and exposed via an HTTP handler for
scraping.

# Metrics Catalog

Connection/Queue:

	relaymq_connection_status{scheme,uri}       gauge, 0..4 per Status
	relaymq_connection_reconnects_total{scheme} counter
	relaymq_queue_status{queue}                 gauge, 0..4 per Status
	relaymq_queue_messages_total{queue,direction} counter
	relaymq_queue_nacks_total{queue}            counter

Manager/Router:

	relaymq_manager_ready{kind,id}              gauge, 1=ready
	relaymq_routed_messages_total{kind,status}  counter
	relaymq_routing_latency_seconds{kind}       histogram
	relaymq_validation_errors_total{field}      counter

Downlink buffer:

	relaymq_buffer_entries_total                gauge
	relaymq_buffer_expired_total                counter

# Usage

	metrics.QueueStatus.WithLabelValues("broker.network._.net1.uldata").Set(2)
	timer := metrics.NewTimer()
	route(msg)
	timer.ObserveDurationVec(metrics.RoutingLatency, "uldata")
	http.Handle("/metrics", metrics.Handler())

The Collector type polls a Source (the router) on a fixed interval for
values that aren't naturally updated inline, such as manager readiness and
buffer size.
*/
package metrics
