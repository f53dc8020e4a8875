// Package router wires application-side and network-side managers
// together inside one process: uplinks fan out to routed applications,
// downlinks resolve to a device's network and are buffered pending a
// result, and results are forwarded back to the originating application.
package router

import "context"

// Device is the routing-relevant projection of a device record: which
// network it belongs to, its address on that network, and the
// applications subscribed to its uplinks.
type Device struct {
	DeviceID      string
	Unit          string
	NetworkID     string
	NetworkCode   string
	NetworkAddr   string
	IsPublic      bool
	Profile       string
	ApplicationID []string
}

// DeviceRepository resolves device selectors to routing metadata. It
// stands in for the admin REST/DB layer that owns unit/application/
// network/device records.
type DeviceRepository interface {
	// ByNetworkAddr resolves an uplink's (networkCode, networkAddr) to the
	// device that owns it.
	ByNetworkAddr(ctx context.Context, networkCode, networkAddr string) (*Device, error)
	// ByID resolves a downlink's explicit device_id.
	ByID(ctx context.Context, deviceID string) (*Device, error)
	// ByNetworkCodeAddr resolves a downlink's (networkCode, networkAddr) pair.
	ByNetworkCodeAddr(ctx context.Context, networkCode, networkAddr string) (*Device, error)
}

// TokenIntrospector would back OAuth2 introspection for control-plane
// requests against the routing runtime. No data-plane operation in this
// package invokes it; it is kept as a documented seam for a future
// control surface.
type TokenIntrospector interface {
	Introspect(ctx context.Context, token string) (active bool, subject string, err error)
}

// AnalyticsSink receives an append-only record of each routed message,
// standing in for the analytics/data store.
type AnalyticsSink interface {
	RecordUlData(ctx context.Context, unit, applicationID, networkID, deviceID string, dataID string)
	RecordDlData(ctx context.Context, unit, applicationID, networkID, deviceID string, dataID string)
	RecordDlDataResult(ctx context.Context, unit, applicationID, networkID, deviceID string, dataID string, status int)
}

// ProvisioningAPI manages vhost/policy provisioning on the underlying
// message-broker server. Not invoked by the routing runtime itself; a
// seam for an operator tool built on top of this package.
type ProvisioningAPI interface {
	EnsureVHost(ctx context.Context, name string) error
	EnsurePolicy(ctx context.Context, vhost, pattern string, definition map[string]any) error
}
