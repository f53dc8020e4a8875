package main

import (
	"context"
	"fmt"

	"github.com/cuemby/relaymq/pkg/broker/router"
)

// unresolvedDeviceRepository is a placeholder router.DeviceRepository for
// the serve command: the admin REST/DB layer that owns unit/application/
// network/device records is an out-of-scope external collaborator
// (§1). It satisfies the interface so `relaymq serve` runs standalone;
// a real deployment wires in a repository backed by that service instead.
type unresolvedDeviceRepository struct{}

func (unresolvedDeviceRepository) ByNetworkAddr(_ context.Context, networkCode, networkAddr string) (*router.Device, error) {
	return nil, fmt.Errorf("devices: no repository configured (network=%s addr=%s)", networkCode, networkAddr)
}

func (unresolvedDeviceRepository) ByID(_ context.Context, deviceID string) (*router.Device, error) {
	return nil, fmt.Errorf("devices: no repository configured (device=%s)", deviceID)
}

func (unresolvedDeviceRepository) ByNetworkCodeAddr(_ context.Context, networkCode, networkAddr string) (*router.Device, error) {
	return nil, fmt.Errorf("devices: no repository configured (network=%s addr=%s)", networkCode, networkAddr)
}
