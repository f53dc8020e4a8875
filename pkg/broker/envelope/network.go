package envelope

import (
	"encoding/json"
	"fmt"
)

// NetUlData is uplink data received network→broker, before device
// resolution and normalization.
type NetUlData struct {
	Time        string          `json:"time"`
	NetworkAddr string          `json:"networkAddr"`
	Data        string          `json:"data"`
	Extension   json.RawMessage `json:"extension,omitempty"`
}

// NetDlData is downlink data sent broker→network.
type NetDlData struct {
	DataID      string          `json:"dataId"`
	Publish     string          `json:"pub"`
	ExpiresIn   int64           `json:"expiresIn"`
	NetworkAddr string          `json:"networkAddr"`
	Data        string          `json:"data"`
	Extension   json.RawMessage `json:"extension,omitempty"`
}

// NetDlDataResult is the terminal status of a downlink reported by the
// network back to the broker.
type NetDlDataResult struct {
	DataID  string `json:"dataId"`
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
}

// NetworkCtrlOp names a control-queue operation.
type NetworkCtrlOp string

const (
	OpAddDevice      NetworkCtrlOp = "add-device"
	OpAddDeviceBulk  NetworkCtrlOp = "add-device-bulk"
	OpAddDeviceRange NetworkCtrlOp = "add-device-range"
	OpDelDevice      NetworkCtrlOp = "del-device"
	OpDelDeviceBulk  NetworkCtrlOp = "del-device-bulk"
	OpDelDeviceRange NetworkCtrlOp = "del-device-range"
)

// NetworkCtrlNew is the union of the three shapes the "new" field can take,
// selected by NetworkCtrl.Operation's suffix.
type NetworkCtrlNew struct {
	NetworkAddr  string   // add-device, del-device
	NetworkAddrs []string // add-device-bulk, del-device-bulk
	StartAddr    string   // add-device-range, del-device-range
	EndAddr      string   // add-device-range, del-device-range
}

// NetworkCtrl is the tagged broker→network control envelope (§6).
type NetworkCtrl struct {
	Operation NetworkCtrlOp
	Time      string
	New       NetworkCtrlNew
}

type networkCtrlWire struct {
	Operation NetworkCtrlOp   `json:"operation"`
	Time      string          `json:"time"`
	New       json.RawMessage `json:"new"`
}

func (c NetworkCtrl) MarshalJSON() ([]byte, error) {
	var (
		newRaw []byte
		err    error
	)
	switch c.Operation {
	case OpAddDeviceBulk, OpDelDeviceBulk:
		newRaw, err = json.Marshal(struct {
			NetworkAddrs []string `json:"networkAddrs"`
		}{c.New.NetworkAddrs})
	case OpAddDeviceRange, OpDelDeviceRange:
		newRaw, err = json.Marshal([2]string{c.New.StartAddr, c.New.EndAddr})
	case OpAddDevice, OpDelDevice:
		newRaw, err = json.Marshal(struct {
			NetworkAddr string `json:"networkAddr"`
		}{c.New.NetworkAddr})
	default:
		return nil, fmt.Errorf("envelope: unknown network ctrl operation %q", c.Operation)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(networkCtrlWire{Operation: c.Operation, Time: c.Time, New: newRaw})
}

func (c *NetworkCtrl) UnmarshalJSON(data []byte) error {
	var w networkCtrlWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	c.Operation = w.Operation
	c.Time = w.Time

	switch w.Operation {
	case OpAddDeviceBulk, OpDelDeviceBulk:
		var v struct {
			NetworkAddrs []string `json:"networkAddrs"`
		}
		if err := json.Unmarshal(w.New, &v); err != nil {
			return err
		}
		c.New = NetworkCtrlNew{NetworkAddrs: v.NetworkAddrs}
	case OpAddDeviceRange, OpDelDeviceRange:
		var v [2]string
		if err := json.Unmarshal(w.New, &v); err != nil {
			return err
		}
		c.New = NetworkCtrlNew{StartAddr: v[0], EndAddr: v[1]}
	case OpAddDevice, OpDelDevice:
		var v struct {
			NetworkAddr string `json:"networkAddr"`
		}
		if err := json.Unmarshal(w.New, &v); err != nil {
			return err
		}
		c.New = NetworkCtrlNew{NetworkAddr: v.NetworkAddr}
	default:
		return fmt.Errorf("envelope: unknown network ctrl operation %q", w.Operation)
	}
	return nil
}
