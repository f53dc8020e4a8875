// Package envelope defines the JSON wire schemas for the five logical
// queues and the validation/normalization rules applied to inbound
// messages, grounded on sylvia-iot-broker/src/libs/mq/{application,network}.rs.
package envelope

import "encoding/json"

// AppUlData is uplink data delivered broker→application.
type AppUlData struct {
	DataID     string          `json:"dataId"`
	Time       string          `json:"time"`
	Publish    string          `json:"pub"`
	DeviceID   string          `json:"deviceId"`
	NetworkID  string          `json:"networkId"`
	NetworkCode string         `json:"networkCode"`
	NetworkAddr string         `json:"networkAddr"`
	IsPublic   bool            `json:"isPublic"`
	Profile    string          `json:"profile"`
	Data       string          `json:"data"`
	Extension  json.RawMessage `json:"extension,omitempty"`
}

// AppDlData is downlink data received application→broker, before device
// selector resolution.
type AppDlData struct {
	CorrelationID string          `json:"correlationId"`
	DeviceID      *string         `json:"deviceId,omitempty"`
	NetworkCode   *string         `json:"networkCode,omitempty"`
	NetworkAddr   *string         `json:"networkAddr,omitempty"`
	Data          string          `json:"data"`
	Extension     json.RawMessage `json:"extension,omitempty"`
}

// AppDlDataResp answers AppDlData, either with an assigned data id or an
// error/message pair. Zero-value fields are omitted on the wire.
type AppDlDataResp struct {
	CorrelationID string `json:"correlationId"`
	DataID        string `json:"dataId,omitempty"`
	Error         string `json:"error,omitempty"`
	Message       string `json:"message,omitempty"`
}

// AppDlDataResult is the terminal status of a downlink, forwarded from the
// network side back to the originating application.
type AppDlDataResult struct {
	DataID  string `json:"dataId"`
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
}
