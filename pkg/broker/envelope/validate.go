package envelope

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/cuemby/relaymq/pkg/corelib"
	"github.com/cuemby/relaymq/pkg/metrics"
)

// ParseAppDlData decodes and validates an inbound application DlData
// envelope. On success it returns the normalized data; on failure it
// returns a DlDataResp ready to publish back to the application, per the
// validation order in sylvia-iot-broker/src/libs/mq/application.rs.
func ParseAppDlData(payload []byte) (*AppDlData, *AppDlDataResp) {
	var data AppDlData
	if err := json.Unmarshal(payload, &data); err != nil {
		metrics.ValidationErrorsTotal.WithLabelValues("format").Inc()
		return nil, &AppDlDataResp{Error: corelib.ErrParam, Message: "invalid format"}
	}

	if data.CorrelationID == "" {
		metrics.ValidationErrorsTotal.WithLabelValues("correlationId").Inc()
		return nil, &AppDlDataResp{CorrelationID: data.CorrelationID, Error: corelib.ErrParam, Message: "invalid `correlationId`"}
	}

	if data.DeviceID == nil {
		if data.NetworkCode == nil {
			metrics.ValidationErrorsTotal.WithLabelValues("networkCode").Inc()
			return nil, &AppDlDataResp{CorrelationID: data.CorrelationID, Error: corelib.ErrParam, Message: "missing `networkCode`"}
		}
		code := strings.ToLower(*data.NetworkCode)
		if !corelib.IsCode(code) {
			metrics.ValidationErrorsTotal.WithLabelValues("networkCode").Inc()
			return nil, &AppDlDataResp{CorrelationID: data.CorrelationID, Error: corelib.ErrParam, Message: "invalid `networkCode`"}
		}
		data.NetworkCode = &code

		if data.NetworkAddr == nil {
			metrics.ValidationErrorsTotal.WithLabelValues("networkAddr").Inc()
			return nil, &AppDlDataResp{CorrelationID: data.CorrelationID, Error: corelib.ErrParam, Message: "missing `networkAddr`"}
		}
		if *data.NetworkAddr == "" {
			metrics.ValidationErrorsTotal.WithLabelValues("networkAddr").Inc()
			return nil, &AppDlDataResp{CorrelationID: data.CorrelationID, Error: corelib.ErrParam, Message: "invalid `networkAddr`"}
		}
		addr := strings.ToLower(*data.NetworkAddr)
		data.NetworkAddr = &addr
	} else if *data.DeviceID == "" {
		metrics.ValidationErrorsTotal.WithLabelValues("deviceId").Inc()
		return nil, &AppDlDataResp{CorrelationID: data.CorrelationID, Error: corelib.ErrParam, Message: "invalid `deviceId`"}
	}

	if data.Data != "" {
		if _, err := hex.DecodeString(data.Data); err != nil {
			metrics.ValidationErrorsTotal.WithLabelValues("data").Inc()
			return nil, &AppDlDataResp{CorrelationID: data.CorrelationID, Error: corelib.ErrParam, Message: "invalid `data`"}
		}
		data.Data = strings.ToLower(data.Data)
	}

	return &data, nil
}

// ParseNetUlData decodes and validates an inbound network UlData envelope.
// ok is false when the message must be acked and dropped without invoking
// the handler (network.rs has no response queue to answer on).
func ParseNetUlData(payload []byte) (data *NetUlData, ok bool) {
	var d NetUlData
	if err := json.Unmarshal(payload, &d); err != nil {
		metrics.ValidationErrorsTotal.WithLabelValues("format").Inc()
		return nil, false
	}
	canon, err := corelib.TimeStr(d.Time)
	if err != nil {
		metrics.ValidationErrorsTotal.WithLabelValues("time").Inc()
		return nil, false
	}
	d.Time = canon

	if d.NetworkAddr == "" {
		metrics.ValidationErrorsTotal.WithLabelValues("networkAddr").Inc()
		return nil, false
	}
	d.NetworkAddr = strings.ToLower(d.NetworkAddr)

	if d.Data != "" {
		if _, err := hex.DecodeString(d.Data); err != nil {
			metrics.ValidationErrorsTotal.WithLabelValues("data").Inc()
			return nil, false
		}
		d.Data = strings.ToLower(d.Data)
	}

	return &d, true
}

// ParseNetDlDataResult decodes and validates an inbound network
// DlDataResult envelope.
func ParseNetDlDataResult(payload []byte) (data *NetDlDataResult, ok bool) {
	var w struct {
		DataID  string  `json:"dataId"`
		Status  int     `json:"status"`
		Message *string `json:"message"`
	}
	if err := json.Unmarshal(payload, &w); err != nil {
		metrics.ValidationErrorsTotal.WithLabelValues("format").Inc()
		return nil, false
	}
	if w.DataID == "" {
		metrics.ValidationErrorsTotal.WithLabelValues("dataId").Inc()
		return nil, false
	}
	if w.Message != nil && *w.Message == "" {
		metrics.ValidationErrorsTotal.WithLabelValues("message").Inc()
		return nil, false
	}
	d := &NetDlDataResult{DataID: w.DataID, Status: w.Status}
	if w.Message != nil {
		d.Message = *w.Message
	}
	return d, true
}
