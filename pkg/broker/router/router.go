package router

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/relaymq/pkg/broker/envelope"
	"github.com/cuemby/relaymq/pkg/broker/mq"
	"github.com/cuemby/relaymq/pkg/corelib"
	"github.com/cuemby/relaymq/pkg/log"
	"github.com/cuemby/relaymq/pkg/metrics"
)

const defaultExpiresIn = 60 * time.Second

// Config configures a Router.
type Config struct {
	Devices   DeviceRepository
	Buffer    *Buffer
	Analytics AnalyticsSink // optional

	// ExpiresIn is how long a downlink buffer entry lives before the
	// sweeper reclaims it. Defaults to 60s.
	ExpiresIn time.Duration
}

// Router wires application-side and network-side managers together: it is
// registered as the mq.ApplicationEventHandler and mq.NetworkEventHandler
// for every manager it owns, and dispatches uplinks/downlinks/results
// between them per §4.6. One Router serves an entire broker process; the
// managers it has not yet been told about are simply not routed to.
type Router struct {
	devices   DeviceRepository
	buffer    *Buffer
	analytics AnalyticsSink
	expiresIn time.Duration

	mu           sync.RWMutex
	applications map[string]*mq.ApplicationMgr
	networks     map[string]*mq.NetworkMgr
}

// New builds a Router from cfg.
func New(cfg Config) *Router {
	expiresIn := cfg.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}
	return &Router{
		devices:      cfg.Devices,
		buffer:       cfg.Buffer,
		analytics:    cfg.Analytics,
		expiresIn:    expiresIn,
		applications: make(map[string]*mq.ApplicationMgr),
		networks:     make(map[string]*mq.NetworkMgr),
	}
}

// RegisterApplication makes mgr a routing target for uplinks and a source
// of downlinks. Call once per constructed ApplicationMgr, after
// mq.NewApplicationMgr(..., router) has returned.
func (r *Router) RegisterApplication(mgr *mq.ApplicationMgr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applications[mgr.ID()] = mgr
}

// RegisterNetwork makes mgr a routing source for uplinks/results and a
// target for downlinks.
func (r *Router) RegisterNetwork(mgr *mq.NetworkMgr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.networks[mgr.ID()] = mgr
}

// Snapshot implements metrics.Source: it reports the readiness of every
// registered manager plus the current downlink-buffer depth, for the
// Collector to poll on a fixed interval.
func (r *Router) Snapshot() metrics.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ready := make(map[[2]string]bool, len(r.applications)+len(r.networks))
	for id, mgr := range r.applications {
		ready[[2]string{"application", id}] = mgr.Status() == mq.StatusReady
	}
	for id, mgr := range r.networks {
		ready[[2]string{"network", id}] = mgr.Status() == mq.StatusReady
	}

	return metrics.Snapshot{
		ManagerReady:  ready,
		BufferEntries: r.buffer.Count(),
	}
}

// OnStatusChange implements mq.ApplicationEventHandler.
func (r *Router) OnStatusChange(mgr *mq.ApplicationMgr, status mq.MgrStatus) {
	metrics.ManagerReady.WithLabelValues("application", mgr.ID()).Set(readyValue(status))
	log.WithManager("application", mgr.ID()).Info().Str("status", status.String()).Msg("status changed")
}

// onNetworkStatusChange implements the network side of mq's status
// callback. Named distinctly from OnStatusChange because Go does not
// allow two methods on the same type to share a name with different
// signatures; NetworkEventHandler is satisfied via the adapter below.
func (r *Router) onNetworkStatusChange(mgr *mq.NetworkMgr, status mq.MgrStatus) {
	metrics.ManagerReady.WithLabelValues("network", mgr.ID()).Set(readyValue(status))
	log.WithManager("network", mgr.ID()).Info().Str("status", status.String()).Msg("status changed")
}

func readyValue(status mq.MgrStatus) float64 {
	if status == mq.StatusReady {
		return 1
	}
	return 0
}

// OnDlData implements mq.ApplicationEventHandler: it resolves the device
// selector, persists a downlink-buffer record, and forwards the downlink
// to the target network. The DlDataResp returned here is always sent by
// the application manager, whether or not the downstream network send
// succeeds — the data_id has already been committed to the buffer and is
// the caller's handle for correlating the eventual DlDataResult.
func (r *Router) OnDlData(mgr *mq.ApplicationMgr, data *envelope.AppDlData) (*envelope.AppDlDataResp, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RoutingLatency, "dldata")

	ctx := context.Background()
	logger := log.WithManager("application", mgr.ID())

	device, err := r.resolveDownlinkDevice(ctx, data)
	if err != nil {
		logger.Warn().Err(err).Msg("downlink device resolution failed")
		metrics.RoutedMessagesTotal.WithLabelValues("dldata", "unresolved").Inc()
		return &envelope.AppDlDataResp{
			CorrelationID: data.CorrelationID,
			Error:         corelib.ErrParam,
			Message:       "device not found",
		}, nil
	}

	r.mu.RLock()
	netMgr, ok := r.networks[device.NetworkID]
	r.mu.RUnlock()
	if !ok {
		logger.Warn().Str("networkId", device.NetworkID).Msg("target network manager not registered")
		metrics.RoutedMessagesTotal.WithLabelValues("dldata", "no_network").Inc()
		return &envelope.AppDlDataResp{
			CorrelationID: data.CorrelationID,
			Error:         corelib.ErrParam,
			Message:       "network not available",
		}, nil
	}

	dataID := uuid.NewString()
	record := &BufferRecord{
		DataID:        dataID,
		Unit:          mgr.UnitCode(),
		ApplicationID: mgr.ID(),
		NetworkID:     device.NetworkID,
		NetworkAddr:   device.NetworkAddr,
		CorrelationID: data.CorrelationID,
		ExpiresAt:     time.Now().Add(r.expiresIn),
	}
	if err := r.buffer.Put(record); err != nil {
		logger.Error().Err(err).Msg("persist downlink buffer record failed")
		metrics.RoutedMessagesTotal.WithLabelValues("dldata", "buffer_error").Inc()
		return &envelope.AppDlDataResp{CorrelationID: data.CorrelationID, Error: corelib.ErrParam, Message: "internal error"}, nil
	}

	netData := &envelope.NetDlData{
		DataID:      dataID,
		Publish:     corelib.NowStr(),
		ExpiresIn:   int64(r.expiresIn / time.Second),
		NetworkAddr: device.NetworkAddr,
		Data:        data.Data,
		Extension:   data.Extension,
	}
	if err := netMgr.SendDlData(ctx, netData); err != nil {
		logger.Error().Err(err).Str("dataId", dataID).Msg("send dldata to network failed")
		metrics.RoutedMessagesTotal.WithLabelValues("dldata", "send_error").Inc()
	} else {
		metrics.RoutedMessagesTotal.WithLabelValues("dldata", "ok").Inc()
		if r.analytics != nil {
			r.analytics.RecordDlData(ctx, record.Unit, mgr.ID(), device.NetworkID, device.DeviceID, dataID)
		}
	}

	return &envelope.AppDlDataResp{CorrelationID: data.CorrelationID, DataID: dataID}, nil
}

func (r *Router) resolveDownlinkDevice(ctx context.Context, data *envelope.AppDlData) (*Device, error) {
	if data.DeviceID != nil {
		return r.devices.ByID(ctx, *data.DeviceID)
	}
	return r.devices.ByNetworkCodeAddr(ctx, *data.NetworkCode, *data.NetworkAddr)
}

// networkHandler adapts Router to mq.NetworkEventHandler without
// colliding with ApplicationEventHandler's identically-named methods on
// the Router type itself.
type networkHandler struct{ r *Router }

// NetworkHandler returns the mq.NetworkEventHandler to pass to
// mq.NewNetworkMgr for a network this router should own.
func (r *Router) NetworkHandler() mq.NetworkEventHandler { return networkHandler{r} }

func (h networkHandler) OnStatusChange(mgr *mq.NetworkMgr, status mq.MgrStatus) {
	h.r.onNetworkStatusChange(mgr, status)
}

// OnUlData resolves the uplink's device and application routes, then
// forwards an application-side UlData to each routed application.
// Unresolvable uplinks (unknown device) are logged and dropped: there is
// no network-side response queue to report the failure on (§9 asymmetry).
func (h networkHandler) OnUlData(mgr *mq.NetworkMgr, data *envelope.NetUlData) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RoutingLatency, "uldata")

	r := h.r
	ctx := context.Background()
	logger := log.WithManager("network", mgr.ID())

	device, err := r.devices.ByNetworkAddr(ctx, mgr.Name(), data.NetworkAddr)
	if err != nil {
		logger.Warn().Err(err).Str("networkAddr", data.NetworkAddr).Msg("uplink device resolution failed")
		metrics.RoutedMessagesTotal.WithLabelValues("uldata", "unresolved").Inc()
		return nil
	}

	for _, appID := range device.ApplicationID {
		r.mu.RLock()
		appMgr, ok := r.applications[appID]
		r.mu.RUnlock()
		if !ok {
			logger.Warn().Str("applicationId", appID).Msg("routed application manager not registered")
			continue
		}

		ul := &envelope.AppUlData{
			DataID:      uuid.NewString(),
			Time:        data.Time,
			Publish:     corelib.NowStr(),
			DeviceID:    device.DeviceID,
			NetworkID:   device.NetworkID,
			NetworkCode: mgr.Name(),
			NetworkAddr: data.NetworkAddr,
			IsPublic:    device.IsPublic,
			Profile:     device.Profile,
			Data:        data.Data,
			Extension:   data.Extension,
		}
		if err := appMgr.SendUlData(ctx, ul); err != nil {
			logger.Error().Err(err).Str("applicationId", appID).Msg("send uldata to application failed")
			metrics.RoutedMessagesTotal.WithLabelValues("uldata", "send_error").Inc()
			continue
		}
		metrics.RoutedMessagesTotal.WithLabelValues("uldata", "ok").Inc()
		if r.analytics != nil {
			r.analytics.RecordUlData(ctx, device.Unit, appID, device.NetworkID, device.DeviceID, ul.DataID)
		}
	}
	return nil
}

// OnDlDataResult looks up the buffered data_id, removes it, and forwards
// the result to the originating application. A data_id with no buffered
// record (already delivered, or expired) is logged and dropped. A failed
// forward to the application is logged and metered, not nacked: the buffer
// record is already removed, so a redelivered result could not be matched.
func (h networkHandler) OnDlDataResult(mgr *mq.NetworkMgr, data *envelope.NetDlDataResult) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RoutingLatency, "dldata-result")

	r := h.r
	ctx := context.Background()
	logger := log.WithManager("network", mgr.ID())

	record, ok, err := r.buffer.Get(data.DataID)
	if err != nil {
		return err // transient storage failure: nack, network redelivers
	}
	if !ok {
		logger.Warn().Str("dataId", data.DataID).Msg("dldata-result for unknown or expired data id")
		metrics.RoutedMessagesTotal.WithLabelValues("dldata-result", "unresolved").Inc()
		return nil
	}
	if err := r.buffer.Delete(data.DataID); err != nil {
		logger.Error().Err(err).Str("dataId", data.DataID).Msg("delete downlink buffer record failed")
	}

	r.mu.RLock()
	appMgr, ok := r.applications[record.ApplicationID]
	r.mu.RUnlock()
	if !ok {
		logger.Warn().Str("applicationId", record.ApplicationID).Msg("originating application manager not registered")
		return nil
	}

	result := &envelope.AppDlDataResult{DataID: data.DataID, Status: data.Status, Message: data.Message}
	if err := appMgr.SendDlDataResult(ctx, result); err != nil {
		logger.Error().Err(err).Str("applicationId", record.ApplicationID).Msg("send dldata-result to application failed")
		metrics.RoutedMessagesTotal.WithLabelValues("dldata-result", "send_error").Inc()
		return nil
	}
	metrics.RoutedMessagesTotal.WithLabelValues("dldata-result", "ok").Inc()
	if r.analytics != nil {
		r.analytics.RecordDlDataResult(ctx, record.Unit, record.ApplicationID, record.NetworkID, "", data.DataID, data.Status)
	}
	return nil
}
