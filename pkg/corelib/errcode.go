package corelib

// ErrParam is the wire-level error code for envelope validation failures
// (sylvia_iot_corelib::err::E_PARAM), published in DlDataResp.Error.
const ErrParam = "err_param"
