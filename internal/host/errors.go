package host

import (
	"errors"
	"fmt"

	"github.com/roach88/plughost/internal/ir"
)

// ActivateErrorCode categorizes activation failures.
type ActivateErrorCode string

const (
	ErrCodeAlreadyActive                  ActivateErrorCode = "ALREADY_ACTIVE"
	ErrCodePluginFailedToGetAudioPortsExt ActivateErrorCode = "PLUGIN_FAILED_TO_GET_AUDIO_PORTS_EXT"
	ErrCodePluginFailedToGetNotePortsExt  ActivateErrorCode = "PLUGIN_FAILED_TO_GET_NOTE_PORTS_EXT"
	ErrCodePluginSpecific                 ActivateErrorCode = "PLUGIN_SPECIFIC"
)

// ActivatePluginError is returned by Activate.
type ActivatePluginError struct {
	Code ActivateErrorCode
	Err  error
}

func (e *ActivatePluginError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *ActivatePluginError) Unwrap() error { return e.Err }

// IsAlreadyActive reports whether err is an AlreadyActive activation error.
func IsAlreadyActive(err error) bool {
	var ae *ActivatePluginError
	return errors.As(err, &ae) && ae.Code == ErrCodeAlreadyActive
}

// ParamErrorCode categorizes rejected parameter writes.
type ParamErrorCode string

const (
	ErrCodeParamDoesNotExist     ParamErrorCode = "PARAM_DOES_NOT_EXIST"
	ErrCodeParamIsReadOnly       ParamErrorCode = "PARAM_IS_READ_ONLY"
	ErrCodeParamIsNotModulatable ParamErrorCode = "PARAM_IS_NOT_MODULATABLE"
)

// ParamError is returned by SetParamValue and SetParamModAmount.
type ParamError struct {
	Code  ParamErrorCode
	Param ir.ParamID
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("%s: param %d", e.Code, e.Param)
}

// ParamErrorCodeOf returns the code of a ParamError, or "".
func ParamErrorCodeOf(err error) ParamErrorCode {
	var pe *ParamError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// ErrPluginNotLoaded is the activation error of a missing-plugin
// placeholder.
var ErrPluginNotLoaded = errors.New("plugin binary is not loaded")
