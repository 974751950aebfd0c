package util

import (
	libconstants "github.com/filswan/go-swan-lib/constants"
)

type BasicResponse struct {
	Status  string      `json:"status"`
	Code    int         `json:"code"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

func CreateSuccessResponse(_data interface{}) BasicResponse {
	return BasicResponse{
		Status: libconstants.SWAN_API_STATUS_SUCCESS,
		Data:   _data,
		Code:   SuccessCode,
	}
}

func CreateErrorResponse(code int, errMsg ...string) BasicResponse {
	var msg string
	if len(errMsg) == 0 {
		msg = codeMsg[code]
	} else {
		msg = errMsg[0]
	}
	return BasicResponse{
		Status:  libconstants.SWAN_API_STATUS_FAIL,
		Code:    code,
		Message: msg,
	}
}

const (
	SuccessCode = 200
	JsonError   = 400

	EmptyExitCausesError  = 4002
	TaskIdMismatchError   = 4003
	UnauthorizedError     = 4010
	AlreadyReportedError  = 4090
	ComputedFileSaveError = 5001
)

var codeMsg = map[int]string{
	JsonError: "An error occurred while converting to json",

	EmptyExitCausesError:  "No exit cause given",
	TaskIdMismatchError:   "The computed file belongs to another task",
	UnauthorizedError:     "The request is not signed by the task enclave",
	AlreadyReportedError:  "Exit causes of this stage were already reported",
	ComputedFileSaveError: "An error occurred while saving the computed file",
}
