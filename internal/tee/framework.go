package tee

import (
	"github.com/lagrangedao/go-tee-worker/internal/models"
)

var sgxDevices = []string{"/dev/sgx_enclave", "/dev/sgx_provision"}

// SgxDevices are the host devices attached to enclave containers.
func SgxDevices() []string {
	return append([]string(nil), sgxDevices...)
}

// StageContext is what a framework needs to build a stage environment.
type StageContext struct {
	Task       *models.TaskDescription
	Session    *models.TeeSession
	Properties *models.TeeServicesProperties
	Las        *LasService
}

type Framework interface {
	Name() models.TeeFramework
	// RequiresLas reports whether tasks need a running LAS before pre-compute.
	RequiresLas() bool
	Devices() []string
	PreComputeEnv(sc StageContext) []string
	ComputeEnv(sc StageContext) []string
	PostComputeEnv(sc StageContext) []string
}

func FrameworkFor(name models.TeeFramework) (Framework, bool) {
	switch name {
	case models.TeeScone:
		return sconeFramework{}, true
	case models.TeeGramine:
		return gramineFramework{}, true
	}
	return nil, false
}
