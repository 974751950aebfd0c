package tee

import (
	"strconv"

	"github.com/lagrangedao/go-tee-worker/internal/models"
)

const (
	sconePreComputeConfig  = "pre-compute"
	sconeAppConfig         = "app"
	sconePostComputeConfig = "post-compute"
)

type sconeFramework struct{}

func (sconeFramework) Name() models.TeeFramework {
	return models.TeeScone
}

func (sconeFramework) RequiresLas() bool {
	return true
}

func (sconeFramework) Devices() []string {
	return sgxDevices
}

func (sconeFramework) PreComputeEnv(sc StageContext) []string {
	return sconeEnv(sc, sconePreComputeConfig, sc.Properties.PreCompute.HeapSizeInBytes)
}

func (sconeFramework) ComputeEnv(sc StageContext) []string {
	return sconeEnv(sc, sconeAppConfig, 0)
}

func (sconeFramework) PostComputeEnv(sc StageContext) []string {
	return sconeEnv(sc, sconePostComputeConfig, sc.Properties.PostCompute.HeapSizeInBytes)
}

func sconeEnv(sc StageContext, config string, heapSize int64) []string {
	env := []string{
		"SCONE_CAS_ADDR=" + sc.Session.SecretProvisioningUrl,
		"SCONE_CONFIG_ID=" + sc.Session.SessionId + "/" + config,
		"SCONE_LOG=debug",
		"SCONE_VERSION=1",
	}
	if sc.Las != nil {
		env = append(env, "SCONE_LAS_ADDR="+sc.Las.Url())
	}
	if heapSize > 0 {
		env = append(env, "SCONE_HEAP="+strconv.FormatInt(heapSize, 10))
	}
	return env
}
