package tee

import "github.com/lagrangedao/go-tee-worker/internal/models"

type gramineFramework struct{}

func (gramineFramework) Name() models.TeeFramework {
	return models.TeeGramine
}

func (gramineFramework) RequiresLas() bool {
	return false
}

func (gramineFramework) Devices() []string {
	return sgxDevices
}

func (gramineFramework) PreComputeEnv(sc StageContext) []string {
	return gramineEnv(sc, "pre-compute")
}

func (gramineFramework) ComputeEnv(sc StageContext) []string {
	return gramineEnv(sc, "app")
}

func (gramineFramework) PostComputeEnv(sc StageContext) []string {
	return gramineEnv(sc, "post-compute")
}

func gramineEnv(sc StageContext, stage string) []string {
	return []string{
		"sps=" + sc.Session.SecretProvisioningUrl,
		"session=" + sc.Session.SessionId + "/" + stage,
	}
}
