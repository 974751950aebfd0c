package models

type TeeFramework string

const (
	TeeScone   TeeFramework = "SCONE"
	TeeGramine TeeFramework = "GRAMINE"
)

type TeeSession struct {
	SessionId             string `json:"sessionId"`
	SecretProvisioningUrl string `json:"secretProvisioningUrl"`
}

type TeeStageProperties struct {
	Image           string `json:"image"`
	Entrypoint      string `json:"entrypoint"`
	HeapSizeInBytes int64  `json:"heapSizeInBytes"`
}

type TeeServicesProperties struct {
	Framework   TeeFramework       `json:"teeFramework"`
	Version     string             `json:"version"`
	PreCompute  TeeStageProperties `json:"preComputeProperties"`
	PostCompute TeeStageProperties `json:"postComputeProperties"`
	LasImage    string             `json:"lasImage,omitempty"`
}
