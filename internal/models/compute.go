package models

import (
	"strings"
	"time"
)

const ZeroAddress = "0x0000000000000000000000000000000000000000"

type ComputeStage string

const (
	PreComputeStage  ComputeStage = "pre"
	AppComputeStage  ComputeStage = "app"
	PostComputeStage ComputeStage = "post"
)

type StageStatus string

const (
	StageSuccess StageStatus = "SUCCESS"
	StageFailed  StageStatus = "FAILED"
	StageTimeout StageStatus = "TIMEOUT"
)

// StageResult is the outcome of one container run.
type StageResult struct {
	FinalStatus       StageStatus
	ExitCode          int
	Stdout            string
	Stderr            string
	ExecutionDuration time.Duration
}

func (r StageResult) IsSuccessful() bool {
	return r.FinalStatus == StageSuccess
}

type ContainerSpec struct {
	Name             string
	Image            string
	Entrypoint       []string
	Cmd              []string
	Env              []string
	Binds            []string
	Devices          []string
	Network          string
	MaxExecutionTime time.Duration
	// Detached containers are started and left running.
	Detached bool
}

// TaskDescription is the worker's view of a task, assembled from the deal, task and category.
type TaskDescription struct {
	ChainTaskId      string
	ChainDealId      string
	BotIndex         int64
	BotSize          int64
	AppAddress       string
	AppType          string
	AppUri           string
	Cmd              string
	MaxExecutionTime time.Duration
	IsTeeTask        bool
	TeeFramework     TeeFramework
	DatasetAddress   string
	DatasetName      string
	DatasetUri       string
	DatasetChecksum  string
	InputFiles       []string
	Callback         string
	Requester        string
	Beneficiary      string
	WorkerpoolOwner  string
	// SmsUrl is the secret management service of a TEE task. It is not on
	// chain and comes with the replicate assignment.
	SmsUrl           string

	ResultStorageProvider string
	ResultStorageProxy    string
}

func (t *TaskDescription) ContainsDataset() bool {
	return t.DatasetAddress != "" && !strings.EqualFold(t.DatasetAddress, ZeroAddress)
}

func (t *TaskDescription) ContainsInputFiles() bool {
	return len(t.InputFiles) > 0
}

func (t *TaskDescription) IsCallbackTask() bool {
	return t.Callback != "" && !strings.EqualFold(t.Callback, ZeroAddress)
}

// ComputedFile is the computed.json descriptor written at the end of a compute.
type ComputedFile struct {
	TaskId                  string `json:"task-id"`
	DeterministicOutputPath string `json:"deterministic-output-path,omitempty"`
	CallbackData            string `json:"callback-data,omitempty"`
	ResultDigest            string `json:"result-digest,omitempty"`
	EnclaveSignature        string `json:"enclave-signature,omitempty"`
	ErrorMessage            string `json:"error-message,omitempty"`
}
