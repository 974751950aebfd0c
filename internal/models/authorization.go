package models

import "strings"

// WorkerpoolAuthorization is the scheduler-signed grant assigning a task to a worker.
type WorkerpoolAuthorization struct {
	WorkerWallet     string `json:"workerWallet"`
	ChainTaskId      string `json:"chainTaskId"`
	EnclaveChallenge string `json:"enclaveChallenge"`
	Signature        string `json:"signature"`
}

func (a *WorkerpoolAuthorization) IsEmpty() bool {
	return a == nil || strings.TrimSpace(a.ChainTaskId) == "" || strings.TrimSpace(a.Signature) == ""
}

// ReplicateTaskSummary is a new assignment handed out by the scheduler.
type ReplicateTaskSummary struct {
	WorkerpoolAuthorization *WorkerpoolAuthorization `json:"workerpoolAuthorization"`
	SmsUrl                  string                   `json:"smsUrl,omitempty"`
}
