package models

type TaskNotificationType string

const (
	PleaseStart        TaskNotificationType = "PLEASE_START"
	PleaseDownloadApp  TaskNotificationType = "PLEASE_DOWNLOAD_APP"
	PleaseDownloadData TaskNotificationType = "PLEASE_DOWNLOAD_DATA"
	PleaseCompute      TaskNotificationType = "PLEASE_COMPUTE"
	PleaseContribute   TaskNotificationType = "PLEASE_CONTRIBUTE"
	PleaseReveal       TaskNotificationType = "PLEASE_REVEAL"
	PleaseUpload       TaskNotificationType = "PLEASE_UPLOAD"
	PleaseComplete     TaskNotificationType = "PLEASE_COMPLETE"
	PleaseWait         TaskNotificationType = "PLEASE_WAIT"

	PleaseAbort                    TaskNotificationType = "PLEASE_ABORT"
	PleaseAbortConsensusReached    TaskNotificationType = "PLEASE_ABORT_CONSENSUS_REACHED"
	PleaseAbortContributionTimeout TaskNotificationType = "PLEASE_ABORT_CONTRIBUTION_TIMEOUT"
)

func (t TaskNotificationType) IsAbort() bool {
	switch t {
	case PleaseAbort, PleaseAbortConsensusReached, PleaseAbortContributionTimeout:
		return true
	}
	return false
}

// IsTerminal reports whether no notification ever follows this one.
func (t TaskNotificationType) IsTerminal() bool {
	return t == PleaseComplete || t.IsAbort()
}

type TaskNotificationExtra struct {
	WorkerpoolAuthorization *WorkerpoolAuthorization `json:"workerpoolAuthorization,omitempty"`
	SmsUrl                  string                   `json:"smsUrl,omitempty"`
	BlockNumber             uint64                   `json:"blockNumber,omitempty"`
	TaskAbortCause          ReplicateStatusCause     `json:"taskAbortCause,omitempty"`
}

type TaskNotification struct {
	ChainTaskId string                 `json:"chainTaskId"`
	Type        TaskNotificationType   `json:"taskNotificationType"`
	Extra       *TaskNotificationExtra `json:"taskNotificationExtra,omitempty"`
}

func (n TaskNotification) Authorization() *WorkerpoolAuthorization {
	if n.Extra == nil {
		return nil
	}
	return n.Extra.WorkerpoolAuthorization
}
