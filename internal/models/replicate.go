package models

import (
	"strings"
	"time"
)

type ReplicateStatus string

const (
	ReplicateStarted            ReplicateStatus = "STARTED"
	ReplicateStartFailed        ReplicateStatus = "START_FAILED"
	ReplicateAppDownloaded      ReplicateStatus = "APP_DOWNLOADED"
	ReplicateAppDownloadFailed  ReplicateStatus = "APP_DOWNLOAD_FAILED"
	ReplicateDataDownloaded     ReplicateStatus = "DATA_DOWNLOADED"
	ReplicateDataDownloadFailed ReplicateStatus = "DATA_DOWNLOAD_FAILED"
	ReplicateComputed           ReplicateStatus = "COMPUTED"
	ReplicateComputeFailed      ReplicateStatus = "COMPUTE_FAILED"
	ReplicateContributed        ReplicateStatus = "CONTRIBUTED"
	ReplicateContributeFailed   ReplicateStatus = "CONTRIBUTE_FAILED"
	ReplicateRevealed           ReplicateStatus = "REVEALED"
	ReplicateRevealFailed       ReplicateStatus = "REVEAL_FAILED"
	ReplicateResultUploaded     ReplicateStatus = "RESULT_UPLOADED"
	ReplicateResultUploadFailed ReplicateStatus = "RESULT_UPLOAD_FAILED"
	ReplicateCompleted          ReplicateStatus = "COMPLETED"
	ReplicateCompleteFailed     ReplicateStatus = "COMPLETE_FAILED"
	ReplicateAborted            ReplicateStatus = "ABORTED"
)

func (s ReplicateStatus) IsFailure() bool {
	return s == ReplicateAborted || strings.HasSuffix(string(s), "_FAILED")
}

type ReplicateStatusCause string

const (
	// start
	CauseOutOfGas                ReplicateStatusCause = "OUT_OF_GAS"
	CauseTeeNotSupported         ReplicateStatusCause = "TEE_NOT_SUPPORTED"
	CauseTeePreparationFailed    ReplicateStatusCause = "TEE_PREPARATION_FAILED"
	CauseTaskDescriptionNotFound ReplicateStatusCause = "TASK_DESCRIPTION_NOT_FOUND"
	CauseTaskNotInitialized      ReplicateStatusCause = "TASK_NOT_INITIALIZED"

	// download
	CauseAppImageDownloadFailed    ReplicateStatusCause = "APP_IMAGE_DOWNLOAD_FAILED"
	CauseAppNotFoundLocally        ReplicateStatusCause = "APP_NOT_FOUND_LOCALLY"
	CauseDatasetFileDownloadFailed ReplicateStatusCause = "DATASET_FILE_DOWNLOAD_FAILED"
	CauseDatasetFileBadChecksum    ReplicateStatusCause = "DATASET_FILE_BAD_CHECKSUM"
	CauseInputFilesDownloadFailed  ReplicateStatusCause = "INPUT_FILES_DOWNLOAD_FAILED"

	// pre-compute
	CausePreComputeFailedUnknownIssue      ReplicateStatusCause = "PRE_COMPUTE_FAILED_UNKNOWN_ISSUE"
	CausePreComputeTimeout                 ReplicateStatusCause = "PRE_COMPUTE_TIMEOUT"
	CausePreComputeImageMissing            ReplicateStatusCause = "PRE_COMPUTE_IMAGE_MISSING"
	CausePreComputeExitReportingFailed     ReplicateStatusCause = "PRE_COMPUTE_EXIT_REPORTING_FAILED"
	CausePreComputeTaskIdMissing           ReplicateStatusCause = "PRE_COMPUTE_TASK_ID_MISSING"
	CausePreComputeDatasetUrlMissing       ReplicateStatusCause = "PRE_COMPUTE_DATASET_URL_MISSING"
	CausePreComputeDatasetDownloadFailed   ReplicateStatusCause = "PRE_COMPUTE_DATASET_DOWNLOAD_FAILED"
	CausePreComputeInvalidDatasetChecksum  ReplicateStatusCause = "PRE_COMPUTE_INVALID_DATASET_CHECKSUM"
	CausePreComputeInputFileDownloadFailed ReplicateStatusCause = "PRE_COMPUTE_INPUT_FILE_DOWNLOAD_FAILED"

	// app compute
	CauseAppComputeFailed  ReplicateStatusCause = "APP_COMPUTE_FAILED"
	CauseAppComputeTimeout ReplicateStatusCause = "APP_COMPUTE_TIMEOUT"

	// post-compute
	CausePostComputeFailedUnknownIssue     ReplicateStatusCause = "POST_COMPUTE_FAILED_UNKNOWN_ISSUE"
	CausePostComputeTimeout                ReplicateStatusCause = "POST_COMPUTE_TIMEOUT"
	CausePostComputeImageMissing           ReplicateStatusCause = "POST_COMPUTE_IMAGE_MISSING"
	CausePostComputeExitReportingFailed    ReplicateStatusCause = "POST_COMPUTE_EXIT_REPORTING_FAILED"
	CausePostComputeTaskIdMissing          ReplicateStatusCause = "POST_COMPUTE_TASK_ID_MISSING"
	CausePostComputeResultFileNameTooLong  ReplicateStatusCause = "POST_COMPUTE_RESULT_FILE_NAME_TOO_LONG"
	CausePostComputeComputedFileNotFound   ReplicateStatusCause = "POST_COMPUTE_COMPUTED_FILE_NOT_FOUND"
	CausePostComputeTooLongResultDigest    ReplicateStatusCause = "POST_COMPUTE_TOO_LONG_RESULT_DIGEST"
	CausePostComputeSendComputedFileFailed ReplicateStatusCause = "POST_COMPUTE_SEND_COMPUTED_FILE_FAILED"
	CauseDeterminismHashNotFound           ReplicateStatusCause = "DETERMINISM_HASH_NOT_FOUND"

	// consensus
	CauseChainReceiptNotValid     ReplicateStatusCause = "CHAIN_RECEIPT_NOT_VALID"
	CauseAuthorizationNotFound    ReplicateStatusCause = "WORKERPOOL_AUTHORIZATION_NOT_FOUND"
	CauseRevealCommitmentMismatch ReplicateStatusCause = "REVEAL_COMMITMENT_MISMATCH"
	CauseResultDigestNotFound     ReplicateStatusCause = "RESULT_DIGEST_NOT_FOUND"
	CauseResultLinkMissing        ReplicateStatusCause = "RESULT_LINK_MISSING"

	// abort
	CauseConsensusReached    ReplicateStatusCause = "CONSENSUS_REACHED"
	CauseContributionTimeout ReplicateStatusCause = "CONTRIBUTION_TIMEOUT"
	CauseAbortedByScheduler  ReplicateStatusCause = "ABORTED_BY_SCHEDULER"
)

type ChainReceipt struct {
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"txHash"`
}

type ReplicateStatusDetails struct {
	ChainReceipt      *ChainReceipt          `json:"chainReceipt,omitempty"`
	ResultLink        string                 `json:"resultLink,omitempty"`
	ChainCallbackData string                 `json:"chainCallbackData,omitempty"`
	Causes            []ReplicateStatusCause `json:"replicateStatusCauses,omitempty"`
	ExitCode          *int                   `json:"exitCode,omitempty"`
}

type ReplicateStatusUpdate struct {
	Status  ReplicateStatus         `json:"status"`
	Details *ReplicateStatusDetails `json:"details,omitempty"`
	Date    time.Time               `json:"date"`
}

func NewStatusUpdate(status ReplicateStatus, details *ReplicateStatusDetails) ReplicateStatusUpdate {
	return ReplicateStatusUpdate{Status: status, Details: details, Date: time.Now()}
}

func FailureDetails(causes ...ReplicateStatusCause) *ReplicateStatusDetails {
	return &ReplicateStatusDetails{Causes: causes}
}
