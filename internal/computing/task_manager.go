package computing

import (
	"context"
	"sync"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/lagrangedao/go-tee-worker/internal/consensus"
	"github.com/lagrangedao/go-tee-worker/internal/models"
	"github.com/lagrangedao/go-tee-worker/internal/pipeline"
)

type ChainService interface {
	GetChainTask(ctx context.Context, chainTaskId string) (*models.ChainTask, error)
	GetTaskDescription(ctx context.Context, chainTaskId string) (*models.TaskDescription, error)
	GetLatestBlockNumber(ctx context.Context) (uint64, error)
	HasEnoughGas(ctx context.Context) bool
	Contribute(ctx context.Context, auth *models.WorkerpoolAuthorization, resultHash, resultSeal, enclaveChallenge, enclaveSignature string) (*models.ChainReceipt, error)
	Reveal(ctx context.Context, chainTaskId, resultDigest string) (*models.ChainReceipt, error)
}

type ComputeRunner interface {
	IsAppPresent(ctx context.Context, desc *models.TaskDescription) bool
	DownloadApp(ctx context.Context, desc *models.TaskDescription) bool
	RunCompute(ctx context.Context, desc *models.TaskDescription, auth *models.WorkerpoolAuthorization) pipeline.ComputeResponse
}

type DataDownloader interface {
	DownloadData(ctx context.Context, desc *models.TaskDescription, inputDir string) models.ReplicateStatusCause
}

type ResultService interface {
	InputDir(chainTaskId string) string
	PrepareTaskDirs(chainTaskId string) error
	RemoveTaskDir(chainTaskId string) error
	GetComputedFile(chainTaskId string) (*models.ComputedFile, bool)
	GetResultDigest(chainTaskId string) (string, bool)
	UploadResult(ctx context.Context, desc *models.TaskDescription) (*models.ReplicateStatusDetails, error)
	Purge(chainTaskId string)
}

type EligibilityChecker interface {
	CheckContribute(ctx context.Context, chainTaskId string) consensus.ContributeCheck
	CheckReveal(ctx context.Context, chainTaskId string) consensus.RevealCheck
}

type AuthorizationService interface {
	PutAuthorization(ctx context.Context, auth *models.WorkerpoolAuthorization) bool
	GetAuthorization(chainTaskId string) (*models.WorkerpoolAuthorization, bool)
	Purge(chainTaskId string)
}

type TeeService interface {
	PrepareForTask(ctx context.Context, desc *models.TaskDescription, smsUrl string) error
	Purge(chainTaskId string)
}

type ExitCausePurger interface {
	Purge(chainTaskId string)
}

type ContainerStopper interface {
	StopContainersMatching(ctx context.Context, pattern string) int
}

// ActionResult is the local outcome of one notification. Only reported
// results are sent to the scheduler.
type ActionResult struct {
	Report  bool
	Status  models.ReplicateStatus
	Details *models.ReplicateStatusDetails
}

func reported(status models.ReplicateStatus, details *models.ReplicateStatusDetails) ActionResult {
	return ActionResult{Report: true, Status: status, Details: details}
}

func failure(status models.ReplicateStatus, causes ...models.ReplicateStatusCause) ActionResult {
	return reported(status, models.FailureDetails(causes...))
}

func notReported() ActionResult {
	return ActionResult{}
}

// TaskManager executes the local action behind each notification type.
type TaskManager struct {
	workerWallet string
	teeEnabled   bool

	chain          ChainService
	compute        ComputeRunner
	downloader     DataDownloader
	results        ResultService
	eligibility    EligibilityChecker
	authorizations AuthorizationService
	tee            TeeService
	exitCauses     ExitCausePurger
	containers     ContainerStopper

	descriptions sync.Map // chainTaskId -> *models.TaskDescription
	smsUrls      sync.Map // chainTaskId -> string
}

type TaskManagerDeps struct {
	Chain          ChainService
	Compute        ComputeRunner
	Downloader     DataDownloader
	Results        ResultService
	Eligibility    EligibilityChecker
	Authorizations AuthorizationService
	Tee            TeeService
	ExitCauses     ExitCausePurger
	Containers     ContainerStopper
}

func NewTaskManager(workerWallet string, teeEnabled bool, deps TaskManagerDeps) *TaskManager {
	return &TaskManager{
		workerWallet:   workerWallet,
		teeEnabled:     teeEnabled,
		chain:          deps.Chain,
		compute:        deps.Compute,
		downloader:     deps.Downloader,
		results:        deps.Results,
		eligibility:    deps.Eligibility,
		authorizations: deps.Authorizations,
		tee:            deps.Tee,
		exitCauses:     deps.ExitCauses,
		containers:     deps.Containers,
	}
}

func (m *TaskManager) taskDescription(ctx context.Context, chainTaskId string) (*models.TaskDescription, bool) {
	if v, ok := m.descriptions.Load(chainTaskId); ok {
		return v.(*models.TaskDescription), true
	}
	desc, err := m.chain.GetTaskDescription(ctx, chainTaskId)
	if err != nil {
		logs.GetLogger().Errorf("Failed get task description, chainTaskId: %s, error: %+v", chainTaskId, err)
		return nil, false
	}
	if desc == nil {
		return nil, false
	}
	if v, ok := m.smsUrls.Load(chainTaskId); ok && desc.SmsUrl == "" {
		desc.SmsUrl = v.(string)
	}
	actual, _ := m.descriptions.LoadOrStore(chainTaskId, desc)
	return actual.(*models.TaskDescription), true
}

// SetSmsUrl records the SMS of a task as received from the scheduler. The
// chain does not carry it, so a reloaded description picks it up from here.
func (m *TaskManager) SetSmsUrl(chainTaskId, smsUrl string) {
	if smsUrl == "" {
		return
	}
	m.smsUrls.Store(chainTaskId, smsUrl)
	if v, ok := m.descriptions.Load(chainTaskId); ok {
		v.(*models.TaskDescription).SmsUrl = smsUrl
	}
}

func (m *TaskManager) IsTeeTask(chainTaskId string) bool {
	v, ok := m.descriptions.Load(chainTaskId)
	return ok && v.(*models.TaskDescription).IsTeeTask
}

// IsTaskInitialized reports whether the task exists on chain and is active.
func (m *TaskManager) IsTaskInitialized(ctx context.Context, chainTaskId string) bool {
	task, err := m.chain.GetChainTask(ctx, chainTaskId)
	if err != nil {
		logs.GetLogger().Errorf("Failed get chain task, chainTaskId: %s, error: %+v", chainTaskId, err)
		return false
	}
	return task != nil && task.Status != models.ChainTaskUnset
}

// Start checks the task can run on this worker. A task missing on chain is
// a local failure and nothing is reported.
func (m *TaskManager) Start(ctx context.Context, chainTaskId, smsUrl string) ActionResult {
	m.SetSmsUrl(chainTaskId, smsUrl)
	if !m.IsTaskInitialized(ctx, chainTaskId) {
		logs.GetLogger().Warnf("Task not initialized on chain, chainTaskId: %s", chainTaskId)
		return notReported()
	}
	desc, ok := m.taskDescription(ctx, chainTaskId)
	if !ok {
		return failure(models.ReplicateStartFailed, models.CauseTaskDescriptionNotFound)
	}
	if !m.chain.HasEnoughGas(ctx) {
		return failure(models.ReplicateStartFailed, models.CauseOutOfGas)
	}
	if desc.IsTeeTask {
		if !m.teeEnabled {
			return failure(models.ReplicateStartFailed, models.CauseTeeNotSupported)
		}
		if err := m.tee.PrepareForTask(ctx, desc, desc.SmsUrl); err != nil {
			logs.GetLogger().Errorf("Failed prepare tee, chainTaskId: %s, error: %+v", chainTaskId, err)
			return failure(models.ReplicateStartFailed, models.CauseTeePreparationFailed)
		}
	}
	if err := m.results.PrepareTaskDirs(chainTaskId); err != nil {
		logs.GetLogger().Errorf("Failed prepare task dirs, chainTaskId: %s, error: %+v", chainTaskId, err)
		return failure(models.ReplicateStartFailed, models.CauseTaskDescriptionNotFound)
	}
	return reported(models.ReplicateStarted, nil)
}

func (m *TaskManager) DownloadApp(ctx context.Context, chainTaskId string) ActionResult {
	desc, ok := m.taskDescription(ctx, chainTaskId)
	if !ok {
		return failure(models.ReplicateAppDownloadFailed, models.CauseTaskDescriptionNotFound)
	}
	if !m.compute.DownloadApp(ctx, desc) {
		return failure(models.ReplicateAppDownloadFailed, models.CauseAppImageDownloadFailed)
	}
	return reported(models.ReplicateAppDownloaded, nil)
}

// DownloadData fetches dataset and input files. TEE tasks fetch them in pre-compute.
func (m *TaskManager) DownloadData(ctx context.Context, chainTaskId string) ActionResult {
	desc, ok := m.taskDescription(ctx, chainTaskId)
	if !ok {
		return failure(models.ReplicateDataDownloadFailed, models.CauseTaskDescriptionNotFound)
	}
	if desc.IsTeeTask || (!desc.ContainsDataset() && !desc.ContainsInputFiles()) {
		return reported(models.ReplicateDataDownloaded, nil)
	}
	if cause := m.downloader.DownloadData(ctx, desc, m.results.InputDir(chainTaskId)); cause != "" {
		return failure(models.ReplicateDataDownloadFailed, cause)
	}
	return reported(models.ReplicateDataDownloaded, nil)
}

func (m *TaskManager) Compute(ctx context.Context, chainTaskId string) ActionResult {
	desc, ok := m.taskDescription(ctx, chainTaskId)
	if !ok {
		return failure(models.ReplicateComputeFailed, models.CauseTaskDescriptionNotFound)
	}
	if !m.compute.IsAppPresent(ctx, desc) {
		return failure(models.ReplicateComputeFailed, models.CauseAppNotFoundLocally)
	}
	auth, _ := m.authorizations.GetAuthorization(chainTaskId)
	if desc.IsTeeTask && auth == nil {
		return failure(models.ReplicateComputeFailed, models.CauseAuthorizationNotFound)
	}

	response := m.compute.RunCompute(ctx, desc, auth)
	if !response.IsSuccessful() {
		details := models.FailureDetails(response.Causes...)
		details.ExitCode = response.ExitCode
		return reported(models.ReplicateComputeFailed, details)
	}
	return reported(models.ReplicateComputed, nil)
}

// Contribute commits the result on chain. An ineligible task is left waiting
// and nothing is reported.
func (m *TaskManager) Contribute(ctx context.Context, chainTaskId string) ActionResult {
	digest, ok := m.results.GetResultDigest(chainTaskId)
	if !ok {
		return failure(models.ReplicateContributeFailed, models.CauseDeterminismHashNotFound)
	}
	desc, ok := m.taskDescription(ctx, chainTaskId)
	if !ok {
		return failure(models.ReplicateContributeFailed, models.CauseTaskDescriptionNotFound)
	}
	if !m.eligibility.CheckContribute(ctx, chainTaskId).CanContribute() {
		return notReported()
	}
	auth, ok := m.authorizations.GetAuthorization(chainTaskId)
	if !ok {
		return failure(models.ReplicateContributeFailed, models.CauseAuthorizationNotFound)
	}
	if !m.chain.HasEnoughGas(ctx) {
		return failure(models.ReplicateContributeFailed, models.CauseOutOfGas)
	}

	enclaveChallenge, enclaveSignature := models.ZeroAddress, ""
	if desc.IsTeeTask {
		enclaveChallenge = auth.EnclaveChallenge
		if cf, ok := m.results.GetComputedFile(chainTaskId); ok {
			enclaveSignature = cf.EnclaveSignature
		}
	}
	resultHash := consensus.ComputeResultHash(chainTaskId, digest)
	resultSeal := consensus.ComputeResultSeal(m.workerWallet, chainTaskId, digest)

	receipt, err := m.chain.Contribute(ctx, auth, resultHash, resultSeal, enclaveChallenge, enclaveSignature)
	if err != nil {
		logs.GetLogger().Errorf("Failed contribute, chainTaskId: %s, error: %+v", chainTaskId, err)
		return failure(models.ReplicateContributeFailed, models.CauseChainReceiptNotValid)
	}
	return reported(models.ReplicateContributed, &models.ReplicateStatusDetails{ChainReceipt: receipt})
}

// Reveal publishes the digest. A local commitment mismatch fails the task.
func (m *TaskManager) Reveal(ctx context.Context, chainTaskId string) ActionResult {
	check := m.eligibility.CheckReveal(ctx, chainTaskId)
	if check.IsCommitmentMismatch() {
		if !check.ResultDigestFound {
			return failure(models.ReplicateRevealFailed, models.CauseResultDigestNotFound)
		}
		return failure(models.ReplicateRevealFailed, models.CauseRevealCommitmentMismatch)
	}
	if !check.CanReveal() {
		return notReported()
	}
	digest, _ := m.results.GetResultDigest(chainTaskId)

	receipt, err := m.chain.Reveal(ctx, chainTaskId, digest)
	if err != nil {
		logs.GetLogger().Errorf("Failed reveal, chainTaskId: %s, error: %+v", chainTaskId, err)
		return failure(models.ReplicateRevealFailed, models.CauseChainReceiptNotValid)
	}
	return reported(models.ReplicateRevealed, &models.ReplicateStatusDetails{ChainReceipt: receipt})
}

func (m *TaskManager) Upload(ctx context.Context, chainTaskId string) ActionResult {
	desc, ok := m.taskDescription(ctx, chainTaskId)
	if !ok {
		return failure(models.ReplicateResultUploadFailed, models.CauseTaskDescriptionNotFound)
	}
	details, err := m.results.UploadResult(ctx, desc)
	if err != nil {
		logs.GetLogger().Errorf("Failed upload result, chainTaskId: %s, error: %+v", chainTaskId, err)
		return failure(models.ReplicateResultUploadFailed, models.CauseResultLinkMissing)
	}
	if details.ResultLink == "" && details.ChainCallbackData == "" {
		return failure(models.ReplicateResultUploadFailed, models.CauseResultLinkMissing)
	}
	return reported(models.ReplicateResultUploaded, details)
}

// Complete removes the task folder and every cached item of the task.
func (m *TaskManager) Complete(ctx context.Context, chainTaskId string) ActionResult {
	m.purge(chainTaskId)
	if err := m.results.RemoveTaskDir(chainTaskId); err != nil {
		logs.GetLogger().Errorf("Failed remove task dir, chainTaskId: %s, error: %+v", chainTaskId, err)
		return failure(models.ReplicateCompleteFailed)
	}
	return reported(models.ReplicateCompleted, nil)
}

// StopTask kills the containers of a task, whatever stage is running.
func (m *TaskManager) StopTask(ctx context.Context, chainTaskId string) bool {
	remaining := m.containers.StopContainersMatching(ctx, chainTaskId)
	if remaining != 0 {
		logs.GetLogger().Warnf("Task containers still present after stop, chainTaskId: %s, remaining: %d", chainTaskId, remaining)
		return false
	}
	return true
}

func (m *TaskManager) Abort(ctx context.Context, chainTaskId string, cause models.ReplicateStatusCause) ActionResult {
	m.StopTask(ctx, chainTaskId)
	m.purge(chainTaskId)
	if err := m.results.RemoveTaskDir(chainTaskId); err != nil {
		logs.GetLogger().Errorf("Failed remove task dir, chainTaskId: %s, error: %+v", chainTaskId, err)
	}
	return failure(models.ReplicateAborted, cause)
}

func (m *TaskManager) purge(chainTaskId string) {
	m.authorizations.Purge(chainTaskId)
	m.tee.Purge(chainTaskId)
	m.exitCauses.Purge(chainTaskId)
	m.results.Purge(chainTaskId)
	m.descriptions.Delete(chainTaskId)
	m.smsUrls.Delete(chainTaskId)
}
