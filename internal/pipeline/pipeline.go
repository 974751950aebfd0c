package pipeline

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/lagrangedao/go-tee-worker/constants"
	"github.com/lagrangedao/go-tee-worker/internal/metrics"
	"github.com/lagrangedao/go-tee-worker/internal/models"
	"github.com/lagrangedao/go-tee-worker/internal/result"
	"github.com/lagrangedao/go-tee-worker/internal/tee"
)

type ContainerRuntime interface {
	IsImagePresent(ctx context.Context, image string) bool
	PullImage(ctx context.Context, image string, timeout time.Duration) error
	Run(ctx context.Context, spec models.ContainerSpec) (models.StageResult, error)
}

type ResultStore interface {
	TaskDir(chainTaskId string) string
	InputDir(chainTaskId string) string
	OutputDir(chainTaskId string) string
	IexecOutDir(chainTaskId string) string
	ZipPath(chainTaskId string) string
	PrepareTaskDirs(chainTaskId string) error
	GetComputedFile(chainTaskId string) (*models.ComputedFile, bool)
	SaveComputedFile(chainTaskId string, cf *models.ComputedFile) error
	ComputeResultDigest(desc *models.TaskDescription, cf *models.ComputedFile) (string, error)
}

type TeeSessions interface {
	StageContext(ctx context.Context, desc *models.TaskDescription, auth *models.WorkerpoolAuthorization) (tee.Framework, tee.StageContext, error)
}

type ExitCauses interface {
	ConsumeExitCauses(stage models.ComputeStage, chainTaskId string, fallback models.ReplicateStatusCause) []models.ReplicateStatusCause
}

// ComputeResponse is the outcome of one or several compute stages. A response
// without causes is successful.
type ComputeResponse struct {
	Stage        models.ComputeStage
	Causes       []models.ReplicateStatusCause
	ExitCode     *int
	Stdout       string
	Stderr       string
	ComputedFile *models.ComputedFile
}

func (r ComputeResponse) IsSuccessful() bool {
	return len(r.Causes) == 0
}

func failed(stage models.ComputeStage, causes ...models.ReplicateStatusCause) ComputeResponse {
	return ComputeResponse{Stage: stage, Causes: causes}
}

type Pipeline struct {
	runtime     ContainerRuntime
	results     ResultStore
	tee         TeeSessions
	exitCauses  ExitCauses
	pullTimeout *PullTimeoutPolicy
	network     string
	workerHost  string
}

func NewPipeline(runtime ContainerRuntime, results ResultStore, teeSessions TeeSessions, exitCauses ExitCauses,
	pullTimeout *PullTimeoutPolicy, network, workerHost string) *Pipeline {
	return &Pipeline{
		runtime:     runtime,
		results:     results,
		tee:         teeSessions,
		exitCauses:  exitCauses,
		pullTimeout: pullTimeout,
		network:     network,
		workerHost:  workerHost,
	}
}

// DownloadApp makes sure the app image of the task is available locally.
func (p *Pipeline) DownloadApp(ctx context.Context, desc *models.TaskDescription) bool {
	return p.ensureImage(ctx, desc.ChainTaskId, desc.AppUri, desc.MaxExecutionTime)
}

func (p *Pipeline) IsAppPresent(ctx context.Context, desc *models.TaskDescription) bool {
	return desc.AppUri != "" && p.runtime.IsImagePresent(ctx, desc.AppUri)
}

func (p *Pipeline) ensureImage(ctx context.Context, chainTaskId, image string, maxExecutionTime time.Duration) bool {
	if image == "" {
		logs.GetLogger().Errorf("Empty image, chainTaskId: %s", chainTaskId)
		return false
	}
	if p.runtime.IsImagePresent(ctx, image) {
		return true
	}
	timeout := p.pullTimeout.Timeout(maxExecutionTime)
	if err := p.runtime.PullImage(ctx, image, timeout); err != nil {
		logs.GetLogger().Errorf("Failed pull image, chainTaskId: %s, image: %s, timeout: %s, error: %+v", chainTaskId, image, timeout, err)
		return false
	}
	return true
}

// RunCompute runs pre-compute, app compute and post-compute in order and stops
// at the first failed stage. On success the computed file carries a result digest.
func (p *Pipeline) RunCompute(ctx context.Context, desc *models.TaskDescription, auth *models.WorkerpoolAuthorization) ComputeResponse {
	chainTaskId := desc.ChainTaskId
	if err := p.results.PrepareTaskDirs(chainTaskId); err != nil {
		logs.GetLogger().Errorf("Failed prepare task dirs, chainTaskId: %s, error: %+v", chainTaskId, err)
		return failed(models.AppComputeStage, models.CauseAppComputeFailed)
	}

	var framework tee.Framework
	var sc tee.StageContext
	if desc.IsTeeTask {
		var err error
		framework, sc, err = p.tee.StageContext(ctx, desc, auth)
		if err != nil {
			logs.GetLogger().Errorf("Failed get tee stage context, chainTaskId: %s, error: %+v", chainTaskId, err)
			return failed(models.PreComputeStage, models.CauseTeePreparationFailed)
		}

		if pre := p.RunPreCompute(ctx, desc, framework, sc); !pre.IsSuccessful() {
			return pre
		}
	}

	app := p.RunAppCompute(ctx, desc, framework, sc)
	if !app.IsSuccessful() {
		return app
	}

	post := p.RunPostCompute(ctx, desc, framework, sc)
	if !post.IsSuccessful() {
		return post
	}
	post.Stdout, post.Stderr, post.ExitCode = app.Stdout, app.Stderr, app.ExitCode
	return p.completeResultDigest(desc, post)
}

func (p *Pipeline) completeResultDigest(desc *models.TaskDescription, post ComputeResponse) ComputeResponse {
	chainTaskId := desc.ChainTaskId
	cf, ok := p.results.GetComputedFile(chainTaskId)
	if !ok {
		return failed(models.PostComputeStage, models.CausePostComputeComputedFileNotFound)
	}
	if cf.ResultDigest == "" {
		digest, err := p.results.ComputeResultDigest(desc, cf)
		if err != nil {
			logs.GetLogger().Errorf("Failed compute result digest, chainTaskId: %s, error: %+v", chainTaskId, err)
			return failed(models.PostComputeStage, models.CauseDeterminismHashNotFound)
		}
		cf.ResultDigest = digest
		if err = p.results.SaveComputedFile(chainTaskId, cf); err != nil {
			logs.GetLogger().Errorf("Failed save computed file, chainTaskId: %s, error: %+v", chainTaskId, err)
			return failed(models.PostComputeStage, models.CauseDeterminismHashNotFound)
		}
	}
	logs.GetLogger().Infof("Compute completed, chainTaskId: %s, resultDigest: %s", chainTaskId, cf.ResultDigest)
	post.ComputedFile = cf
	return post
}

// RunPreCompute runs the enclave pre-compute image of a TEE task. Tasks without
// dataset or input files have nothing to fetch and skip it.
func (p *Pipeline) RunPreCompute(ctx context.Context, desc *models.TaskDescription, framework tee.Framework, sc tee.StageContext) ComputeResponse {
	stage := models.PreComputeStage
	chainTaskId := desc.ChainTaskId
	if !desc.ContainsDataset() && !desc.ContainsInputFiles() {
		logs.GetLogger().Infof("No pre-compute required, chainTaskId: %s", chainTaskId)
		return ComputeResponse{Stage: stage}
	}

	props := sc.Properties.PreCompute
	if !p.ensureImage(ctx, chainTaskId, props.Image, desc.MaxExecutionTime) {
		return failed(stage, models.CausePreComputeImageMissing)
	}

	env := append(framework.PreComputeEnv(sc), p.preComputeEnv(desc)...)
	spec := models.ContainerSpec{
		Name:             containerName(chainTaskId, "pre"),
		Image:            props.Image,
		Entrypoint:       strings.Fields(props.Entrypoint),
		Env:              env,
		Binds:            []string{p.results.InputDir(chainTaskId) + ":" + constants.CONTAINER_IEXEC_IN},
		Devices:          framework.Devices(),
		Network:          p.network,
		MaxExecutionTime: desc.MaxExecutionTime,
	}
	res, err := p.runtime.Run(ctx, spec)
	return p.stageResponse(stage, chainTaskId, res, err)
}

func (p *Pipeline) preComputeEnv(desc *models.TaskDescription) []string {
	env := p.commonEnv(desc)
	env = append(env, "IEXEC_PRE_COMPUTE_OUT="+constants.CONTAINER_IEXEC_IN)
	env = append(env, "IS_DATASET_REQUIRED="+strconv.FormatBool(desc.ContainsDataset()))
	if desc.ContainsDataset() {
		env = append(env,
			"IEXEC_DATASET_ADDRESS="+desc.DatasetAddress,
			"IEXEC_DATASET_URL="+desc.DatasetUri,
			"IEXEC_DATASET_CHECKSUM="+desc.DatasetChecksum,
		)
	}
	for i, f := range desc.InputFiles {
		env = append(env, "IEXEC_INPUT_FILE_URL_"+strconv.Itoa(i+1)+"="+f)
	}
	return env
}

// RunAppCompute runs the application image with the task folders mounted.
func (p *Pipeline) RunAppCompute(ctx context.Context, desc *models.TaskDescription, framework tee.Framework, sc tee.StageContext) ComputeResponse {
	stage := models.AppComputeStage
	chainTaskId := desc.ChainTaskId

	env := p.commonEnv(desc)
	env = append(env, "IEXEC_IN="+constants.CONTAINER_IEXEC_IN, "IEXEC_OUT="+constants.CONTAINER_IEXEC_OUT)
	for i, f := range desc.InputFiles {
		env = append(env, "IEXEC_INPUT_FILE_NAME_"+strconv.Itoa(i+1)+"="+path.Base(f))
	}
	spec := models.ContainerSpec{
		Name:  containerName(chainTaskId, "app"),
		Image: desc.AppUri,
		Cmd:   strings.Fields(desc.Cmd),
		Binds: []string{
			p.results.InputDir(chainTaskId) + ":" + constants.CONTAINER_IEXEC_IN,
			p.results.IexecOutDir(chainTaskId) + ":" + constants.CONTAINER_IEXEC_OUT,
		},
		Network:          p.network,
		MaxExecutionTime: desc.MaxExecutionTime,
	}
	if desc.IsTeeTask && framework != nil {
		spec.Env = append(framework.ComputeEnv(sc), env...)
		spec.Devices = framework.Devices()
	} else {
		spec.Env = env
	}

	res, err := p.runtime.Run(ctx, spec)
	metrics.ObserveStage(string(stage), string(res.FinalStatus), res.ExecutionDuration)
	response := ComputeResponse{Stage: stage, Stdout: res.Stdout, Stderr: res.Stderr}
	exitCode := res.ExitCode
	response.ExitCode = &exitCode
	if err != nil {
		logs.GetLogger().Errorf("Failed run app container, chainTaskId: %s, error: %+v", chainTaskId, err)
		response.Causes = []models.ReplicateStatusCause{models.CauseAppComputeFailed}
		return response
	}
	switch res.FinalStatus {
	case models.StageSuccess:
		p.writeLogs(chainTaskId, res)
		logs.GetLogger().Infof("App compute succeeded, chainTaskId: %s, duration: %s", chainTaskId, res.ExecutionDuration)
	case models.StageTimeout:
		response.Causes = []models.ReplicateStatusCause{models.CauseAppComputeTimeout}
	default:
		logs.GetLogger().Warnf("App compute failed, chainTaskId: %s, exitCode: %d", chainTaskId, res.ExitCode)
		response.Causes = []models.ReplicateStatusCause{models.CauseAppComputeFailed}
	}
	return response
}

func (p *Pipeline) writeLogs(chainTaskId string, res models.StageResult) {
	outDir := p.results.OutputDir(chainTaskId)
	if err := os.WriteFile(filepath.Join(outDir, constants.STDOUT_FILE), []byte(res.Stdout), 0644); err != nil {
		logs.GetLogger().Errorf("Failed write stdout, chainTaskId: %s, error: %+v", chainTaskId, err)
	}
	if res.Stderr == "" {
		return
	}
	if err := os.WriteFile(filepath.Join(outDir, constants.STDERR_FILE), []byte(res.Stderr), 0644); err != nil {
		logs.GetLogger().Errorf("Failed write stderr, chainTaskId: %s, error: %+v", chainTaskId, err)
	}
}

// RunPostCompute seals the output of a task. Standard tasks are validated and
// zipped locally, TEE tasks run the enclave post-compute image.
func (p *Pipeline) RunPostCompute(ctx context.Context, desc *models.TaskDescription, framework tee.Framework, sc tee.StageContext) ComputeResponse {
	if desc.IsTeeTask {
		return p.runTeePostCompute(ctx, desc, framework, sc)
	}
	return p.runStandardPostCompute(desc)
}

func (p *Pipeline) runStandardPostCompute(desc *models.TaskDescription) ComputeResponse {
	stage := models.PostComputeStage
	chainTaskId := desc.ChainTaskId
	iexecOut := p.results.IexecOutDir(chainTaskId)

	if err := result.CheckResultFileNames(iexecOut); err != nil {
		logs.GetLogger().Errorf("Invalid result files, chainTaskId: %s, error: %+v", chainTaskId, err)
		if errors.Is(err, result.ErrResultFileNameTooLong) {
			return failed(stage, models.CausePostComputeResultFileNameTooLong)
		}
		return failed(stage, models.CausePostComputeFailedUnknownIssue)
	}

	cf, err := result.ReadComputedFile(iexecOut)
	if err != nil {
		logs.GetLogger().Errorf("Failed read computed file, chainTaskId: %s, error: %+v", chainTaskId, err)
		return failed(stage, models.CausePostComputeComputedFileNotFound)
	}
	if cf == nil {
		cf = &models.ComputedFile{TaskId: chainTaskId}
	}
	if err = p.results.SaveComputedFile(chainTaskId, cf); err != nil {
		logs.GetLogger().Errorf("Failed save computed file, chainTaskId: %s, error: %+v", chainTaskId, err)
		return failed(stage, models.CausePostComputeComputedFileNotFound)
	}

	if err = result.ZipDir(iexecOut, p.results.ZipPath(chainTaskId)); err != nil {
		logs.GetLogger().Errorf("Failed zip result, chainTaskId: %s, error: %+v", chainTaskId, err)
		return failed(stage, models.CausePostComputeFailedUnknownIssue)
	}
	return ComputeResponse{Stage: stage}
}

func (p *Pipeline) runTeePostCompute(ctx context.Context, desc *models.TaskDescription, framework tee.Framework, sc tee.StageContext) ComputeResponse {
	stage := models.PostComputeStage
	chainTaskId := desc.ChainTaskId
	props := sc.Properties.PostCompute
	if !p.ensureImage(ctx, chainTaskId, props.Image, desc.MaxExecutionTime) {
		return failed(stage, models.CausePostComputeImageMissing)
	}

	tmpDir := filepath.Join(p.results.TaskDir(chainTaskId), constants.TASK_TEE_POST_COMPUTE_DIR)
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		logs.GetLogger().Errorf("Failed create post-compute dir, chainTaskId: %s, error: %+v", chainTaskId, err)
		return failed(stage, models.CausePostComputeFailedUnknownIssue)
	}

	env := append(framework.PostComputeEnv(sc), p.commonEnv(desc)...)
	env = append(env,
		"RESULT_STORAGE_CALLBACK="+strconv.FormatBool(desc.IsCallbackTask()),
		"RESULT_STORAGE_PROVIDER="+desc.ResultStorageProvider,
		"RESULT_STORAGE_PROXY="+desc.ResultStorageProxy,
	)
	spec := models.ContainerSpec{
		Name:       containerName(chainTaskId, "post"),
		Image:      props.Image,
		Entrypoint: strings.Fields(props.Entrypoint),
		Env:        env,
		Binds: []string{
			p.results.IexecOutDir(chainTaskId) + ":" + constants.CONTAINER_IEXEC_OUT,
			tmpDir + ":" + constants.CONTAINER_POST_COMPUTE_OUT,
		},
		Devices:          framework.Devices(),
		Network:          p.network,
		MaxExecutionTime: desc.MaxExecutionTime,
	}
	res, err := p.runtime.Run(ctx, spec)
	response := p.stageResponse(stage, chainTaskId, res, err)
	if !response.IsSuccessful() {
		return response
	}
	if _, ok := p.results.GetComputedFile(chainTaskId); !ok {
		logs.GetLogger().Errorf("Computed file not found after post-compute, chainTaskId: %s", chainTaskId)
		return failed(stage, models.CausePostComputeComputedFileNotFound)
	}
	return response
}

// stageResponse maps the result of an enclave stage to its causes. Exit code 1
// means the enclave reported its causes through the worker API.
func (p *Pipeline) stageResponse(stage models.ComputeStage, chainTaskId string, res models.StageResult, err error) ComputeResponse {
	metrics.ObserveStage(string(stage), string(res.FinalStatus), res.ExecutionDuration)
	response := ComputeResponse{Stage: stage, Stdout: res.Stdout, Stderr: res.Stderr}
	if err != nil {
		logs.GetLogger().Errorf("Failed run %s-compute container, chainTaskId: %s, error: %+v", stage, chainTaskId, err)
		response.Causes = []models.ReplicateStatusCause{unknownCause(stage)}
		return response
	}
	if res.IsSuccessful() {
		return response
	}

	exitCode := res.ExitCode
	response.ExitCode = &exitCode
	response.Causes = p.failureCauses(stage, chainTaskId, res)
	logs.GetLogger().Warnf("%s-compute failed, chainTaskId: %s, status: %s, exitCode: %d, causes: %v",
		stage, chainTaskId, res.FinalStatus, res.ExitCode, response.Causes)
	return response
}

func (p *Pipeline) failureCauses(stage models.ComputeStage, chainTaskId string, res models.StageResult) []models.ReplicateStatusCause {
	if res.FinalStatus == models.StageTimeout {
		return []models.ReplicateStatusCause{timeoutCause(stage)}
	}
	switch res.ExitCode {
	case 1:
		return p.exitCauses.ConsumeExitCauses(stage, chainTaskId, unknownCause(stage))
	case 2:
		return []models.ReplicateStatusCause{exitReportingFailedCause(stage)}
	case 3:
		return []models.ReplicateStatusCause{taskIdMissingCause(stage)}
	}
	return []models.ReplicateStatusCause{unknownCause(stage)}
}

func (p *Pipeline) commonEnv(desc *models.TaskDescription) []string {
	env := []string{
		"IEXEC_TASK_ID=" + desc.ChainTaskId,
		"IEXEC_BOT_SIZE=" + strconv.FormatInt(desc.BotSize, 10),
		"IEXEC_BOT_TASK_INDEX=" + strconv.FormatInt(desc.BotIndex, 10),
		"IEXEC_INPUT_FILES_NUMBER=" + strconv.Itoa(len(desc.InputFiles)),
	}
	if desc.ContainsDataset() {
		env = append(env, "IEXEC_DATASET_FILENAME="+desc.DatasetName)
	}
	if p.workerHost != "" {
		env = append(env, "WORKER_HOST="+p.workerHost)
	}
	return env
}

func containerName(chainTaskId, stage string) string {
	return constants.WORKER_CONTAINER_PREFIX + chainTaskId + "-" + stage
}

func timeoutCause(stage models.ComputeStage) models.ReplicateStatusCause {
	if stage == models.PreComputeStage {
		return models.CausePreComputeTimeout
	}
	return models.CausePostComputeTimeout
}

func unknownCause(stage models.ComputeStage) models.ReplicateStatusCause {
	if stage == models.PreComputeStage {
		return models.CausePreComputeFailedUnknownIssue
	}
	return models.CausePostComputeFailedUnknownIssue
}

func exitReportingFailedCause(stage models.ComputeStage) models.ReplicateStatusCause {
	if stage == models.PreComputeStage {
		return models.CausePreComputeExitReportingFailed
	}
	return models.CausePostComputeExitReportingFailed
}

func taskIdMissingCause(stage models.ComputeStage) models.ReplicateStatusCause {
	if stage == models.PreComputeStage {
		return models.CausePreComputeTaskIdMissing
	}
	return models.CausePostComputeTaskIdMissing
}
