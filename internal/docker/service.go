package docker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/lagrangedao/go-tee-worker/internal/models"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	stopGracePeriod = 10 // seconds
	maxLogBytes     = 64 * 1024
)

var ErrImagePull = errors.New("image pull failed")

// engine is the subset of the docker engine API the worker uses.
type engine interface {
	ImagePull(ctx context.Context, ref string, options types.ImagePullOptions) (io.ReadCloser, error)
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ImagesPrune(ctx context.Context, pruneFilter filters.Args) (types.ImagesPruneReport, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options types.ContainerLogsOptions) (io.ReadCloser, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
	ContainerList(ctx context.Context, options types.ContainerListOptions) ([]types.Container, error)
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	Info(ctx context.Context) (types.Info, error)
}

type Service struct {
	c       engine
	network string
}

func NewService(host, networkName string) (*Service, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed create docker client, error: %w", err)
	}
	return &Service{c: cli, network: networkName}, nil
}

func (ds *Service) IsImagePresent(ctx context.Context, image string) bool {
	_, _, err := ds.c.ImageInspectWithRaw(ctx, image)
	if err != nil {
		if !client.IsErrNotFound(err) {
			logs.GetLogger().Errorf("Failed inspect image, image: %s, error: %+v", image, err)
		}
		return false
	}
	return true
}

type errorLine struct {
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

// PullImage pulls image and waits for the progress stream to end, bounded by timeout.
func (ds *Service) PullImage(ctx context.Context, image string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	rd, err := ds.c.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("%w: image: %s, error: %v", ErrImagePull, image, err)
	}
	defer rd.Close()

	if err = readProgress(rd); err != nil {
		return fmt.Errorf("%w: image: %s, error: %v", ErrImagePull, image, err)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: image: %s, error: %v", ErrImagePull, image, ctx.Err())
	}
	logs.GetLogger().Infof("Pulled image, image: %s, elapsed: %s", image, time.Since(start).Round(time.Second))
	return nil
}

func readProgress(rd io.Reader) error {
	var lastLine string
	scanner := bufio.NewScanner(rd)
	for scanner.Scan() {
		lastLine = scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	errLine := &errorLine{}
	_ = json.Unmarshal([]byte(lastLine), errLine)
	if errLine.Error != "" {
		return errors.New(errLine.Error)
	}
	return nil
}

// Run creates and starts the container described by spec. Non detached runs
// wait for the exit, bounded by spec.MaxExecutionTime, and remove the container.
func (ds *Service) Run(ctx context.Context, spec models.ContainerSpec) (models.StageResult, error) {
	ds.removeIfExists(ctx, spec.Name)

	id, err := ds.create(ctx, spec)
	if err != nil {
		return models.StageResult{FinalStatus: models.StageFailed}, err
	}
	start := time.Now()
	if err = ds.c.ContainerStart(ctx, id, types.ContainerStartOptions{}); err != nil {
		ds.remove(context.Background(), id)
		return models.StageResult{FinalStatus: models.StageFailed}, fmt.Errorf("failed start container, name: %s, error: %w", spec.Name, err)
	}
	logs.GetLogger().Infof("Started container, name: %s, image: %s", spec.Name, spec.Image)
	if spec.Detached {
		return models.StageResult{FinalStatus: models.StageSuccess}, nil
	}

	waitCtx := ctx
	if spec.MaxExecutionTime > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, spec.MaxExecutionTime)
		defer cancel()
	}

	result := models.StageResult{FinalStatus: models.StageFailed, ExitCode: -1}
	statusCh, errCh := ds.c.ContainerWait(waitCtx, id, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		result.ExitCode = int(status.StatusCode)
		if status.StatusCode == 0 {
			result.FinalStatus = models.StageSuccess
		}
	case err = <-errCh:
		if waitCtx.Err() == context.DeadlineExceeded {
			result.FinalStatus = models.StageTimeout
		}
	case <-waitCtx.Done():
		if waitCtx.Err() == context.DeadlineExceeded {
			result.FinalStatus = models.StageTimeout
		}
	}
	result.ExecutionDuration = time.Since(start)

	if result.FinalStatus == models.StageTimeout {
		logs.GetLogger().Warnf("Container exceeded max execution time, name: %s, maxExecutionTime: %s", spec.Name, spec.MaxExecutionTime)
		ds.stop(context.Background(), id)
	} else if err != nil {
		logs.GetLogger().Errorf("Failed wait container, name: %s, error: %+v", spec.Name, err)
	}

	result.Stdout, result.Stderr = ds.readLogs(context.Background(), id)
	ds.remove(context.Background(), id)
	return result, nil
}

func (ds *Service) create(ctx context.Context, spec models.ContainerSpec) (string, error) {
	cfg := &container.Config{
		Image: spec.Image,
		Env:   spec.Env,
	}
	if len(spec.Entrypoint) > 0 {
		cfg.Entrypoint = spec.Entrypoint
	}
	if len(spec.Cmd) > 0 {
		cfg.Cmd = spec.Cmd
	}

	hostCfg := &container.HostConfig{Binds: spec.Binds}
	for _, d := range spec.Devices {
		hostCfg.Devices = append(hostCfg.Devices, container.DeviceMapping{
			PathOnHost:        d,
			PathInContainer:   d,
			CgroupPermissions: "rwm",
		})
	}
	networkName := spec.Network
	if networkName == "" {
		networkName = ds.network
	}
	if networkName != "" {
		hostCfg.NetworkMode = container.NetworkMode(networkName)
	}

	resp, err := ds.c.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed create container, name: %s, image: %s, error: %w", spec.Name, spec.Image, err)
	}
	for _, w := range resp.Warnings {
		logs.GetLogger().Warnf("Container create warning, name: %s, warning: %s", spec.Name, w)
	}
	return resp.ID, nil
}

func (ds *Service) readLogs(ctx context.Context, id string) (string, string) {
	rd, err := ds.c.ContainerLogs(ctx, id, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		logs.GetLogger().Errorf("Failed read container logs, id: %s, error: %+v", id, err)
		return "", ""
	}
	defer rd.Close()

	var stdout, stderr bytes.Buffer
	if _, err = stdcopy.StdCopy(&stdout, &stderr, rd); err != nil {
		logs.GetLogger().Errorf("Failed demux container logs, id: %s, error: %+v", id, err)
	}
	return sanitizeLogs(stdout.String()), sanitizeLogs(stderr.String())
}

func sanitizeLogs(s string) string {
	s = stripansi.Strip(s)
	if len(s) > maxLogBytes {
		s = s[len(s)-maxLogBytes:]
	}
	return s
}

func (ds *Service) IsContainerRunning(ctx context.Context, name string) bool {
	info, err := ds.c.ContainerInspect(ctx, name)
	if err != nil {
		return false
	}
	return info.State != nil && info.State.Running
}

// StopContainersMatching stops and removes every container whose name contains
// pattern and returns how many matching containers remain.
func (ds *Service) StopContainersMatching(ctx context.Context, pattern string) int {
	matching, err := ds.listMatching(ctx, pattern)
	if err != nil {
		logs.GetLogger().Errorf("Failed list containers, pattern: %s, error: %+v", pattern, err)
		return -1
	}
	if len(matching) == 0 {
		return 0
	}
	for _, id := range matching {
		ds.stop(ctx, id)
		ds.remove(ctx, id)
	}

	remaining, err := ds.listMatching(ctx, pattern)
	if err != nil {
		logs.GetLogger().Errorf("Failed list containers, pattern: %s, error: %+v", pattern, err)
		return -1
	}
	logs.GetLogger().Infof("Stopped containers, pattern: %s, stopped: %d, remaining: %d", pattern, len(matching)-len(remaining), len(remaining))
	return len(remaining)
}

func (ds *Service) listMatching(ctx context.Context, pattern string) ([]string, error) {
	list, err := ds.c.ContainerList(ctx, types.ContainerListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", pattern)),
	})
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, c := range list {
		if nameContains(c.Names, pattern) {
			ids = append(ids, c.ID)
		}
	}
	return ids, nil
}

func nameContains(names []string, pattern string) bool {
	for _, n := range names {
		if strings.Contains(strings.TrimPrefix(n, "/"), pattern) {
			return true
		}
	}
	return false
}

func (ds *Service) RemoveContainer(ctx context.Context, name string) {
	ds.stop(ctx, name)
	ds.remove(ctx, name)
}

func (ds *Service) removeIfExists(ctx context.Context, name string) {
	if _, err := ds.c.ContainerInspect(ctx, name); err == nil {
		logs.GetLogger().Warnf("Removing stale container, name: %s", name)
		ds.RemoveContainer(ctx, name)
	}
}

func (ds *Service) stop(ctx context.Context, id string) {
	timeout := stopGracePeriod
	if err := ds.c.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil && !client.IsErrNotFound(err) {
		logs.GetLogger().Errorf("Failed stop container, id: %s, error: %+v", id, err)
	}
}

func (ds *Service) remove(ctx context.Context, id string) {
	if err := ds.c.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		logs.GetLogger().Errorf("Failed remove container, id: %s, error: %+v", id, err)
	}
}

// Resources returns the cpu count and memory (MB) of the docker host.
func (ds *Service) Resources(ctx context.Context) (int, int, error) {
	info, err := ds.c.Info(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed get docker info, error: %w", err)
	}
	return info.NCPU, int(info.MemTotal / (1024 * 1024)), nil
}

// CleanResource prunes dangling images.
func (ds *Service) CleanResource(ctx context.Context) {
	danglingFilters := filters.NewArgs()
	danglingFilters.Add("dangling", "true")
	if _, err := ds.c.ImagesPrune(ctx, danglingFilters); err != nil {
		logs.GetLogger().Errorf("Failed delete dangling image, error: %+v", err)
	}
}
