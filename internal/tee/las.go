package tee

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/google/uuid"
	"github.com/lagrangedao/go-tee-worker/constants"
	"github.com/lagrangedao/go-tee-worker/internal/models"
)

const (
	lasPort        = 18766
	lasPullTimeout = 10 * time.Minute
)

type ContainerRuntime interface {
	IsImagePresent(ctx context.Context, image string) bool
	PullImage(ctx context.Context, image string, timeout time.Duration) error
	Run(ctx context.Context, spec models.ContainerSpec) (models.StageResult, error)
	RemoveContainer(ctx context.Context, name string)
	IsContainerRunning(ctx context.Context, name string) bool
}

// LasService is the local attestation service container for one image.
type LasService struct {
	image         string
	containerName string
	network       string
	devices       []string
	runtime       ContainerRuntime

	mu      sync.Mutex
	started bool
}

func newLasService(image, network string, devices []string, runtime ContainerRuntime) *LasService {
	return &LasService{
		image:         image,
		containerName: constants.LAS_CONTAINER_PREFIX + uuid.NewString()[:8],
		network:       network,
		devices:       devices,
		runtime:       runtime,
	}
}

func (l *LasService) Image() string {
	return l.image
}

func (l *LasService) Url() string {
	return fmt.Sprintf("%s:%d", l.containerName, lasPort)
}

func (l *LasService) IsStarted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started
}

// Start pulls and runs the LAS container once. Concurrent callers wait for the
// first start. A LAS container that died is started again.
func (l *LasService) Start(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		if l.runtime.IsContainerRunning(ctx, l.containerName) {
			return true
		}
		logs.GetLogger().Warnf("LAS is not running anymore, restarting, image: %s, container: %s", l.image, l.containerName)
		l.runtime.RemoveContainer(ctx, l.containerName)
		l.started = false
	}

	if !l.runtime.IsImagePresent(ctx, l.image) {
		if err := l.runtime.PullImage(ctx, l.image, lasPullTimeout); err != nil {
			logs.GetLogger().Errorf("Failed pull LAS image, image: %s, error: %+v", l.image, err)
			return false
		}
	}
	result, err := l.runtime.Run(ctx, models.ContainerSpec{
		Name:     l.containerName,
		Image:    l.image,
		Devices:  l.devices,
		Network:  l.network,
		Detached: true,
	})
	if err != nil || !result.IsSuccessful() {
		logs.GetLogger().Errorf("Failed start LAS, image: %s, error: %v", l.image, err)
		return false
	}
	l.started = true
	logs.GetLogger().Infof("Started LAS, image: %s, container: %s", l.image, l.containerName)
	return true
}

func (l *LasService) Stop(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		return
	}
	l.runtime.RemoveContainer(ctx, l.containerName)
	l.started = false
}

// LasRegistry holds one LasService per image.
type LasRegistry struct {
	network string
	devices []string
	runtime ContainerRuntime

	services sync.Map // image -> *LasService
}

func NewLasRegistry(network string, devices []string, runtime ContainerRuntime) *LasRegistry {
	return &LasRegistry{network: network, devices: devices, runtime: runtime}
}

func (r *LasRegistry) GetOrCreate(image string) *LasService {
	key := strings.TrimSpace(image)
	if v, ok := r.services.Load(key); ok {
		return v.(*LasService)
	}
	v, _ := r.services.LoadOrStore(key, newLasService(key, r.network, r.devices, r.runtime))
	return v.(*LasService)
}

func (r *LasRegistry) StopAll(ctx context.Context) {
	r.services.Range(func(_, v any) bool {
		v.(*LasService).Stop(ctx)
		return true
	})
}
