package result

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/lagrangedao/go-tee-worker/constants"
	"github.com/lagrangedao/go-tee-worker/internal/models"
)

var (
	ErrComputedFileNotFound = errors.New("computed file not found")
	ErrEmptyResultDigest    = errors.New("empty result digest")
)

// Service owns the per-task folders and the computed descriptors.
type Service struct {
	baseDir  string
	proxyUrl string
	uploader Uploader

	computed sync.Map // chainTaskId -> *models.ComputedFile
}

func NewService(baseDir, proxyUrl string, uploader Uploader) *Service {
	return &Service{
		baseDir:  baseDir,
		proxyUrl: strings.TrimRight(proxyUrl, "/"),
		uploader: uploader,
	}
}

func (s *Service) TaskDir(chainTaskId string) string {
	return filepath.Join(s.baseDir, chainTaskId)
}

func (s *Service) InputDir(chainTaskId string) string {
	return filepath.Join(s.TaskDir(chainTaskId), constants.TASK_INPUT_DIR)
}

func (s *Service) OutputDir(chainTaskId string) string {
	return filepath.Join(s.TaskDir(chainTaskId), constants.TASK_OUTPUT_DIR)
}

func (s *Service) IexecOutDir(chainTaskId string) string {
	return filepath.Join(s.OutputDir(chainTaskId), constants.TASK_IEXEC_OUT_DIR)
}

func (s *Service) ZipPath(chainTaskId string) string {
	return filepath.Join(s.OutputDir(chainTaskId), constants.RESULT_ZIP_FILE)
}

func (s *Service) PrepareTaskDirs(chainTaskId string) error {
	for _, dir := range []string{s.InputDir(chainTaskId), s.IexecOutDir(chainTaskId)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed create task dir, chainTaskId: %s, error: %w", chainTaskId, err)
		}
	}
	return nil
}

func (s *Service) RemoveTaskDir(chainTaskId string) error {
	if strings.TrimSpace(chainTaskId) == "" {
		return fmt.Errorf("empty chainTaskId")
	}
	return os.RemoveAll(s.TaskDir(chainTaskId))
}

// SaveComputedFile caches cf and persists it to the task output folder.
func (s *Service) SaveComputedFile(chainTaskId string, cf *models.ComputedFile) error {
	if cf == nil {
		return ErrComputedFileNotFound
	}
	if cf.TaskId != "" && !strings.EqualFold(cf.TaskId, chainTaskId) {
		return fmt.Errorf("computed file task-id %s does not match %s", cf.TaskId, chainTaskId)
	}
	cf.TaskId = chainTaskId
	if err := WriteComputedFile(s.OutputDir(chainTaskId), cf); err != nil {
		return fmt.Errorf("failed persist computed file, chainTaskId: %s, error: %w", chainTaskId, err)
	}
	copied := *cf
	s.computed.Store(chainTaskId, &copied)
	return nil
}

// GetComputedFile looks in the cache, then the output folder, then the app's iexec_out.
func (s *Service) GetComputedFile(chainTaskId string) (*models.ComputedFile, bool) {
	if v, ok := s.computed.Load(chainTaskId); ok {
		cf := *v.(*models.ComputedFile)
		return &cf, true
	}
	for _, dir := range []string{s.OutputDir(chainTaskId), s.IexecOutDir(chainTaskId)} {
		cf, err := ReadComputedFile(dir)
		if err != nil {
			logs.GetLogger().Errorf("Failed read computed file, chainTaskId: %s, error: %+v", chainTaskId, err)
			continue
		}
		if cf != nil {
			s.computed.Store(chainTaskId, cf)
			copied := *cf
			return &copied, true
		}
	}
	return nil, false
}

func (s *Service) GetResultDigest(chainTaskId string) (string, bool) {
	cf, ok := s.GetComputedFile(chainTaskId)
	if !ok || cf.ResultDigest == "" {
		return "", false
	}
	return cf.ResultDigest, true
}

// ComputeResultDigest returns the digest for a task whose descriptor lacks one.
func (s *Service) ComputeResultDigest(desc *models.TaskDescription, cf *models.ComputedFile) (string, error) {
	var digest string
	if desc.IsCallbackTask() {
		digest = ComputeWeb3ResultDigest(cf.CallbackData)
	} else {
		path := s.IexecOutDir(desc.ChainTaskId)
		if cf.DeterministicOutputPath != "" {
			path = filepath.Join(path, filepath.Clean("/"+strings.TrimPrefix(cf.DeterministicOutputPath, constants.CONTAINER_IEXEC_OUT)))
		}
		var err error
		if digest, err = ComputeWeb2ResultDigest(path); err != nil {
			return "", err
		}
	}
	if digest == "" {
		return "", ErrEmptyResultDigest
	}
	return digest, nil
}

// UploadResult applies the upload policy and returns the result link, or the
// callback data for callback tasks.
func (s *Service) UploadResult(ctx context.Context, desc *models.TaskDescription) (*models.ReplicateStatusDetails, error) {
	chainTaskId := desc.ChainTaskId
	cf, ok := s.GetComputedFile(chainTaskId)
	if !ok {
		return nil, ErrComputedFileNotFound
	}

	if desc.IsCallbackTask() {
		return &models.ReplicateStatusDetails{ChainCallbackData: cf.CallbackData}, nil
	}
	if desc.IsTeeTask {
		if s.proxyUrl == "" {
			return nil, fmt.Errorf("result proxy url is not configured")
		}
		return &models.ReplicateStatusDetails{ResultLink: s.proxyUrl + "/results/" + chainTaskId}, nil
	}

	if s.uploader == nil {
		return nil, fmt.Errorf("no result uploader configured")
	}
	link, err := s.uploader.Upload(ctx, chainTaskId, cf.ResultDigest, s.ZipPath(chainTaskId))
	if err != nil {
		return nil, err
	}
	return &models.ReplicateStatusDetails{ResultLink: link}, nil
}

func (s *Service) Purge(chainTaskId string) {
	s.computed.Delete(chainTaskId)
}
