// Package exitcause stores failure causes reported out-of-band by enclave
// compute stages, keyed by stage and task.
package exitcause

import (
	"sync"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/lagrangedao/go-tee-worker/internal/models"
)

var stages = []models.ComputeStage{models.PreComputeStage, models.AppComputeStage, models.PostComputeStage}

type Registry struct {
	causes sync.Map
}

func NewRegistry() *Registry {
	return &Registry{}
}

func exitCauseKey(stage models.ComputeStage, chainTaskId string) string {
	return string(stage) + "_" + chainTaskId
}

// RecordExitCauses stores causes once per (stage, task). A second record for
// the same key is rejected and the first one is kept.
func (r *Registry) RecordExitCauses(stage models.ComputeStage, chainTaskId string, causes []models.ReplicateStatusCause) bool {
	if len(causes) == 0 {
		logs.GetLogger().Warnf("Cannot record empty exit causes, chainTaskId: %s, stage: %s", chainTaskId, stage)
		return false
	}
	copied := make([]models.ReplicateStatusCause, len(causes))
	copy(copied, causes)

	if _, loaded := r.causes.LoadOrStore(exitCauseKey(stage, chainTaskId), copied); loaded {
		logs.GetLogger().Warnf("Exit causes already reported, chainTaskId: %s, stage: %s", chainTaskId, stage)
		return false
	}
	logs.GetLogger().Infof("Exit causes recorded, chainTaskId: %s, stage: %s, causes: %v", chainTaskId, stage, copied)
	return true
}

// ConsumeExitCauses returns and removes the recorded causes, or a singleton
// list holding fallback when nothing was recorded.
func (r *Registry) ConsumeExitCauses(stage models.ComputeStage, chainTaskId string, fallback models.ReplicateStatusCause) []models.ReplicateStatusCause {
	if v, ok := r.causes.LoadAndDelete(exitCauseKey(stage, chainTaskId)); ok {
		return v.([]models.ReplicateStatusCause)
	}
	return []models.ReplicateStatusCause{fallback}
}

func (r *Registry) Purge(chainTaskId string) {
	for _, stage := range stages {
		r.causes.Delete(exitCauseKey(stage, chainTaskId))
	}
}
