package exitcause

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/lagrangedao/go-tee-worker/internal/models"
	"github.com/stretchr/testify/assert"
)

const chainTaskId = "0x1111111111111111111111111111111111111111111111111111111111111111"

func TestRecordThenConsume(t *testing.T) {
	r := NewRegistry()
	causes := []models.ReplicateStatusCause{
		models.CausePreComputeDatasetDownloadFailed,
		models.CausePreComputeInvalidDatasetChecksum,
	}

	assert.True(t, r.RecordExitCauses(models.PreComputeStage, chainTaskId, causes))
	assert.Equal(t, causes, r.ConsumeExitCauses(models.PreComputeStage, chainTaskId, models.CausePreComputeFailedUnknownIssue))

	// read is destructive
	assert.Equal(t,
		[]models.ReplicateStatusCause{models.CausePreComputeFailedUnknownIssue},
		r.ConsumeExitCauses(models.PreComputeStage, chainTaskId, models.CausePreComputeFailedUnknownIssue))
}

func TestRecordIsWriteOnce(t *testing.T) {
	r := NewRegistry()
	first := []models.ReplicateStatusCause{models.CausePostComputeTimeout}
	second := []models.ReplicateStatusCause{models.CausePostComputeFailedUnknownIssue}

	assert.True(t, r.RecordExitCauses(models.PostComputeStage, chainTaskId, first))
	assert.False(t, r.RecordExitCauses(models.PostComputeStage, chainTaskId, second))
	assert.Equal(t, first, r.ConsumeExitCauses(models.PostComputeStage, chainTaskId, models.CausePostComputeFailedUnknownIssue))
}

func TestRecordRejectsEmptyCauses(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.RecordExitCauses(models.PreComputeStage, chainTaskId, nil))
}

func TestStagesAreIndependent(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.RecordExitCauses(models.PreComputeStage, chainTaskId, []models.ReplicateStatusCause{models.CausePreComputeTimeout}))
	assert.True(t, r.RecordExitCauses(models.PostComputeStage, chainTaskId, []models.ReplicateStatusCause{models.CausePostComputeTimeout}))

	assert.Equal(t, []models.ReplicateStatusCause{models.CausePostComputeTimeout},
		r.ConsumeExitCauses(models.PostComputeStage, chainTaskId, models.CausePostComputeFailedUnknownIssue))
	assert.Equal(t, []models.ReplicateStatusCause{models.CausePreComputeTimeout},
		r.ConsumeExitCauses(models.PreComputeStage, chainTaskId, models.CausePreComputeFailedUnknownIssue))
}

func TestRecordedSliceIsCopied(t *testing.T) {
	r := NewRegistry()
	causes := []models.ReplicateStatusCause{models.CausePreComputeTimeout}
	r.RecordExitCauses(models.PreComputeStage, chainTaskId, causes)
	causes[0] = models.CausePreComputeImageMissing

	assert.Equal(t, []models.ReplicateStatusCause{models.CausePreComputeTimeout},
		r.ConsumeExitCauses(models.PreComputeStage, chainTaskId, models.CausePreComputeFailedUnknownIssue))
}

func TestPurge(t *testing.T) {
	r := NewRegistry()
	r.RecordExitCauses(models.PreComputeStage, chainTaskId, []models.ReplicateStatusCause{models.CausePreComputeTimeout})
	r.RecordExitCauses(models.PostComputeStage, chainTaskId, []models.ReplicateStatusCause{models.CausePostComputeTimeout})
	r.Purge(chainTaskId)

	assert.Equal(t, []models.ReplicateStatusCause{models.CausePreComputeFailedUnknownIssue},
		r.ConsumeExitCauses(models.PreComputeStage, chainTaskId, models.CausePreComputeFailedUnknownIssue))
	assert.Equal(t, []models.ReplicateStatusCause{models.CausePostComputeFailedUnknownIssue},
		r.ConsumeExitCauses(models.PostComputeStage, chainTaskId, models.CausePostComputeFailedUnknownIssue))
}

func TestConcurrentRecordAcceptsOnlyOne(t *testing.T) {
	r := NewRegistry()
	var accepted int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.RecordExitCauses(models.PostComputeStage, chainTaskId, []models.ReplicateStatusCause{models.CausePostComputeTimeout}) {
				atomic.AddInt32(&accepted, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), accepted)
}
