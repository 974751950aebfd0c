package consensus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lagrangedao/go-tee-worker/internal/models"
	"github.com/stretchr/testify/assert"
)

type fakeChain struct {
	task         *models.ChainTask
	contribution *models.ChainContribution
	err          error
}

func (f *fakeChain) GetChainTask(ctx context.Context, chainTaskId string) (*models.ChainTask, error) {
	return f.task, f.err
}

func (f *fakeChain) GetChainContribution(ctx context.Context, chainTaskId, workerWallet string) (*models.ChainContribution, error) {
	return f.contribution, f.err
}

type fakeResults map[string]string

func (f fakeResults) GetResultDigest(chainTaskId string) (string, bool) {
	d, ok := f[chainTaskId]
	return d, ok
}

var testNow = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestEligibility(chain ChainReader, results ResultDigestReader) *Eligibility {
	e := NewEligibility(chain, results, testWorkerWallet)
	e.now = func() time.Time { return testNow }
	return e
}

func TestCanContribute(t *testing.T) {
	tests := []struct {
		name         string
		task         *models.ChainTask
		contribution *models.ChainContribution
		err          error
		want         bool
	}{
		{
			name:         "active before deadline unset",
			task:         &models.ChainTask{Status: models.ChainTaskActive, ContributionDeadline: testNow.Add(time.Minute)},
			contribution: &models.ChainContribution{Status: models.ContributionUnset},
			want:         true,
		},
		{
			name:         "deadline reached",
			task:         &models.ChainTask{Status: models.ChainTaskActive, ContributionDeadline: testNow},
			contribution: &models.ChainContribution{Status: models.ContributionUnset},
		},
		{
			name:         "not active",
			task:         &models.ChainTask{Status: models.ChainTaskRevealing, ContributionDeadline: testNow.Add(time.Minute)},
			contribution: &models.ChainContribution{Status: models.ContributionUnset},
		},
		{
			name:         "already contributed",
			task:         &models.ChainTask{Status: models.ChainTaskActive, ContributionDeadline: testNow.Add(time.Minute)},
			contribution: &models.ChainContribution{Status: models.ContributionContributed},
		},
		{
			name: "task missing",
		},
		{
			name:         "contribution missing",
			task:         &models.ChainTask{Status: models.ChainTaskActive, ContributionDeadline: testNow.Add(time.Minute)},
		},
		{
			name: "chain error",
			err:  errors.New("rpc down"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEligibility(&fakeChain{task: tt.task, contribution: tt.contribution, err: tt.err}, fakeResults{})
			assert.Equal(t, tt.want, e.CanContribute(context.Background(), testChainTaskId))
		})
	}
}

func revealingChain() *fakeChain {
	return &fakeChain{
		task: &models.ChainTask{
			Status:         models.ChainTaskRevealing,
			RevealDeadline: testNow.Add(time.Minute),
			ConsensusValue: testResultHash,
		},
		contribution: &models.ChainContribution{
			Status:     models.ContributionContributed,
			ResultHash: testResultHash,
			ResultSeal: testResultSeal,
		},
	}
}

func TestCanReveal(t *testing.T) {
	e := newTestEligibility(revealingChain(), fakeResults{testChainTaskId: testResultDigest})
	check := e.CheckReveal(context.Background(), testChainTaskId)
	assert.True(t, check.CanReveal())
	assert.False(t, check.IsCommitmentMismatch())
}

func TestCanRevealDigestMismatch(t *testing.T) {
	otherDigest := "0x2222222222222222222222222222222222222222222222222222222222222223"
	e := newTestEligibility(revealingChain(), fakeResults{testChainTaskId: otherDigest})
	check := e.CheckReveal(context.Background(), testChainTaskId)
	assert.False(t, check.CanReveal())
	assert.True(t, check.IsCommitmentMismatch())
	assert.False(t, check.ResultHashMatches)
	assert.False(t, check.ResultSealMatches)
}

func TestCanRevealMissingDigest(t *testing.T) {
	e := newTestEligibility(revealingChain(), fakeResults{})
	check := e.CheckReveal(context.Background(), testChainTaskId)
	assert.False(t, check.CanReveal())
	assert.True(t, check.IsCommitmentMismatch())
}

func TestCanRevealChainConditions(t *testing.T) {
	results := fakeResults{testChainTaskId: testResultDigest}

	chain := revealingChain()
	chain.task.RevealDeadline = testNow
	assert.False(t, newTestEligibility(chain, results).CanReveal(context.Background(), testChainTaskId))

	chain = revealingChain()
	chain.task.Status = models.ChainTaskActive
	check := newTestEligibility(chain, results).CheckReveal(context.Background(), testChainTaskId)
	assert.False(t, check.CanReveal())
	assert.False(t, check.IsCommitmentMismatch())

	chain = revealingChain()
	chain.task.ConsensusValue = testResultSeal
	assert.False(t, newTestEligibility(chain, results).CanReveal(context.Background(), testChainTaskId))

	chain = revealingChain()
	chain.contribution = nil
	assert.False(t, newTestEligibility(chain, results).CanReveal(context.Background(), testChainTaskId))
}
