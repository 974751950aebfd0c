package consensus

import (
	"context"
	"time"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/lagrangedao/go-tee-worker/internal/models"
)

type ChainReader interface {
	// GetChainTask returns nil, nil when the task is not on chain.
	GetChainTask(ctx context.Context, chainTaskId string) (*models.ChainTask, error)
	// GetChainContribution returns nil, nil when no contribution exists.
	GetChainContribution(ctx context.Context, chainTaskId, workerWallet string) (*models.ChainContribution, error)
}

type ResultDigestReader interface {
	GetResultDigest(chainTaskId string) (string, bool)
}

type Eligibility struct {
	chain        ChainReader
	results      ResultDigestReader
	workerWallet string
	now          func() time.Time
}

func NewEligibility(chain ChainReader, results ResultDigestReader, workerWallet string) *Eligibility {
	return &Eligibility{
		chain:        chain,
		results:      results,
		workerWallet: workerWallet,
		now:          time.Now,
	}
}

type ContributeCheck struct {
	ChainTaskFound          bool
	ChainTaskActive         bool
	BeforeConsensusDeadline bool
	ContributionUnset       bool
}

func (c ContributeCheck) CanContribute() bool {
	return c.ChainTaskFound && c.ChainTaskActive && c.BeforeConsensusDeadline && c.ContributionUnset
}

type RevealCheck struct {
	ChainTaskFound        bool
	ChainTaskRevealing    bool
	BeforeRevealDeadline  bool
	ContributionFound     bool
	ContributionStatusOk  bool
	ConsensusValueMatches bool
	ResultDigestFound     bool
	ResultHashMatches     bool
	ResultSealMatches     bool
}

func (c RevealCheck) chainConditionsHold() bool {
	return c.ChainTaskFound && c.ChainTaskRevealing && c.BeforeRevealDeadline &&
		c.ContributionFound && c.ContributionStatusOk && c.ConsensusValueMatches
}

func (c RevealCheck) CanReveal() bool {
	return c.chainConditionsHold() && c.ResultDigestFound && c.ResultHashMatches && c.ResultSealMatches
}

// IsCommitmentMismatch reports that chain state allows revealing but the
// local result does not match what was contributed.
func (c RevealCheck) IsCommitmentMismatch() bool {
	return c.chainConditionsHold() && !(c.ResultDigestFound && c.ResultHashMatches && c.ResultSealMatches)
}

func (e *Eligibility) CheckContribute(ctx context.Context, chainTaskId string) ContributeCheck {
	var check ContributeCheck

	chainTask, err := e.chain.GetChainTask(ctx, chainTaskId)
	if err != nil {
		logs.GetLogger().Errorf("Failed get chain task, chainTaskId: %s, error: %+v", chainTaskId, err)
	}
	if chainTask == nil {
		logs.GetLogger().Warnf("Cannot contribute, chain task not found, chainTaskId: %s", chainTaskId)
		return check
	}
	check.ChainTaskFound = true
	check.ChainTaskActive = chainTask.Status == models.ChainTaskActive
	check.BeforeConsensusDeadline = !chainTask.IsContributionDeadlineReached(e.now())

	contribution, err := e.chain.GetChainContribution(ctx, chainTaskId, e.workerWallet)
	if err != nil {
		logs.GetLogger().Errorf("Failed get chain contribution, chainTaskId: %s, error: %+v", chainTaskId, err)
	}
	if contribution == nil {
		logs.GetLogger().Warnf("Cannot contribute, chain contribution not found, chainTaskId: %s", chainTaskId)
		return check
	}
	check.ContributionUnset = contribution.Status == models.ContributionUnset

	if !check.CanContribute() {
		logs.GetLogger().Warnf("Cannot contribute, chainTaskId: %s, isChainTaskActive: %t, isBeforeConsensusDeadline: %t, isContributionUnset: %t",
			chainTaskId, check.ChainTaskActive, check.BeforeConsensusDeadline, check.ContributionUnset)
	}
	return check
}

func (e *Eligibility) CanContribute(ctx context.Context, chainTaskId string) bool {
	return e.CheckContribute(ctx, chainTaskId).CanContribute()
}

func (e *Eligibility) CheckReveal(ctx context.Context, chainTaskId string) RevealCheck {
	var check RevealCheck

	chainTask, err := e.chain.GetChainTask(ctx, chainTaskId)
	if err != nil {
		logs.GetLogger().Errorf("Failed get chain task, chainTaskId: %s, error: %+v", chainTaskId, err)
	}
	if chainTask == nil {
		logs.GetLogger().Warnf("Cannot reveal, chain task not found, chainTaskId: %s", chainTaskId)
		return check
	}
	check.ChainTaskFound = true
	check.ChainTaskRevealing = chainTask.Status == models.ChainTaskRevealing
	check.BeforeRevealDeadline = !chainTask.IsRevealDeadlineReached(e.now())

	contribution, err := e.chain.GetChainContribution(ctx, chainTaskId, e.workerWallet)
	if err != nil {
		logs.GetLogger().Errorf("Failed get chain contribution, chainTaskId: %s, error: %+v", chainTaskId, err)
	}
	if contribution == nil {
		logs.GetLogger().Warnf("Cannot reveal, chain contribution not found, chainTaskId: %s", chainTaskId)
		return check
	}
	check.ContributionFound = true
	check.ContributionStatusOk = contribution.Status == models.ContributionContributed
	check.ConsensusValueMatches = SameHash(contribution.ResultHash, chainTask.ConsensusValue)

	if resultDigest, ok := e.results.GetResultDigest(chainTaskId); ok && resultDigest != "" {
		check.ResultDigestFound = true
		check.ResultHashMatches = SameHash(ComputeResultHash(chainTaskId, resultDigest), contribution.ResultHash)
		check.ResultSealMatches = SameHash(ComputeResultSeal(e.workerWallet, chainTaskId, resultDigest), contribution.ResultSeal)
	}

	switch {
	case check.IsCommitmentMismatch():
		logs.GetLogger().Errorf("Local result does not match contribution, cannot reveal, chainTaskId: %s, isChainTaskRevealing: %t, isBeforeRevealDeadline: %t, isContributionStatusContributed: %t, isContributionResultHashConsensusValue: %t, isResultDigestFound: %t, isResultHashMatching: %t, isResultSealMatching: %t",
			chainTaskId, check.ChainTaskRevealing, check.BeforeRevealDeadline, check.ContributionStatusOk,
			check.ConsensusValueMatches, check.ResultDigestFound, check.ResultHashMatches, check.ResultSealMatches)
	case !check.CanReveal():
		logs.GetLogger().Warnf("Cannot reveal, chainTaskId: %s, isChainTaskRevealing: %t, isBeforeRevealDeadline: %t, isContributionStatusContributed: %t, isContributionResultHashConsensusValue: %t, isResultDigestFound: %t, isResultHashMatching: %t, isResultSealMatching: %t",
			chainTaskId, check.ChainTaskRevealing, check.BeforeRevealDeadline, check.ContributionStatusOk,
			check.ConsensusValueMatches, check.ResultDigestFound, check.ResultHashMatches, check.ResultSealMatches)
	}
	return check
}

func (e *Eligibility) CanReveal(ctx context.Context, chainTaskId string) bool {
	return e.CheckReveal(ctx, chainTaskId).CanReveal()
}
