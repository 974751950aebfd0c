package models

import (
	"math/big"
	"time"
)

type ChainTaskStatus uint8

const (
	ChainTaskUnset ChainTaskStatus = iota
	ChainTaskActive
	ChainTaskRevealing
	ChainTaskCompleted
	ChainTaskFailed
)

func (s ChainTaskStatus) String() string {
	switch s {
	case ChainTaskUnset:
		return "UNSET"
	case ChainTaskActive:
		return "ACTIVE"
	case ChainTaskRevealing:
		return "REVEALING"
	case ChainTaskCompleted:
		return "COMPLETED"
	case ChainTaskFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

type ChainContributionStatus uint8

const (
	ContributionUnset ChainContributionStatus = iota
	ContributionContributed
	ContributionProved
	ContributionRejected
)

func (s ChainContributionStatus) String() string {
	switch s {
	case ContributionUnset:
		return "UNSET"
	case ContributionContributed:
		return "CONTRIBUTED"
	case ContributionProved:
		return "PROVED"
	case ContributionRejected:
		return "REJECTED"
	}
	return "UNKNOWN"
}

// ChainTask mirrors the hub's task struct. Hashes are 0x-prefixed hex.
type ChainTask struct {
	ChainTaskId          string
	DealId               string
	Index                int64
	Status               ChainTaskStatus
	ContributionDeadline time.Time
	RevealDeadline       time.Time
	FinalDeadline        time.Time
	ConsensusValue       string
	RevealCounter        int64
	WinnerCounter        int64
	Contributors         []string
	ResultDigest         string
}

func (t *ChainTask) IsContributionDeadlineReached(now time.Time) bool {
	return !now.Before(t.ContributionDeadline)
}

func (t *ChainTask) IsRevealDeadlineReached(now time.Time) bool {
	return !now.Before(t.RevealDeadline)
}

type ChainContribution struct {
	Status           ChainContributionStatus
	ResultHash       string
	ResultSeal       string
	EnclaveChallenge string
}

type ChainDeal struct {
	DealId            string
	AppAddress        string
	DatasetAddress    string
	WorkerpoolAddress string
	WorkerpoolOwner   string
	Category          int64
	Tag               string
	Requester         string
	Beneficiary       string
	Callback          string
	Params            string
	StartTime         time.Time
	BotFirst          int64
	BotSize           int64
	WorkerStake       *big.Int
}

type ChainCategory struct {
	Id               int64
	Name             string
	MaxExecutionTime time.Duration
}
