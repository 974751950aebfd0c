package chain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// hubABI covers the subset of the hub used by a worker.
const hubABI = `[
{"type":"function","name":"viewTask","stateMutability":"view",
 "inputs":[{"name":"_taskid","type":"bytes32"}],
 "outputs":[{"name":"","type":"tuple","components":[
  {"name":"status","type":"uint8"},
  {"name":"dealid","type":"bytes32"},
  {"name":"idx","type":"uint256"},
  {"name":"timeref","type":"uint256"},
  {"name":"contributionDeadline","type":"uint256"},
  {"name":"revealDeadline","type":"uint256"},
  {"name":"finalDeadline","type":"uint256"},
  {"name":"consensusValue","type":"bytes32"},
  {"name":"revealCounter","type":"uint256"},
  {"name":"winnerCounter","type":"uint256"},
  {"name":"contributors","type":"address[]"},
  {"name":"resultDigest","type":"bytes32"},
  {"name":"results","type":"bytes"},
  {"name":"resultsTimestamp","type":"uint256"},
  {"name":"resultsCallback","type":"bytes"}]}]},
{"type":"function","name":"viewContribution","stateMutability":"view",
 "inputs":[{"name":"_taskid","type":"bytes32"},{"name":"_worker","type":"address"}],
 "outputs":[{"name":"","type":"tuple","components":[
  {"name":"status","type":"uint8"},
  {"name":"resultHash","type":"bytes32"},
  {"name":"resultSeal","type":"bytes32"},
  {"name":"enclaveChallenge","type":"address"},
  {"name":"weight","type":"uint256"}]}]},
{"type":"function","name":"viewDeal","stateMutability":"view",
 "inputs":[{"name":"_id","type":"bytes32"}],
 "outputs":[{"name":"","type":"tuple","components":[
  {"name":"app","type":"tuple","components":[{"name":"pointer","type":"address"},{"name":"owner","type":"address"},{"name":"price","type":"uint256"}]},
  {"name":"dataset","type":"tuple","components":[{"name":"pointer","type":"address"},{"name":"owner","type":"address"},{"name":"price","type":"uint256"}]},
  {"name":"workerpool","type":"tuple","components":[{"name":"pointer","type":"address"},{"name":"owner","type":"address"},{"name":"price","type":"uint256"}]},
  {"name":"trust","type":"uint256"},
  {"name":"category","type":"uint256"},
  {"name":"tag","type":"bytes32"},
  {"name":"requester","type":"address"},
  {"name":"beneficiary","type":"address"},
  {"name":"callback","type":"address"},
  {"name":"params","type":"string"},
  {"name":"startTime","type":"uint256"},
  {"name":"botFirst","type":"uint256"},
  {"name":"botSize","type":"uint256"},
  {"name":"workerStake","type":"uint256"},
  {"name":"schedulerRewardRatio","type":"uint256"}]}]},
{"type":"function","name":"viewCategory","stateMutability":"view",
 "inputs":[{"name":"_catid","type":"uint256"}],
 "outputs":[{"name":"","type":"tuple","components":[
  {"name":"name","type":"string"},
  {"name":"description","type":"string"},
  {"name":"workClockTimeRef","type":"uint256"}]}]},
{"type":"function","name":"contribute","stateMutability":"nonpayable",
 "inputs":[
  {"name":"_taskid","type":"bytes32"},
  {"name":"_resultHash","type":"bytes32"},
  {"name":"_resultSeal","type":"bytes32"},
  {"name":"_enclaveChallenge","type":"address"},
  {"name":"_enclaveSign","type":"bytes"},
  {"name":"_authorizationSign","type":"bytes"}],
 "outputs":[]},
{"type":"function","name":"reveal","stateMutability":"nonpayable",
 "inputs":[{"name":"_taskid","type":"bytes32"},{"name":"_resultDigest","type":"bytes32"}],
 "outputs":[]}
]`

// assetABI covers the app and dataset registry entries.
const assetABI = `[
{"type":"function","name":"m_appType","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
{"type":"function","name":"m_appMultiaddr","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes"}]},
{"type":"function","name":"m_datasetName","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
{"type":"function","name":"m_datasetMultiaddr","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes"}]},
{"type":"function","name":"m_datasetChecksum","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]}
]`

type hubTask struct {
	Status               uint8
	Dealid               [32]byte
	Idx                  *big.Int
	Timeref              *big.Int
	ContributionDeadline *big.Int
	RevealDeadline       *big.Int
	FinalDeadline        *big.Int
	ConsensusValue       [32]byte
	RevealCounter        *big.Int
	WinnerCounter        *big.Int
	Contributors         []common.Address
	ResultDigest         [32]byte
	Results              []byte
	ResultsTimestamp     *big.Int
	ResultsCallback      []byte
}

type hubContribution struct {
	Status           uint8
	ResultHash       [32]byte
	ResultSeal       [32]byte
	EnclaveChallenge common.Address
	Weight           *big.Int
}

type hubResource struct {
	Pointer common.Address
	Owner   common.Address
	Price   *big.Int
}

type hubDeal struct {
	App                  hubResource
	Dataset              hubResource
	Workerpool           hubResource
	Trust                *big.Int
	Category             *big.Int
	Tag                  [32]byte
	Requester            common.Address
	Beneficiary          common.Address
	Callback             common.Address
	Params               string
	StartTime            *big.Int
	BotFirst             *big.Int
	BotSize              *big.Int
	WorkerStake          *big.Int
	SchedulerRewardRatio *big.Int
}

type hubCategory struct {
	Name             string
	Description      string
	WorkClockTimeRef *big.Int
}

type hubContract struct {
	contract *bind.BoundContract
}

func newHubContract(address common.Address, backend bind.ContractBackend) (*hubContract, error) {
	parsed, err := abi.JSON(strings.NewReader(hubABI))
	if err != nil {
		return nil, err
	}
	return &hubContract{contract: bind.NewBoundContract(address, parsed, backend, backend, backend)}, nil
}

func (h *hubContract) ViewTask(opts *bind.CallOpts, taskId [32]byte) (hubTask, error) {
	var out []interface{}
	if err := h.contract.Call(opts, &out, "viewTask", taskId); err != nil {
		return hubTask{}, err
	}
	return *abi.ConvertType(out[0], new(hubTask)).(*hubTask), nil
}

func (h *hubContract) ViewContribution(opts *bind.CallOpts, taskId [32]byte, worker common.Address) (hubContribution, error) {
	var out []interface{}
	if err := h.contract.Call(opts, &out, "viewContribution", taskId, worker); err != nil {
		return hubContribution{}, err
	}
	return *abi.ConvertType(out[0], new(hubContribution)).(*hubContribution), nil
}

func (h *hubContract) ViewDeal(opts *bind.CallOpts, dealId [32]byte) (hubDeal, error) {
	var out []interface{}
	if err := h.contract.Call(opts, &out, "viewDeal", dealId); err != nil {
		return hubDeal{}, err
	}
	return *abi.ConvertType(out[0], new(hubDeal)).(*hubDeal), nil
}

func (h *hubContract) ViewCategory(opts *bind.CallOpts, categoryId *big.Int) (hubCategory, error) {
	var out []interface{}
	if err := h.contract.Call(opts, &out, "viewCategory", categoryId); err != nil {
		return hubCategory{}, err
	}
	return *abi.ConvertType(out[0], new(hubCategory)).(*hubCategory), nil
}

func (h *hubContract) Contribute(opts *bind.TransactOpts, taskId, resultHash, resultSeal [32]byte,
	enclaveChallenge common.Address, enclaveSign, authorizationSign []byte) (*types.Transaction, error) {
	return h.contract.Transact(opts, "contribute", taskId, resultHash, resultSeal, enclaveChallenge, enclaveSign, authorizationSign)
}

func (h *hubContract) Reveal(opts *bind.TransactOpts, taskId, resultDigest [32]byte) (*types.Transaction, error) {
	return h.contract.Transact(opts, "reveal", taskId, resultDigest)
}

type assetContract struct {
	contract *bind.BoundContract
}

func newAssetContract(address common.Address, caller bind.ContractCaller) (*assetContract, error) {
	parsed, err := abi.JSON(strings.NewReader(assetABI))
	if err != nil {
		return nil, err
	}
	return &assetContract{contract: bind.NewBoundContract(address, parsed, caller, nil, nil)}, nil
}

func (a *assetContract) callString(opts *bind.CallOpts, method string) (string, error) {
	var out []interface{}
	if err := a.contract.Call(opts, &out, method); err != nil {
		return "", err
	}
	return *abi.ConvertType(out[0], new(string)).(*string), nil
}

func (a *assetContract) callBytes(opts *bind.CallOpts, method string) ([]byte, error) {
	var out []interface{}
	if err := a.contract.Call(opts, &out, method); err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new([]byte)).(*[]byte), nil
}

func (a *assetContract) callBytes32(opts *bind.CallOpts, method string) ([32]byte, error) {
	var out []interface{}
	if err := a.contract.Call(opts, &out, method); err != nil {
		return [32]byte{}, err
	}
	return *abi.ConvertType(out[0], new([32]byte)).(*[32]byte), nil
}
