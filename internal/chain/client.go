package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/lagrangedao/go-tee-worker/internal/metrics"
	"github.com/lagrangedao/go-tee-worker/internal/models"
)

const defaultMiningTimeout = 2 * time.Minute

type Client struct {
	eth        *ethclient.Client
	hub        *hubContract
	privateK   string
	wallet     common.Address
	minBalance *big.Int
	maxRetries int
	retryDelay time.Duration
}

type Option func(*Client)

func WithPrivateKey(pk string) Option {
	return func(c *Client) {
		c.privateK = strings.TrimPrefix(pk, "0x")
	}
}

func WithMinBalance(ether string) Option {
	return func(c *Client) {
		if wei, err := etherToWei(ether); err == nil {
			c.minBalance = wei
		}
	}
}

func WithRetries(maxRetries int, delay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryDelay = delay
	}
}

func NewClient(rpcUrl, hubAddress string, options ...Option) (*Client, error) {
	eth, err := ethclient.Dial(rpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed dial chain rpc, url: %s, error: %w", rpcUrl, err)
	}
	c := &Client{
		eth:        eth,
		minBalance: big.NewInt(0),
		maxRetries: 3,
		retryDelay: time.Second,
	}
	for _, option := range options {
		option(c)
	}

	hub, err := newHubContract(common.HexToAddress(hubAddress), eth)
	if err != nil {
		return nil, fmt.Errorf("create hub contract client, error: %w", err)
	}
	c.hub = hub

	if c.privateK != "" {
		address, err := privateKeyToAddress(c.privateK)
		if err != nil {
			return nil, err
		}
		c.wallet = address
	}
	return c, nil
}

func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) WalletAddress() string {
	return c.wallet.Hex()
}

// GetChainTask returns nil, nil when the task is not initialized on chain.
func (c *Client) GetChainTask(ctx context.Context, chainTaskId string) (*models.ChainTask, error) {
	raw, err := withRetries(ctx, "viewTask", c.maxRetries, c.retryDelay, func(ctx context.Context) (hubTask, error) {
		return c.hub.ViewTask(&bind.CallOpts{Context: ctx}, common.HexToHash(chainTaskId))
	})
	if err != nil {
		return nil, err
	}
	if raw.Dealid == ([32]byte{}) {
		return nil, nil
	}

	contributors := make([]string, 0, len(raw.Contributors))
	for _, a := range raw.Contributors {
		contributors = append(contributors, a.Hex())
	}
	return &models.ChainTask{
		ChainTaskId:          chainTaskId,
		DealId:               common.Hash(raw.Dealid).Hex(),
		Index:                raw.Idx.Int64(),
		Status:               models.ChainTaskStatus(raw.Status),
		ContributionDeadline: toTime(raw.ContributionDeadline),
		RevealDeadline:       toTime(raw.RevealDeadline),
		FinalDeadline:        toTime(raw.FinalDeadline),
		ConsensusValue:       common.Hash(raw.ConsensusValue).Hex(),
		RevealCounter:        raw.RevealCounter.Int64(),
		WinnerCounter:        raw.WinnerCounter.Int64(),
		Contributors:         contributors,
		ResultDigest:         common.Hash(raw.ResultDigest).Hex(),
	}, nil
}

func (c *Client) GetChainContribution(ctx context.Context, chainTaskId, workerWallet string) (*models.ChainContribution, error) {
	raw, err := withRetries(ctx, "viewContribution", c.maxRetries, c.retryDelay, func(ctx context.Context) (hubContribution, error) {
		return c.hub.ViewContribution(&bind.CallOpts{Context: ctx}, common.HexToHash(chainTaskId), common.HexToAddress(workerWallet))
	})
	if err != nil {
		return nil, err
	}
	return &models.ChainContribution{
		Status:           models.ChainContributionStatus(raw.Status),
		ResultHash:       common.Hash(raw.ResultHash).Hex(),
		ResultSeal:       common.Hash(raw.ResultSeal).Hex(),
		EnclaveChallenge: raw.EnclaveChallenge.Hex(),
	}, nil
}

// GetChainDeal returns nil, nil when the deal does not exist.
func (c *Client) GetChainDeal(ctx context.Context, dealId string) (*models.ChainDeal, error) {
	raw, err := withRetries(ctx, "viewDeal", c.maxRetries, c.retryDelay, func(ctx context.Context) (hubDeal, error) {
		return c.hub.ViewDeal(&bind.CallOpts{Context: ctx}, common.HexToHash(dealId))
	})
	if err != nil {
		return nil, err
	}
	if raw.App.Pointer == (common.Address{}) {
		return nil, nil
	}
	return &models.ChainDeal{
		DealId:            dealId,
		AppAddress:        raw.App.Pointer.Hex(),
		DatasetAddress:    raw.Dataset.Pointer.Hex(),
		WorkerpoolAddress: raw.Workerpool.Pointer.Hex(),
		WorkerpoolOwner:   raw.Workerpool.Owner.Hex(),
		Category:          raw.Category.Int64(),
		Tag:               common.Hash(raw.Tag).Hex(),
		Requester:         raw.Requester.Hex(),
		Beneficiary:       raw.Beneficiary.Hex(),
		Callback:          raw.Callback.Hex(),
		Params:            raw.Params,
		StartTime:         toTime(raw.StartTime),
		BotFirst:          raw.BotFirst.Int64(),
		BotSize:           raw.BotSize.Int64(),
		WorkerStake:       raw.WorkerStake,
	}, nil
}

func (c *Client) GetChainCategory(ctx context.Context, categoryId int64) (*models.ChainCategory, error) {
	raw, err := withRetries(ctx, "viewCategory", c.maxRetries, c.retryDelay, func(ctx context.Context) (hubCategory, error) {
		return c.hub.ViewCategory(&bind.CallOpts{Context: ctx}, big.NewInt(categoryId))
	})
	if err != nil {
		return nil, err
	}
	return &models.ChainCategory{
		Id:               categoryId,
		Name:             raw.Name,
		MaxExecutionTime: time.Duration(raw.WorkClockTimeRef.Int64()) * time.Second,
	}, nil
}

// GetWorkerpoolOwner resolves the owner of the workerpool the task's deal was matched with.
func (c *Client) GetWorkerpoolOwner(ctx context.Context, chainTaskId string) (string, error) {
	task, err := c.GetChainTask(ctx, chainTaskId)
	if err != nil {
		return "", err
	}
	if task == nil {
		return "", fmt.Errorf("chain task not found, chainTaskId: %s", chainTaskId)
	}
	deal, err := c.GetChainDeal(ctx, task.DealId)
	if err != nil {
		return "", err
	}
	if deal == nil {
		return "", fmt.Errorf("chain deal not found, dealId: %s", task.DealId)
	}
	return deal.WorkerpoolOwner, nil
}

// GetTaskDescription returns nil, nil when the task or its deal is missing.
func (c *Client) GetTaskDescription(ctx context.Context, chainTaskId string) (*models.TaskDescription, error) {
	task, err := c.GetChainTask(ctx, chainTaskId)
	if err != nil || task == nil {
		return nil, err
	}
	deal, err := c.GetChainDeal(ctx, task.DealId)
	if err != nil || deal == nil {
		return nil, err
	}
	category, err := c.GetChainCategory(ctx, deal.Category)
	if err != nil {
		return nil, err
	}

	app, err := c.readApp(ctx, deal.AppAddress)
	if err != nil {
		return nil, err
	}

	var dataset *datasetInfo
	if deal.DatasetAddress != "" && !strings.EqualFold(deal.DatasetAddress, models.ZeroAddress) {
		dataset, err = c.readDataset(ctx, deal.DatasetAddress)
		if err != nil {
			return nil, err
		}
	}
	return buildTaskDescription(task, deal, category, app, dataset), nil
}

func (c *Client) readApp(ctx context.Context, address string) (appInfo, error) {
	app, err := newAssetContract(common.HexToAddress(address), c.eth)
	if err != nil {
		return appInfo{}, err
	}
	opts := &bind.CallOpts{Context: ctx}
	appType, err := withRetries(ctx, "m_appType", c.maxRetries, c.retryDelay, func(ctx context.Context) (string, error) {
		return app.callString(opts, "m_appType")
	})
	if err != nil {
		return appInfo{}, err
	}
	uri, err := withRetries(ctx, "m_appMultiaddr", c.maxRetries, c.retryDelay, func(ctx context.Context) ([]byte, error) {
		return app.callBytes(opts, "m_appMultiaddr")
	})
	if err != nil {
		return appInfo{}, err
	}
	return appInfo{Type: appType, Uri: string(uri)}, nil
}

func (c *Client) readDataset(ctx context.Context, address string) (*datasetInfo, error) {
	dataset, err := newAssetContract(common.HexToAddress(address), c.eth)
	if err != nil {
		return nil, err
	}
	opts := &bind.CallOpts{Context: ctx}
	name, err := withRetries(ctx, "m_datasetName", c.maxRetries, c.retryDelay, func(ctx context.Context) (string, error) {
		return dataset.callString(opts, "m_datasetName")
	})
	if err != nil {
		return nil, err
	}
	uri, err := withRetries(ctx, "m_datasetMultiaddr", c.maxRetries, c.retryDelay, func(ctx context.Context) ([]byte, error) {
		return dataset.callBytes(opts, "m_datasetMultiaddr")
	})
	if err != nil {
		return nil, err
	}
	checksum, err := withRetries(ctx, "m_datasetChecksum", c.maxRetries, c.retryDelay, func(ctx context.Context) ([32]byte, error) {
		return dataset.callBytes32(opts, "m_datasetChecksum")
	})
	if err != nil {
		return nil, err
	}
	return &datasetInfo{Name: name, Uri: string(uri), Checksum: common.Hash(checksum).Hex()}, nil
}

func (c *Client) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	return withRetries(ctx, "blockNumber", c.maxRetries, c.retryDelay, func(ctx context.Context) (uint64, error) {
		return c.eth.BlockNumber(ctx)
	})
}

func (c *Client) HasEnoughGas(ctx context.Context) bool {
	balance, err := withRetries(ctx, "balanceAt", c.maxRetries, c.retryDelay, func(ctx context.Context) (*big.Int, error) {
		return c.eth.BalanceAt(ctx, c.wallet, nil)
	})
	if err != nil {
		logs.GetLogger().Errorf("Failed read wallet balance, wallet: %s, error: %+v", c.wallet.Hex(), err)
		return false
	}
	if balance.Cmp(c.minBalance) < 0 {
		logs.GetLogger().Warnf("Wallet balance below threshold, wallet: %s, balance: %s, min: %s", c.wallet.Hex(), balance, c.minBalance)
		return false
	}
	return true
}

// Contribute submits the commitment for the task described by auth and waits for it to be mined.
func (c *Client) Contribute(ctx context.Context, auth *models.WorkerpoolAuthorization, resultHash, resultSeal, enclaveChallenge, enclaveSignature string) (*models.ChainReceipt, error) {
	if enclaveChallenge == "" {
		enclaveChallenge = models.ZeroAddress
	}
	return c.transact(ctx, "contribute", func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return c.hub.Contribute(opts,
			common.HexToHash(auth.ChainTaskId),
			common.HexToHash(resultHash),
			common.HexToHash(resultSeal),
			common.HexToAddress(enclaveChallenge),
			common.FromHex(enclaveSignature),
			common.FromHex(auth.Signature))
	})
}

func (c *Client) Reveal(ctx context.Context, chainTaskId, resultDigest string) (*models.ChainReceipt, error) {
	return c.transact(ctx, "reveal", func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return c.hub.Reveal(opts, common.HexToHash(chainTaskId), common.HexToHash(resultDigest))
	})
}

func (c *Client) transact(ctx context.Context, name string, send func(opts *bind.TransactOpts) (*types.Transaction, error)) (*models.ChainReceipt, error) {
	receipt, err := c.sendAndWait(ctx, name, send)
	metrics.ChainTransactionsTotal.WithLabelValues(name, metrics.Outcome(err)).Inc()
	return receipt, err
}

func (c *Client) sendAndWait(ctx context.Context, name string, send func(opts *bind.TransactOpts) (*types.Transaction, error)) (*models.ChainReceipt, error) {
	tx, err := withRetries(ctx, name, c.maxRetries, c.retryDelay, func(ctx context.Context) (*types.Transaction, error) {
		opts, err := c.createTransactOpts(ctx)
		if err != nil {
			return nil, err
		}
		return send(opts)
	})
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, defaultMiningTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, c.eth, tx)
	if err != nil {
		return nil, fmt.Errorf("failed wait %s transaction mined, tx: %s, error: %w", name, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%s transaction execution failed, tx: %s", name, tx.Hash().Hex())
	}
	return &models.ChainReceipt{BlockNumber: receipt.BlockNumber.Uint64(), TxHash: tx.Hash().Hex()}, nil
}

func (c *Client) createTransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if strings.TrimSpace(c.privateK) == "" {
		return nil, fmt.Errorf("wallet private key must be not empty")
	}
	nonce, err := c.eth.PendingNonceAt(ctx, c.wallet)
	if err != nil {
		return nil, fmt.Errorf("address: %s, get nonce error: %+v", c.wallet, err)
	}

	suggestGasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("address: %s, retrieves the currently suggested gas price, error: %+v", c.wallet, err)
	}

	chainId, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("address: %s, get networkId, error: %+v", c.wallet, err)
	}

	privateKey, err := crypto.HexToECDSA(c.privateK)
	if err != nil {
		return nil, fmt.Errorf("parses private key error: %+v", err)
	}

	txOptions, err := bind.NewKeyedTransactorWithChainID(privateKey, chainId)
	if err != nil {
		return nil, fmt.Errorf("address: %s, create transaction, error: %+v", c.wallet, err)
	}
	txOptions.Nonce = big.NewInt(int64(nonce))
	suggestGasPrice = suggestGasPrice.Mul(suggestGasPrice, big.NewInt(3))
	suggestGasPrice = suggestGasPrice.Div(suggestGasPrice, big.NewInt(2))
	txOptions.GasFeeCap = suggestGasPrice
	txOptions.Context = ctx
	return txOptions, nil
}

func privateKeyToAddress(pk string) (common.Address, error) {
	privateKey, err := crypto.HexToECDSA(pk)
	if err != nil {
		return common.Address{}, fmt.Errorf("parses private key error: %+v", err)
	}
	publicKeyECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return common.Address{}, fmt.Errorf("cannot assert type: publicKey is not of type *ecdsa.PublicKey")
	}
	return crypto.PubkeyToAddress(*publicKeyECDSA), nil
}

func toTime(seconds *big.Int) time.Time {
	if seconds == nil {
		return time.Time{}
	}
	return time.Unix(seconds.Int64(), 0)
}

func etherToWei(ethValue string) (*big.Int, error) {
	ethFloat, ok := new(big.Float).SetString(ethValue)
	if !ok {
		return nil, fmt.Errorf("conversion to float failed")
	}
	weiFloat := new(big.Float).Mul(ethFloat, new(big.Float).SetFloat64(1e18))
	weiInt, acc := new(big.Int).SetString(weiFloat.Text('f', 0), 10)
	if !acc {
		return nil, fmt.Errorf("conversion to Wei failed")
	}
	return weiInt, nil
}
