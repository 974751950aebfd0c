package chain

import (
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lagrangedao/go-tee-worker/internal/models"
)

const (
	teeTagBit     = 0
	sconeTagBit   = 1
	gramineTagBit = 3
)

type dealParams struct {
	Args                  string   `json:"iexec_args"`
	InputFiles            []string `json:"iexec_input_files"`
	ResultStorageProvider string   `json:"iexec_result_storage_provider"`
	ResultStorageProxy    string   `json:"iexec_result_storage_proxy"`
}

// parseDealParams accepts either the JSON params object or a bare argument string.
func parseDealParams(raw string) dealParams {
	var params dealParams
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return params
	}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		params.Args = raw
	}
	return params
}

func tagBit(tag string, bit uint) bool {
	b := common.HexToHash(tag).Bytes()
	return b[len(b)-1-int(bit/8)]&(1<<(bit%8)) != 0
}

func teeFrameworkFromTag(tag string) (bool, models.TeeFramework) {
	if !tagBit(tag, teeTagBit) {
		return false, ""
	}
	switch {
	case tagBit(tag, gramineTagBit):
		return true, models.TeeGramine
	case tagBit(tag, sconeTagBit):
		return true, models.TeeScone
	}
	return true, ""
}

type appInfo struct {
	Type string
	Uri  string
}

type datasetInfo struct {
	Name     string
	Uri      string
	Checksum string
}

func buildTaskDescription(task *models.ChainTask, deal *models.ChainDeal, category *models.ChainCategory, app appInfo, dataset *datasetInfo) *models.TaskDescription {
	params := parseDealParams(deal.Params)
	isTee, framework := teeFrameworkFromTag(deal.Tag)

	desc := &models.TaskDescription{
		ChainTaskId:           task.ChainTaskId,
		ChainDealId:           deal.DealId,
		BotIndex:              task.Index,
		BotSize:               deal.BotSize,
		AppAddress:            deal.AppAddress,
		AppType:               app.Type,
		AppUri:                app.Uri,
		Cmd:                   params.Args,
		IsTeeTask:             isTee,
		TeeFramework:          framework,
		DatasetAddress:        deal.DatasetAddress,
		InputFiles:            params.InputFiles,
		Callback:              deal.Callback,
		Requester:             deal.Requester,
		Beneficiary:           deal.Beneficiary,
		WorkerpoolOwner:       deal.WorkerpoolOwner,
		ResultStorageProvider: params.ResultStorageProvider,
		ResultStorageProxy:    params.ResultStorageProxy,
	}
	if category != nil {
		desc.MaxExecutionTime = category.MaxExecutionTime
	}
	if dataset != nil {
		desc.DatasetName = dataset.Name
		desc.DatasetUri = dataset.Uri
		desc.DatasetChecksum = dataset.Checksum
	}
	return desc
}
