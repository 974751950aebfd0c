package conf

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

var config *WorkerNode

// WorkerNode is a tee worker node config
type WorkerNode struct {
	API       API
	Worker    Worker
	Scheduler Scheduler
	Chain     Chain
	Docker    Docker
	Result    Result
	MCS       MCS
	Redis     Redis
}

type API struct {
	Port int
	// WorkerHost is the host:port enclave containers use to reach the API.
	WorkerHost string
	CrtFile    string
	KeyFile    string
}

type Worker struct {
	Name                  string
	WalletAddress         string
	BaseDir               string
	MaxTasks              int
	TeeEnabled            bool
	GpuEnabled            bool
	AskForReplicatePeriod int // seconds
	// SmsUrl is used by TEE tasks resumed without the SMS of their assignment.
	SmsUrl                string
}

type Scheduler struct {
	ServerUrl     string
	WsUrl         string
	PingPeriod    int // seconds
	ReportTimeout int // seconds
}

type Chain struct {
	RpcUrl     string
	ChainId    int64
	HubAddress string
	MinBalance string // ether
	RetryDelay int    // milliseconds
	MaxRetries int
}

type Docker struct {
	Host           string
	Network        string
	MinPullTimeout int // minutes
	MaxPullTimeout int // minutes
}

type Result struct {
	Provider string // proxy or mcs
	ProxyUrl string
}

type MCS struct {
	ApiKey      string
	AccessToken string
	BucketName  string
	Network     string
}

type Redis struct {
	Url      string
	Password string
}

func InitConfig(repoPath string) error {
	c, err := LoadConfig(filepath.Join(repoPath, "config.toml"))
	if err != nil {
		return err
	}
	config = c
	return nil
}

func LoadConfig(configFile string) (*WorkerNode, error) {
	var c WorkerNode
	metaData, err := toml.DecodeFile(configFile, &c)
	if err != nil {
		return nil, fmt.Errorf("failed load config file, path: %s, error: %w", configFile, err)
	}
	if err = requiredFieldsAreGiven(metaData); err != nil {
		return nil, err
	}
	if c.Result.Provider == "mcs" && c.MCS.BucketName == "" {
		return nil, fmt.Errorf("result provider mcs requires MCS.BucketName")
	}
	c.applyDefaults()
	return &c, nil
}

func GetConfig() *WorkerNode {
	return config
}

func requiredFieldsAreGiven(metaData toml.MetaData) error {
	requiredFields := [][]string{
		{"API"},
		{"Worker"},
		{"Scheduler"},
		{"Chain"},

		{"Worker", "WalletAddress"},
		{"Worker", "BaseDir"},

		{"Scheduler", "ServerUrl"},
		{"Scheduler", "WsUrl"},

		{"Chain", "RpcUrl"},
		{"Chain", "ChainId"},
		{"Chain", "HubAddress"},
	}

	for _, v := range requiredFields {
		if !metaData.IsDefined(v...) {
			return fmt.Errorf("required field not given: %s", strings.Join(v, "."))
		}
	}
	return nil
}

func (c *WorkerNode) applyDefaults() {
	if c.API.Port == 0 {
		c.API.Port = 13100
	}
	if c.API.WorkerHost == "" {
		c.API.WorkerHost = fmt.Sprintf("localhost:%d", c.API.Port)
	}
	if c.Worker.MaxTasks <= 0 {
		c.Worker.MaxTasks = 1
	}
	if c.Worker.AskForReplicatePeriod <= 0 {
		c.Worker.AskForReplicatePeriod = 5
	}
	if c.Scheduler.PingPeriod <= 0 {
		c.Scheduler.PingPeriod = 10
	}
	if c.Scheduler.ReportTimeout <= 0 {
		c.Scheduler.ReportTimeout = 30
	}
	if c.Chain.MinBalance == "" {
		c.Chain.MinBalance = "0.01"
	}
	if c.Chain.RetryDelay <= 0 {
		c.Chain.RetryDelay = 1000
	}
	if c.Chain.MaxRetries <= 0 {
		c.Chain.MaxRetries = 3
	}
	if c.Docker.MinPullTimeout <= 0 {
		c.Docker.MinPullTimeout = 5
	}
	if c.Docker.MaxPullTimeout <= 0 {
		c.Docker.MaxPullTimeout = 30
	}
	if c.Result.Provider == "" {
		c.Result.Provider = "proxy"
	}
}

func (s Scheduler) PingInterval() time.Duration {
	return time.Duration(s.PingPeriod) * time.Second
}

func (s Scheduler) ReportTimeoutDuration() time.Duration {
	return time.Duration(s.ReportTimeout) * time.Second
}

func (w Worker) AskForReplicateInterval() time.Duration {
	return time.Duration(w.AskForReplicatePeriod) * time.Second
}

func (c Chain) RetryDelayDuration() time.Duration {
	return time.Duration(c.RetryDelay) * time.Millisecond
}

func (d Docker) PullTimeoutBounds() (time.Duration, time.Duration) {
	return time.Duration(d.MinPullTimeout) * time.Minute, time.Duration(d.MaxPullTimeout) * time.Minute
}
