package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[API]
Port = 9000

[Worker]
Name = "worker-1"
WalletAddress = "0x1a69b2eb604db8eba185df03ea4f5288dcbbd248"
BaseDir = "/tmp/tee-worker"
TeeEnabled = true

[Scheduler]
ServerUrl = "http://localhost:13000"
WsUrl = "ws://localhost:13000/connect"

[Chain]
RpcUrl = "http://localhost:8545"
ChainId = 134
HubAddress = "0x3eca1B216A7DF1C7689aEb259fFB83ADFB894E7f"
`

func writeConfig(t *testing.T, content string) string {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644))
	return dir
}

func TestInitConfig(t *testing.T) {
	dir := writeConfig(t, sampleConfig)
	require.NoError(t, InitConfig(dir))

	c := GetConfig()
	assert.Equal(t, 9000, c.API.Port)
	assert.Equal(t, "localhost:9000", c.API.WorkerHost)
	assert.Equal(t, "worker-1", c.Worker.Name)
	assert.True(t, c.Worker.TeeEnabled)
	assert.Equal(t, int64(134), c.Chain.ChainId)

	// defaults
	assert.Equal(t, 1, c.Worker.MaxTasks)
	assert.Equal(t, "proxy", c.Result.Provider)
	assert.Equal(t, 3, c.Chain.MaxRetries)
	assert.Equal(t, time.Second, c.Chain.RetryDelayDuration())
	minT, maxT := c.Docker.PullTimeoutBounds()
	assert.Equal(t, 5*time.Minute, minT)
	assert.Equal(t, 30*time.Minute, maxT)
}

func TestLoadConfigMissingRequiredField(t *testing.T) {
	dir := writeConfig(t, `
[API]
[Worker]
BaseDir = "/tmp"
[Scheduler]
ServerUrl = "http://localhost"
WsUrl = "ws://localhost"
[Chain]
RpcUrl = "http://localhost:8545"
ChainId = 1
HubAddress = "0x0"
`)
	_, err := LoadConfig(filepath.Join(dir, "config.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Worker.WalletAddress")
}

func TestLoadConfigMcsProviderRequiresBucket(t *testing.T) {
	dir := writeConfig(t, sampleConfig+`
[Result]
Provider = "mcs"
`)
	_, err := LoadConfig(filepath.Join(dir, "config.toml"))
	assert.Error(t, err)
}
