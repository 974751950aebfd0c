package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	testChainTaskId  = "0x1111111111111111111111111111111111111111111111111111111111111111"
	testResultDigest = "0x2222222222222222222222222222222222222222222222222222222222222222"
	testWorkerWallet = "0x1a69b2eb604db8eba185df03ea4f5288dcbbd248"
	testResultHash   = "0x3e92e0db88d6afea9edc4eedf62fffa4d92bcdfc310dccbe943747fe8302e871"
	testResultSeal   = "0xde7778c3259433ce3eb79e3287b944161eb12f328d00eb317191763d14d51164"
)

func TestComputeResultHash(t *testing.T) {
	assert.Equal(t, testResultHash, ComputeResultHash(testChainTaskId, testResultDigest))
}

func TestComputeResultSeal(t *testing.T) {
	assert.Equal(t, testResultSeal, ComputeResultSeal(testWorkerWallet, testChainTaskId, testResultDigest))
}

func TestConcatenateAndHashEmpty(t *testing.T) {
	assert.Equal(t, "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", ConcatenateAndHash())
}

func TestCommitmentsDependOnEveryInput(t *testing.T) {
	otherDigest := "0x2222222222222222222222222222222222222222222222222222222222222223"
	assert.NotEqual(t, ComputeResultHash(testChainTaskId, testResultDigest), ComputeResultHash(testChainTaskId, otherDigest))

	otherWallet := "0x1a69b2eb604db8eba185df03ea4f5288dcbbd249"
	assert.NotEqual(t, ComputeResultSeal(testWorkerWallet, testChainTaskId, testResultDigest),
		ComputeResultSeal(otherWallet, testChainTaskId, testResultDigest))
}

func TestSameHash(t *testing.T) {
	assert.True(t, SameHash(testResultHash, "0x3E92E0DB88D6AFEA9EDC4EEDF62FFFA4D92BCDFC310DCCBE943747FE8302E871"))
	assert.False(t, SameHash("", ""))
	assert.False(t, SameHash(testResultHash, testResultSeal))
}
