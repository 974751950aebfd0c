package consensus

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ConcatenateAndHash decodes each 0x-hex value, concatenates the raw bytes
// and returns the keccak256 of the result as 0x-hex.
func ConcatenateAndHash(hexValues ...string) string {
	var buf []byte
	for _, v := range hexValues {
		buf = append(buf, common.FromHex(v)...)
	}
	return crypto.Keccak256Hash(buf).Hex()
}

// ComputeResultHash is keccak256(chainTaskId ∥ resultDigest).
func ComputeResultHash(chainTaskId, resultDigest string) string {
	return ConcatenateAndHash(chainTaskId, resultDigest)
}

// ComputeResultSeal is keccak256(workerWallet ∥ chainTaskId ∥ resultDigest).
func ComputeResultSeal(workerWallet, chainTaskId, resultDigest string) string {
	return ConcatenateAndHash(workerWallet, chainTaskId, resultDigest)
}

func SameHash(a, b string) bool {
	return a != "" && strings.EqualFold(common.HexToHash(a).Hex(), common.HexToHash(b).Hex())
}
