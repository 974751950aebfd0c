package chain

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lagrangedao/go-tee-worker/internal/consensus"
	"github.com/lagrangedao/go-tee-worker/internal/models"
)

var ErrInvalidSignature = fmt.Errorf("invalid signature")

// AuthorizationHash is keccak256(workerWallet ∥ chainTaskId ∥ enclaveChallenge).
func AuthorizationHash(auth *models.WorkerpoolAuthorization) string {
	return consensus.ConcatenateAndHash(auth.WorkerWallet, auth.ChainTaskId, auth.EnclaveChallenge)
}

// SignMessageHash signs a 0x-hex hash with the ethereum signed message prefix.
func SignMessageHash(privateKey *ecdsa.PrivateKey, messageHash string) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash(common.FromHex(messageHash)), privateKey)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// RecoverSigner returns the address that produced signature over the prefixed messageHash.
func RecoverSigner(messageHash, signature string) (string, error) {
	sig := common.FromHex(signature)
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	sig = append([]byte(nil), sig...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(common.FromHex(messageHash)), sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

func IsSignedBy(messageHash, signature, address string) bool {
	signer, err := RecoverSigner(messageHash, signature)
	if err != nil {
		return false
	}
	return strings.EqualFold(signer, address)
}
