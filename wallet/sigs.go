package wallet

import (
	"crypto/ecdsa"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/xerrors"
)

// Sign signs msg with the ethereum signed message prefix. The recovery id is 27 or 28.
func Sign(privateKeyHex string, msg []byte) ([]byte, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(accounts.TextHash(msg), privateKey)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Verify reports whether sig over msg was produced by addr.
func Verify(addr string, sig []byte, msg []byte) (bool, error) {
	if len(sig) != crypto.SignatureLength {
		return false, xerrors.Errorf("invalid signature length %d", len(sig))
	}
	s := append([]byte(nil), sig...)
	if s[crypto.RecoveryIDOffset] >= 27 {
		s[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(msg), s)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(crypto.PubkeyToAddress(*pub).Hex(), addr), nil
}

// ToPublic converts private key to public key
func ToPublic(priv string) (string, *ecdsa.PublicKey, error) {
	if len(strings.TrimSpace(priv)) == 0 {
		return "", nil, xerrors.Errorf("invalid private key")
	}
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(priv, "0x"))
	if err != nil {
		return "", nil, err
	}
	publicKeyECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return "", nil, xerrors.Errorf("cannot assert type: publicKey is not of type *ecdsa.PublicKey")
	}
	publicK := hexutil.Encode(crypto.FromECDSAPub(publicKeyECDSA))[4:]
	return publicK, publicKeyECDSA, nil
}
