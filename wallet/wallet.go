package wallet

import (
	"context"
	"math/big"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"golang.org/x/xerrors"
)

const (
	WalletRepo  = "keystore"
	KNamePrefix = "wallet-"
)

var (
	ErrKeyInfoNotFound = xerrors.New("key info not found")
	ErrKeyExists       = xerrors.New("key already exists")
	ErrInvalidAddress  = xerrors.New("invalid wallet address")
)

var reAddress = regexp.MustCompile("^0x[0-9a-fA-F]{40}$")

// SetupWallet opens the keystore under the worker repo.
func SetupWallet(repoPath string) (*LocalWallet, error) {
	kstore, err := OpenOrInitKeystore(filepath.Join(repoPath, WalletRepo))
	if err != nil {
		return nil, err
	}
	return NewWallet(kstore), nil
}

type LocalWallet struct {
	keys     map[string]*KeyInfo
	keystore KeyStore

	lk sync.Mutex
}

func NewWallet(keystore KeyStore) *LocalWallet {
	return &LocalWallet{
		keys:     make(map[string]*KeyInfo),
		keystore: keystore,
	}
}

func (w *LocalWallet) Close() error {
	return w.keystore.Close()
}

// WalletSign signs msg with the key of addr and returns the 0x-hex signature.
func (w *LocalWallet) WalletSign(ctx context.Context, addr string, msg []byte) (string, error) {
	ki, err := w.findKey(addr)
	if err != nil {
		return "", err
	}
	if ki == nil {
		return "", xerrors.Errorf("signing using private key '%s': %w", addr, ErrKeyInfoNotFound)
	}
	sig, err := Sign(ki.PrivateKey, msg)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

// AddressSigner signs messages with the key of a single address.
type AddressSigner struct {
	wallet  *LocalWallet
	address string
}

func (w *LocalWallet) Signer(addr string) *AddressSigner {
	return &AddressSigner{wallet: w, address: addr}
}

func (s *AddressSigner) Address() string {
	return s.address
}

func (s *AddressSigner) SignMessage(ctx context.Context, msg []byte) (string, error) {
	return s.wallet.WalletSign(ctx, s.address, msg)
}

func (w *LocalWallet) WalletVerify(ctx context.Context, addr string, sig []byte, msg []byte) (bool, error) {
	return Verify(addr, sig, msg)
}

// PrivateKey returns the hex private key of addr for the chain transactor.
func (w *LocalWallet) PrivateKey(addr string) (string, error) {
	ki, err := w.findKey(addr)
	if err != nil {
		return "", err
	}
	if ki == nil {
		return "", xerrors.Errorf("the address: %s, private key %w", addr, ErrKeyInfoNotFound)
	}
	return ki.PrivateKey, nil
}

func (w *LocalWallet) findKey(addr string) (*KeyInfo, error) {
	addr = normalize(addr)
	w.lk.Lock()
	defer w.lk.Unlock()

	if k, ok := w.keys[addr]; ok {
		return k, nil
	}
	if w.keystore == nil {
		logs.GetLogger().Warn("findKey didn't find the key in in-memory wallet")
		return nil, nil
	}

	ki, err := w.keystore.Get(KNamePrefix + addr)
	if err != nil {
		if xerrors.Is(err, ErrKeyInfoNotFound) {
			return nil, nil
		}
		return nil, xerrors.Errorf("getting from keystore: %w", err)
	}
	w.keys[addr] = &ki
	return &ki, nil
}

func (w *LocalWallet) WalletImport(ctx context.Context, ki *KeyInfo) (string, error) {
	if ki == nil || len(strings.TrimSpace(ki.PrivateKey)) == 0 {
		return "", xerrors.Errorf("not found private key")
	}
	ki.PrivateKey = strings.TrimPrefix(strings.TrimSpace(ki.PrivateKey), "0x")

	_, publicKeyECDSA, err := ToPublic(ki.PrivateKey)
	if err != nil {
		return "", err
	}
	address := crypto.PubkeyToAddress(*publicKeyECDSA).Hex()

	w.lk.Lock()
	defer w.lk.Unlock()
	if err := w.keystore.Put(KNamePrefix+normalize(address), *ki); err != nil {
		return "", xerrors.Errorf("saving to keystore: %w", err)
	}
	w.keys[normalize(address)] = ki
	return address, nil
}

func (w *LocalWallet) WalletNew(ctx context.Context) (string, error) {
	privateK, err := crypto.GenerateKey()
	if err != nil {
		return "", err
	}
	privateKey := hexutil.Encode(crypto.FromECDSA(privateK))[2:]
	return w.WalletImport(ctx, &KeyInfo{PrivateKey: privateKey})
}

func (w *LocalWallet) WalletDelete(ctx context.Context, addr string) error {
	k, err := w.findKey(addr)
	if err != nil {
		return xerrors.Errorf("wallet delete: failed to delete key %s : %w", addr, err)
	}
	if k == nil {
		return nil // already not there
	}

	w.lk.Lock()
	defer w.lk.Unlock()
	if err := w.keystore.Delete(KNamePrefix + normalize(addr)); err != nil {
		return xerrors.Errorf("wallet delete: failed to delete key %s: %w", addr, err)
	}
	delete(w.keys, normalize(addr))
	return nil
}

type WalletInfo struct {
	Address string
	Balance string
	Nonce   uint64
	Error   string
}

// WalletList returns every stored address with its balance on rpcUrl; chain errors are reported per row.
func (w *LocalWallet) WalletList(ctx context.Context, rpcUrl string) ([]WalletInfo, error) {
	addressList, err := w.addressList()
	if err != nil {
		return nil, err
	}

	var client *ethclient.Client
	if rpcUrl != "" {
		client, err = ethclient.DialContext(ctx, rpcUrl)
		if err != nil {
			return nil, xerrors.Errorf("dial chain rpc: %w", err)
		}
		defer client.Close()
	}

	infos := make([]WalletInfo, 0, len(addressList))
	for _, addr := range addressList {
		info := WalletInfo{Address: addr}
		if client != nil {
			if balance, err := client.BalanceAt(ctx, common.HexToAddress(addr), nil); err != nil {
				info.Error = err.Error()
			} else {
				info.Balance = weiToEther(balance)
			}
			if nonce, err := client.PendingNonceAt(ctx, common.HexToAddress(addr)); err != nil {
				info.Error = err.Error()
			} else {
				info.Nonce = nonce
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (w *LocalWallet) addressList() ([]string, error) {
	all, err := w.keystore.List()
	if err != nil {
		return nil, xerrors.Errorf("listing keystore: %w", err)
	}
	addressList := make([]string, 0, len(all))
	for _, a := range all {
		if strings.HasPrefix(a, KNamePrefix) {
			addressList = append(addressList, common.HexToAddress(strings.TrimPrefix(a, KNamePrefix)).Hex())
		}
	}
	return addressList, nil
}

func IsValidAddress(addr string) bool {
	return reAddress.MatchString(addr)
}

func normalize(addr string) string {
	return strings.ToLower(addr)
}

func weiToEther(wei *big.Int) string {
	if wei.Sign() == 0 {
		return "0.0"
	}
	f := new(big.Float).Quo(new(big.Float).SetInt(wei), new(big.Float).SetInt(big.NewInt(1e18)))
	return f.Text('f', 5)
}
