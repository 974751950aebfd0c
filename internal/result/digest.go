package result

import (
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lagrangedao/go-tee-worker/constants"
)

// ComputeWeb3ResultDigest is keccak256 of the callback data bytes.
func ComputeWeb3ResultDigest(callbackData string) string {
	if strings.TrimSpace(callbackData) == "" {
		return ""
	}
	return crypto.Keccak256Hash(common.FromHex(callbackData)).Hex()
}

// ComputeWeb2ResultDigest hashes path. A file digests to its sha256; a
// directory digests to the sha256 of its files' hashes in lexical path order.
// computed.json is excluded.
func ComputeWeb2ResultDigest(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed stat result path %s, error: %w", path, err)
	}
	if !info.IsDir() {
		sum, err := fileSha256(path)
		if err != nil {
			return "", err
		}
		return hexutil.Encode(sum), nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || (filepath.Dir(p) == filepath.Clean(path) && d.Name() == constants.COMPUTED_FILE) {
			return nil
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed walk result dir %s, error: %w", path, err)
	}
	if len(files) == 0 {
		return "", nil
	}
	sort.Strings(files)

	if len(files) == 1 {
		sum, err := fileSha256(files[0])
		if err != nil {
			return "", err
		}
		return hexutil.Encode(sum), nil
	}

	h := sha256.New()
	for _, f := range files {
		sum, err := fileSha256(f)
		if err != nil {
			return "", err
		}
		h.Write(sum)
	}
	return hexutil.Encode(h.Sum(nil)), nil
}

func fileSha256(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err = io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// FileChecksum is the 0x-hex sha256 of a file.
func FileChecksum(path string) (string, error) {
	sum, err := fileSha256(path)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sum), nil
}
