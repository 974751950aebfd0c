package wallet

import (
	"encoding/json"
	"os"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
	"golang.org/x/xerrors"
)

// KeyInfo is used for storing keys in KeyStore
type KeyInfo struct {
	PrivateKey string
}

// KeyStore is used for storing secret keys
type KeyStore interface {
	// List lists all the keys stored in the KeyStore
	List() ([]string, error)
	// Get gets a key out of keystore and returns KeyInfo corresponding to named key
	Get(string) (KeyInfo, error)
	// Put saves a key info under given name
	Put(string, KeyInfo) error
	// Delete removes a key from keystore
	Delete(string) error
	Close() error
}

type DiskKeyStore struct {
	db *leveldb.DB
}

func OpenOrInitKeystore(p string) (*DiskKeyStore, error) {
	if err := os.MkdirAll(p, 0700); err != nil {
		return nil, xerrors.Errorf("creating keystore dir %s: %w", p, err)
	}
	db, err := leveldb.OpenFile(p, nil)
	if err != nil {
		return nil, xerrors.Errorf("opening keystore %s: %w", p, err)
	}
	return &DiskKeyStore{db}, nil
}

func (dks *DiskKeyStore) List() ([]string, error) {
	var keys []string
	iter := dks.db.NewIterator(util.BytesPrefix([]byte(KNamePrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		keys = append(keys, string(iter.Key()))
	}
	return keys, iter.Error()
}

func (dks *DiskKeyStore) Get(name string) (KeyInfo, error) {
	value, err := dks.db.Get([]byte(name), nil)
	if err == leveldb.ErrNotFound {
		return KeyInfo{}, xerrors.Errorf("getting key '%s': %w", name, ErrKeyInfoNotFound)
	}
	if err != nil {
		return KeyInfo{}, xerrors.Errorf("getting key '%s': %w", name, err)
	}
	var res KeyInfo
	if err = json.Unmarshal(value, &res); err != nil {
		return KeyInfo{}, xerrors.Errorf("decoding key '%s': %w", name, err)
	}
	return res, nil
}

func (dks *DiskKeyStore) Put(key string, info KeyInfo) error {
	if ok, _ := dks.db.Has([]byte(key), nil); ok {
		return xerrors.Errorf("writing key '%s': %w", key, ErrKeyExists)
	}
	bytes, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if err = dks.db.Put([]byte(key), bytes, nil); err != nil {
		return xerrors.Errorf("writing key '%s': %w", key, err)
	}
	return nil
}

func (dks *DiskKeyStore) Delete(key string) error {
	if err := dks.db.Delete([]byte(key), nil); err != nil {
		return xerrors.Errorf("deleting key '%s': %w", key, err)
	}
	return nil
}

func (dks *DiskKeyStore) Close() error {
	return dks.db.Close()
}
