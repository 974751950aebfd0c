package authorization

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lagrangedao/go-tee-worker/internal/chain"
	"github.com/lagrangedao/go-tee-worker/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWorker      = "0x1a69b2eb604db8eba185df03ea4f5288dcbbd248"
	testChainTaskId = "0x1111111111111111111111111111111111111111111111111111111111111111"
)

type staticOwner struct {
	owner string
	err   error
}

func (s staticOwner) GetWorkerpoolOwner(ctx context.Context, chainTaskId string) (string, error) {
	return s.owner, s.err
}

func signedAuthorization(t *testing.T, key *ecdsa.PrivateKey, enclaveChallenge string) *models.WorkerpoolAuthorization {
	auth := &models.WorkerpoolAuthorization{
		WorkerWallet:     testWorker,
		ChainTaskId:      testChainTaskId,
		EnclaveChallenge: enclaveChallenge,
	}
	sig, err := chain.SignMessageHash(key, chain.AuthorizationHash(auth))
	require.NoError(t, err)
	auth.Signature = sig
	return auth
}

func newTestService(t *testing.T) (*Service, *ecdsa.PrivateKey) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(key.PublicKey).Hex()
	return NewService(NewMemoryStore(time.Hour), staticOwner{owner: owner}, testWorker), key
}

func TestPutAuthorizationFirstValidWins(t *testing.T) {
	s, key := newTestService(t)
	first := signedAuthorization(t, key, models.ZeroAddress)
	second := signedAuthorization(t, key, "0x0000000000000000000000000000000000000001")

	assert.True(t, s.PutAuthorization(context.Background(), first))
	assert.True(t, s.PutAuthorization(context.Background(), second))

	stored, ok := s.GetAuthorization(testChainTaskId)
	require.True(t, ok)
	assert.Equal(t, first.EnclaveChallenge, stored.EnclaveChallenge)
	assert.Equal(t, first.Signature, stored.Signature)
}

func TestPutAuthorizationRejectsInvalid(t *testing.T) {
	s, key := newTestService(t)

	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	assert.False(t, s.PutAuthorization(context.Background(), signedAuthorization(t, other, models.ZeroAddress)))

	wrongWorker := signedAuthorization(t, key, models.ZeroAddress)
	wrongWorker.WorkerWallet = "0x0000000000000000000000000000000000000002"
	assert.False(t, s.PutAuthorization(context.Background(), wrongWorker))

	assert.False(t, s.PutAuthorization(context.Background(), &models.WorkerpoolAuthorization{}))

	_, ok := s.GetAuthorization(testChainTaskId)
	assert.False(t, ok)
}

func TestPutAuthorizationOwnerLookupFails(t *testing.T) {
	_, key := newTestService(t)
	s := NewService(NewMemoryStore(time.Hour), staticOwner{err: errors.New("rpc down")}, testWorker)
	assert.False(t, s.PutAuthorization(context.Background(), signedAuthorization(t, key, models.ZeroAddress)))
}

func TestPurge(t *testing.T) {
	s, key := newTestService(t)
	require.True(t, s.PutAuthorization(context.Background(), signedAuthorization(t, key, models.ZeroAddress)))
	s.Purge(testChainTaskId)
	_, ok := s.GetAuthorization(testChainTaskId)
	assert.False(t, ok)
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }

	auth := &models.WorkerpoolAuthorization{ChainTaskId: "0xAB", Signature: "0x01"}
	stored, err := store.PutIfAbsent(auth)
	require.NoError(t, err)
	assert.True(t, stored)

	got, ok := store.Get("0xab")
	require.True(t, ok)
	assert.Equal(t, "0xAB", got.ChainTaskId)

	now = now.Add(2 * time.Minute)
	_, ok = store.Get("0xab")
	assert.False(t, ok)

	stored, err = store.PutIfAbsent(auth)
	require.NoError(t, err)
	assert.True(t, stored)
}
