package authorization

import (
	"context"
	"strings"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/lagrangedao/go-tee-worker/internal/chain"
	"github.com/lagrangedao/go-tee-worker/internal/models"
)

type OwnerResolver interface {
	GetWorkerpoolOwner(ctx context.Context, chainTaskId string) (string, error)
}

type Service struct {
	store        Store
	owners       OwnerResolver
	workerWallet string
}

func NewService(store Store, owners OwnerResolver, workerWallet string) *Service {
	return &Service{
		store:        store,
		owners:       owners,
		workerWallet: workerWallet,
	}
}

// IsValid checks the grant targets this worker and is signed by the workerpool owner.
func (s *Service) IsValid(ctx context.Context, auth *models.WorkerpoolAuthorization) bool {
	if auth.IsEmpty() {
		logs.GetLogger().Warnf("Empty authorization")
		return false
	}
	if !strings.EqualFold(auth.WorkerWallet, s.workerWallet) {
		logs.GetLogger().Warnf("Authorization is for another worker, chainTaskId: %s, workerWallet: %s", auth.ChainTaskId, auth.WorkerWallet)
		return false
	}
	owner, err := s.owners.GetWorkerpoolOwner(ctx, auth.ChainTaskId)
	if err != nil {
		logs.GetLogger().Errorf("Failed get workerpool owner, chainTaskId: %s, error: %+v", auth.ChainTaskId, err)
		return false
	}
	if !chain.IsSignedBy(chain.AuthorizationHash(auth), auth.Signature, owner) {
		logs.GetLogger().Warnf("Authorization not signed by workerpool owner, chainTaskId: %s, owner: %s", auth.ChainTaskId, owner)
		return false
	}
	return true
}

// PutAuthorization returns true when auth is valid. The first valid grant for a task is kept.
func (s *Service) PutAuthorization(ctx context.Context, auth *models.WorkerpoolAuthorization) bool {
	if !s.IsValid(ctx, auth) {
		return false
	}
	stored, err := s.store.PutIfAbsent(auth)
	if err != nil {
		logs.GetLogger().Errorf("Failed store authorization, chainTaskId: %s, error: %+v", auth.ChainTaskId, err)
		return false
	}
	if !stored {
		logs.GetLogger().Debugf("Authorization already stored, chainTaskId: %s", auth.ChainTaskId)
	}
	return true
}

func (s *Service) GetAuthorization(chainTaskId string) (*models.WorkerpoolAuthorization, bool) {
	return s.store.Get(chainTaskId)
}

func (s *Service) Purge(chainTaskId string) {
	s.store.Delete(chainTaskId)
}
