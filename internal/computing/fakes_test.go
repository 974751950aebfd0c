package computing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/lagrangedao/go-tee-worker/internal/consensus"
	"github.com/lagrangedao/go-tee-worker/internal/models"
	"github.com/lagrangedao/go-tee-worker/internal/pipeline"
	"github.com/lagrangedao/go-tee-worker/internal/scheduler"
)

const (
	taskId       = "0x1111111111111111111111111111111111111111111111111111111111111111"
	workerWallet = "0x1a69b2eb604db8eba185df03ea4f5288dcbbd248"
	resultDigest = "0x2222222222222222222222222222222222222222222222222222222222222222"
)

type fakeChain struct {
	mu           sync.Mutex
	task         *models.ChainTask
	desc         *models.TaskDescription
	lowGas       bool
	contributed  []string // resultHash, resultSeal, enclaveChallenge
	revealed     []string
	contributeEr error
}

func (f *fakeChain) GetChainTask(ctx context.Context, chainTaskId string) (*models.ChainTask, error) {
	return f.task, nil
}

func (f *fakeChain) GetTaskDescription(ctx context.Context, chainTaskId string) (*models.TaskDescription, error) {
	return f.desc, nil
}

func (f *fakeChain) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	return 100, nil
}

func (f *fakeChain) HasEnoughGas(ctx context.Context) bool {
	return !f.lowGas
}

func (f *fakeChain) Contribute(ctx context.Context, auth *models.WorkerpoolAuthorization, resultHash, resultSeal, enclaveChallenge, enclaveSignature string) (*models.ChainReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.contributeEr != nil {
		return nil, f.contributeEr
	}
	f.contributed = []string{resultHash, resultSeal, enclaveChallenge}
	return &models.ChainReceipt{BlockNumber: 101, TxHash: "0xc0"}, nil
}

func (f *fakeChain) Reveal(ctx context.Context, chainTaskId, digest string) (*models.ChainReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revealed = append(f.revealed, digest)
	return &models.ChainReceipt{BlockNumber: 102, TxHash: "0xr0"}, nil
}

type fakeCompute struct {
	results *fakeResults
	present bool
	block   chan struct{}
	causes  []models.ReplicateStatusCause
	smsUrl  string
}

func (f *fakeCompute) IsAppPresent(ctx context.Context, desc *models.TaskDescription) bool {
	return f.present
}

func (f *fakeCompute) DownloadApp(ctx context.Context, desc *models.TaskDescription) bool {
	f.present = true
	return true
}

func (f *fakeCompute) RunCompute(ctx context.Context, desc *models.TaskDescription, auth *models.WorkerpoolAuthorization) pipeline.ComputeResponse {
	if f.block != nil {
		<-f.block
	}
	f.smsUrl = desc.SmsUrl
	if len(f.causes) > 0 {
		return pipeline.ComputeResponse{Stage: models.AppComputeStage, Causes: f.causes}
	}
	f.results.setDigest(desc.ChainTaskId, resultDigest)
	return pipeline.ComputeResponse{Stage: models.PostComputeStage}
}

type fakeDownloader struct {
	cause models.ReplicateStatusCause
}

func (f *fakeDownloader) DownloadData(ctx context.Context, desc *models.TaskDescription, inputDir string) models.ReplicateStatusCause {
	return f.cause
}

type fakeResults struct {
	mu      sync.Mutex
	digests map[string]string
	removed []string
	purged  []string
}

func newFakeResults() *fakeResults {
	return &fakeResults{digests: map[string]string{}}
}

func (f *fakeResults) setDigest(chainTaskId, digest string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.digests[chainTaskId] = digest
}

func (f *fakeResults) InputDir(chainTaskId string) string { return "/tmp/" + chainTaskId + "/input" }

func (f *fakeResults) PrepareTaskDirs(chainTaskId string) error { return nil }

func (f *fakeResults) RemoveTaskDir(chainTaskId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, chainTaskId)
	return nil
}

func (f *fakeResults) GetComputedFile(chainTaskId string) (*models.ComputedFile, bool) {
	digest, ok := f.GetResultDigest(chainTaskId)
	if !ok {
		return nil, false
	}
	return &models.ComputedFile{TaskId: chainTaskId, ResultDigest: digest, EnclaveSignature: "0xenclave"}, true
}

func (f *fakeResults) GetResultDigest(chainTaskId string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.digests[chainTaskId]
	return d, ok
}

func (f *fakeResults) UploadResult(ctx context.Context, desc *models.TaskDescription) (*models.ReplicateStatusDetails, error) {
	return &models.ReplicateStatusDetails{ResultLink: "https://results/" + desc.ChainTaskId}, nil
}

func (f *fakeResults) Purge(chainTaskId string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged = append(f.purged, chainTaskId)
	delete(f.digests, chainTaskId)
}

type fakeEligibility struct {
	contribute consensus.ContributeCheck
	reveal     consensus.RevealCheck
}

func eligible() *fakeEligibility {
	return &fakeEligibility{
		contribute: consensus.ContributeCheck{ChainTaskFound: true, ChainTaskActive: true, BeforeConsensusDeadline: true, ContributionUnset: true},
		reveal: consensus.RevealCheck{ChainTaskFound: true, ChainTaskRevealing: true, BeforeRevealDeadline: true,
			ContributionFound: true, ContributionStatusOk: true, ConsensusValueMatches: true,
			ResultDigestFound: true, ResultHashMatches: true, ResultSealMatches: true},
	}
}

func (f *fakeEligibility) CheckContribute(ctx context.Context, chainTaskId string) consensus.ContributeCheck {
	return f.contribute
}

func (f *fakeEligibility) CheckReveal(ctx context.Context, chainTaskId string) consensus.RevealCheck {
	return f.reveal
}

type fakeAuthorizations struct {
	mu     sync.Mutex
	auths  map[string]*models.WorkerpoolAuthorization
	reject bool
}

func newFakeAuthorizations() *fakeAuthorizations {
	return &fakeAuthorizations{auths: map[string]*models.WorkerpoolAuthorization{}}
}

func (f *fakeAuthorizations) PutAuthorization(ctx context.Context, auth *models.WorkerpoolAuthorization) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return false
	}
	if _, ok := f.auths[auth.ChainTaskId]; !ok {
		f.auths[auth.ChainTaskId] = auth
	}
	return true
}

func (f *fakeAuthorizations) GetAuthorization(chainTaskId string) (*models.WorkerpoolAuthorization, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.auths[chainTaskId]
	return a, ok
}

func (f *fakeAuthorizations) Purge(chainTaskId string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.auths, chainTaskId)
}

type fakeTee struct {
	prepareErr error
	purged     []string
}

func (f *fakeTee) PrepareForTask(ctx context.Context, desc *models.TaskDescription, smsUrl string) error {
	return f.prepareErr
}

func (f *fakeTee) Purge(chainTaskId string) { f.purged = append(f.purged, chainTaskId) }

type fakeExitCauses struct{ purged []string }

func (f *fakeExitCauses) Purge(chainTaskId string) { f.purged = append(f.purged, chainTaskId) }

type fakeStopper struct {
	mu      sync.Mutex
	stopped []string
}

func (f *fakeStopper) StopContainersMatching(ctx context.Context, pattern string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, pattern)
	return 0
}

func (f *fakeStopper) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stopped)
}

type report struct {
	status  models.ReplicateStatus
	details *models.ReplicateStatusDetails
}

// fakeReporter plays the scheduler: it answers each status with the next step.
type fakeReporter struct {
	mu      sync.Mutex
	next    map[models.ReplicateStatus]models.TaskNotificationType
	failOn  models.ReplicateStatus
	reports []report
}

func (f *fakeReporter) ReportStatus(ctx context.Context, chainTaskId string, update models.ReplicateStatusUpdate) (models.TaskNotificationType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, report{status: update.Status, details: update.Details})
	if update.Status == f.failOn {
		return "", errors.New("connection reset")
	}
	return f.next[update.Status], nil
}

func (f *fakeReporter) statuses() []models.ReplicateStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	var s []models.ReplicateStatus
	for _, r := range f.reports {
		s = append(s, r.status)
	}
	return s
}

func (f *fakeReporter) last() report {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reports[len(f.reports)-1]
}

type fakeSubscriptions struct {
	mu           sync.Mutex
	subscribed   map[string]bool
	unsubscribed []string
}

func newFakeSubscriptions() *fakeSubscriptions {
	return &fakeSubscriptions{subscribed: map[string]bool{}}
}

func (f *fakeSubscriptions) Subscribe(chainTaskId string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed[chainTaskId] = true
}

func (f *fakeSubscriptions) Unsubscribe(chainTaskId string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscribed, chainTaskId)
	f.unsubscribed = append(f.unsubscribed, chainTaskId)
}

func (f *fakeSubscriptions) isSubscribed(chainTaskId string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed[chainTaskId]
}

type fakeSession struct {
	logins  int
	pings   []string
	missed  []models.TaskNotification
	workers []models.WorkerModel
}

func (f *fakeSession) Login(ctx context.Context) error {
	f.logins++
	return nil
}

func (f *fakeSession) Register(ctx context.Context, worker models.WorkerModel) error {
	f.workers = append(f.workers, worker)
	return nil
}

func (f *fakeSession) Ping(ctx context.Context) (string, error) {
	if len(f.pings) == 0 {
		return "", errors.New("no session")
	}
	id := f.pings[0]
	if len(f.pings) > 1 {
		f.pings = f.pings[1:]
	}
	return id, nil
}

func (f *fakeSession) GetMissedNotifications(ctx context.Context, blockNumber uint64) ([]models.TaskNotification, error) {
	return f.missed, nil
}

type fakeBus struct {
	*fakeSubscriptions
	mu       sync.Mutex
	connects int
	events   chan scheduler.Event
}

func newFakeBus() *fakeBus {
	return &fakeBus{fakeSubscriptions: newFakeSubscriptions(), events: make(chan scheduler.Event, 4)}
}

func (f *fakeBus) Connect(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return true
}

func (f *fakeBus) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeBus) Events() <-chan scheduler.Event { return f.events }

type harness struct {
	chain         *fakeChain
	compute       *fakeCompute
	downloader    *fakeDownloader
	results       *fakeResults
	eligibility   *fakeEligibility
	auths         *fakeAuthorizations
	tee           *fakeTee
	exitCauses    *fakeExitCauses
	stopper       *fakeStopper
	reporter      *fakeReporter
	subscriptions *fakeSubscriptions
	manager       *TaskManager
	service       *TaskNotificationService
}

func standardDescription() *models.TaskDescription {
	return &models.TaskDescription{
		ChainTaskId:      taskId,
		AppUri:           "app:v1",
		MaxExecutionTime: 600 * time.Second,
		BotSize:          1,
	}
}

func newHarness(teeEnabled bool) *harness {
	results := newFakeResults()
	h := &harness{
		chain: &fakeChain{
			task: &models.ChainTask{ChainTaskId: taskId, Status: models.ChainTaskActive},
			desc: standardDescription(),
		},
		compute:       &fakeCompute{results: results},
		downloader:    &fakeDownloader{},
		results:       results,
		eligibility:   eligible(),
		auths:         newFakeAuthorizations(),
		tee:           &fakeTee{},
		exitCauses:    &fakeExitCauses{},
		stopper:       &fakeStopper{},
		reporter:      &fakeReporter{next: map[models.ReplicateStatus]models.TaskNotificationType{}},
		subscriptions: newFakeSubscriptions(),
	}
	h.auths.auths[taskId] = &models.WorkerpoolAuthorization{
		WorkerWallet: workerWallet, ChainTaskId: taskId, EnclaveChallenge: "0x3333333333333333333333333333333333333333", Signature: "0xsig",
	}
	h.rebuild(teeEnabled, h.tee)
	return h
}

// rebuild creates a fresh manager and service over the same fakes, as a
// restarted worker would.
func (h *harness) rebuild(teeEnabled bool, teeService TeeService) {
	h.manager = NewTaskManager(workerWallet, teeEnabled, TaskManagerDeps{
		Chain:          h.chain,
		Compute:        h.compute,
		Downloader:     h.downloader,
		Results:        h.results,
		Eligibility:    h.eligibility,
		Authorizations: h.auths,
		Tee:            teeService,
		ExitCauses:     h.exitCauses,
		Containers:     h.stopper,
	})
	h.service = NewTaskNotificationService(context.Background(), h.manager, h.auths, h.reporter, h.subscriptions)
}

func (h *harness) publish(t models.TaskNotificationType) {
	h.service.Publish(models.TaskNotification{ChainTaskId: taskId, Type: t})
	h.service.Wait()
}

func hasCause(details *models.ReplicateStatusDetails, cause models.ReplicateStatusCause) bool {
	if details == nil {
		return false
	}
	for _, c := range details.Causes {
		if strings.EqualFold(string(c), string(cause)) {
			return true
		}
	}
	return false
}
