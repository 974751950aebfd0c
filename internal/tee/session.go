package tee

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/lagrangedao/go-tee-worker/internal/models"
)

var (
	ErrTeeNotSupported        = errors.New("tee framework not supported")
	ErrTeePreparationFailed   = errors.New("tee preparation failed")
	ErrSessionNotFound        = errors.New("tee session not found")
	ErrPropertiesNotAvailable = errors.New("tee properties not available")
)

// SessionManager caches the TEE state of each task: properties, session and LAS assignment.
type SessionManager struct {
	sms           SmsClient
	las           *LasRegistry
	defaultSmsUrl string

	smsUrls      sync.Map // chainTaskId -> string
	properties   sync.Map // chainTaskId -> *models.TeeServicesProperties
	sessions     sync.Map // chainTaskId -> *models.TeeSession
	sessionLocks sync.Map // chainTaskId -> *sync.Mutex
	taskLas      sync.Map // chainTaskId -> *LasService
}

type SessionOption func(m *SessionManager)

// WithDefaultSmsUrl sets the SMS used by tasks that never received one, such
// as tasks resumed after a worker restart.
func WithDefaultSmsUrl(smsUrl string) SessionOption {
	return func(m *SessionManager) {
		m.defaultSmsUrl = strings.TrimSpace(smsUrl)
	}
}

func NewSessionManager(sms SmsClient, las *LasRegistry, opts ...SessionOption) *SessionManager {
	m := &SessionManager{sms: sms, las: las}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// rememberSmsUrl records the SMS url of a task. Empty urls are ignored.
func (m *SessionManager) rememberSmsUrl(chainTaskId, smsUrl string) {
	if smsUrl = strings.TrimSpace(smsUrl); smsUrl != "" {
		m.smsUrls.Store(chainTaskId, smsUrl)
	}
}

func (m *SessionManager) smsUrl(chainTaskId string) (string, bool) {
	if v, ok := m.smsUrls.Load(chainTaskId); ok {
		return v.(string), true
	}
	if m.defaultSmsUrl != "" {
		return m.defaultSmsUrl, true
	}
	return "", false
}

// PrepareForTask fetches the framework properties for the task and starts its LAS when required.
func (m *SessionManager) PrepareForTask(ctx context.Context, desc *models.TaskDescription, smsUrl string) error {
	framework, ok := FrameworkFor(desc.TeeFramework)
	if !ok {
		return fmt.Errorf("%w: %q", ErrTeeNotSupported, desc.TeeFramework)
	}
	m.rememberSmsUrl(desc.ChainTaskId, desc.SmsUrl)
	m.rememberSmsUrl(desc.ChainTaskId, smsUrl)
	if _, ok = m.smsUrl(desc.ChainTaskId); !ok {
		return fmt.Errorf("%w: no sms url for %s", ErrTeePreparationFailed, desc.ChainTaskId)
	}

	props, err := m.GetTeeServicesProperties(ctx, desc.ChainTaskId, framework.Name())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTeePreparationFailed, err)
	}

	if framework.RequiresLas() {
		if props.LasImage == "" {
			return fmt.Errorf("%w: no las image for %s", ErrTeePreparationFailed, desc.ChainTaskId)
		}
		las := m.las.GetOrCreate(props.LasImage)
		if !las.Start(ctx) {
			return fmt.Errorf("%w: las %s did not start", ErrTeePreparationFailed, props.LasImage)
		}
		m.taskLas.Store(desc.ChainTaskId, las)
	}
	return nil
}

func (m *SessionManager) GetTeeServicesProperties(ctx context.Context, chainTaskId string, framework models.TeeFramework) (*models.TeeServicesProperties, error) {
	if v, ok := m.properties.Load(chainTaskId); ok {
		return v.(*models.TeeServicesProperties), nil
	}
	smsUrl, ok := m.smsUrl(chainTaskId)
	if !ok {
		return nil, fmt.Errorf("%w: no sms url for %s", ErrPropertiesNotAvailable, chainTaskId)
	}
	props, err := m.sms.GetTeeServicesProperties(ctx, smsUrl, framework)
	if err != nil {
		return nil, err
	}
	actual, _ := m.properties.LoadOrStore(chainTaskId, props)
	return actual.(*models.TeeServicesProperties), nil
}

// GetOrCreateSession returns the cached session of a task or asks the SMS for one.
// Only callers of the same task wait for each other. A failed or malformed SMS
// response is returned as is and not retried.
func (m *SessionManager) GetOrCreateSession(ctx context.Context, auth *models.WorkerpoolAuthorization) (*models.TeeSession, error) {
	chainTaskId := auth.ChainTaskId
	if v, ok := m.sessions.Load(chainTaskId); ok {
		return v.(*models.TeeSession), nil
	}
	l, _ := m.sessionLocks.LoadOrStore(chainTaskId, &sync.Mutex{})
	lock := l.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()
	if v, ok := m.sessions.Load(chainTaskId); ok {
		return v.(*models.TeeSession), nil
	}

	smsUrl, ok := m.smsUrl(chainTaskId)
	if !ok {
		return nil, fmt.Errorf("%w: no sms url for %s", ErrSessionNotFound, chainTaskId)
	}
	session, err := m.sms.CreateSession(ctx, smsUrl, auth)
	if err != nil {
		logs.GetLogger().Errorf("Failed create tee session, chainTaskId: %s, error: %+v", chainTaskId, err)
		return nil, err
	}
	if session == nil || session.SessionId == "" || session.SecretProvisioningUrl == "" {
		return nil, fmt.Errorf("%w: empty session for %s", ErrMalformedSmsResponse, chainTaskId)
	}
	m.sessions.Store(chainTaskId, session)
	logs.GetLogger().Infof("Created tee session, chainTaskId: %s, sessionId: %s", chainTaskId, session.SessionId)
	return session, nil
}

func (m *SessionManager) GetLas(chainTaskId string) (*LasService, bool) {
	v, ok := m.taskLas.Load(chainTaskId)
	if !ok {
		return nil, false
	}
	return v.(*LasService), true
}

// StageContext collects everything a framework needs for one stage of a task.
func (m *SessionManager) StageContext(ctx context.Context, desc *models.TaskDescription, auth *models.WorkerpoolAuthorization) (Framework, StageContext, error) {
	framework, ok := FrameworkFor(desc.TeeFramework)
	if !ok {
		return nil, StageContext{}, fmt.Errorf("%w: %q", ErrTeeNotSupported, desc.TeeFramework)
	}
	m.rememberSmsUrl(desc.ChainTaskId, desc.SmsUrl)
	props, err := m.GetTeeServicesProperties(ctx, desc.ChainTaskId, framework.Name())
	if err != nil {
		return nil, StageContext{}, err
	}
	session, err := m.GetOrCreateSession(ctx, auth)
	if err != nil {
		return nil, StageContext{}, err
	}
	sc := StageContext{Task: desc, Session: session, Properties: props}
	if las, ok := m.GetLas(desc.ChainTaskId); ok {
		sc.Las = las
	}
	return framework, sc, nil
}

// Purge drops every cached item of a task. Shared LAS containers keep running.
func (m *SessionManager) Purge(chainTaskId string) {
	m.smsUrls.Delete(chainTaskId)
	m.properties.Delete(chainTaskId)
	m.sessions.Delete(chainTaskId)
	m.sessionLocks.Delete(chainTaskId)
	m.taskLas.Delete(chainTaskId)
}
