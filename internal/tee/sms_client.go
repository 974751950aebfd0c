package tee

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lagrangedao/go-tee-worker/internal/chain"
	"github.com/lagrangedao/go-tee-worker/internal/models"
)

var ErrMalformedSmsResponse = errors.New("malformed secret provisioning response")

type Signer interface {
	SignMessage(ctx context.Context, msg []byte) (string, error)
}

// SmsClient reaches the secret management service of a task.
type SmsClient interface {
	GetTeeServicesProperties(ctx context.Context, smsUrl string, framework models.TeeFramework) (*models.TeeServicesProperties, error)
	CreateSession(ctx context.Context, smsUrl string, auth *models.WorkerpoolAuthorization) (*models.TeeSession, error)
}

type HttpSmsClient struct {
	signer Signer
	client *http.Client
}

func NewHttpSmsClient(signer Signer) *HttpSmsClient {
	return &HttpSmsClient{
		signer: signer,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *HttpSmsClient) GetTeeServicesProperties(ctx context.Context, smsUrl string, framework models.TeeFramework) (*models.TeeServicesProperties, error) {
	u := fmt.Sprintf("%s/tee/properties/%s", strings.TrimRight(smsUrl, "/"), strings.ToLower(string(framework)))
	body, err := s.do(ctx, http.MethodGet, u, "", nil)
	if err != nil {
		return nil, err
	}
	var props models.TeeServicesProperties
	if err = json.Unmarshal(body, &props); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSmsResponse, err)
	}
	if props.Framework == "" {
		props.Framework = framework
	}
	if props.Framework != framework || props.PreCompute.Image == "" || props.PostCompute.Image == "" {
		return nil, fmt.Errorf("%w: incomplete tee properties for %s", ErrMalformedSmsResponse, framework)
	}
	return &props, nil
}

func (s *HttpSmsClient) CreateSession(ctx context.Context, smsUrl string, auth *models.WorkerpoolAuthorization) (*models.TeeSession, error) {
	sig, err := s.signer.SignMessage(ctx, common.FromHex(chain.AuthorizationHash(auth)))
	if err != nil {
		return nil, fmt.Errorf("failed sign session request, chainTaskId: %s, error: %w", auth.ChainTaskId, err)
	}
	payload, err := json.Marshal(auth)
	if err != nil {
		return nil, err
	}
	body, err := s.do(ctx, http.MethodPost, strings.TrimRight(smsUrl, "/")+"/tee/sessions", sig, payload)
	if err != nil {
		return nil, err
	}
	var session models.TeeSession
	if err = json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSmsResponse, err)
	}
	if session.SessionId == "" || session.SecretProvisioningUrl == "" {
		return nil, fmt.Errorf("%w: empty session for %s", ErrMalformedSmsResponse, auth.ChainTaskId)
	}
	return &session, nil
}

func (s *HttpSmsClient) do(ctx context.Context, method, u, authorization string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sms %s %s returned %d: %s", method, u, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}
