package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/lagrangedao/go-tee-worker/internal/models"
)

var ErrUnauthorized = errors.New("scheduler rejected worker credentials")

type Signer interface {
	SignMessage(ctx context.Context, msg []byte) (string, error)
}

// Client is the worker side of the scheduler REST API. Every call but the
// login ones carries the JWT obtained from Login.
type Client struct {
	baseUrl       string
	walletAddress string
	signer        Signer
	client        *http.Client
	reportTimeout time.Duration

	lk    sync.Mutex
	token string
}

func NewClient(baseUrl, walletAddress string, signer Signer, reportTimeout time.Duration) *Client {
	return &Client{
		baseUrl:       strings.TrimRight(baseUrl, "/"),
		walletAddress: walletAddress,
		signer:        signer,
		client:        &http.Client{Timeout: time.Minute},
		reportTimeout: reportTimeout,
	}
}

func (c *Client) Token() string {
	c.lk.Lock()
	defer c.lk.Unlock()
	return c.token
}

// Login signs the scheduler challenge with the worker wallet and keeps the returned token.
func (c *Client) Login(ctx context.Context) error {
	challengeUrl := fmt.Sprintf("%s/workers/challenge?walletAddress=%s", c.baseUrl, url.QueryEscape(c.walletAddress))
	challenge, err := c.send(ctx, http.MethodGet, challengeUrl, "", nil)
	if err != nil {
		return fmt.Errorf("failed get scheduler challenge, error: %w", err)
	}
	signature, err := c.signer.SignMessage(ctx, []byte(unquote(challenge)))
	if err != nil {
		return fmt.Errorf("failed sign scheduler challenge, error: %w", err)
	}

	loginUrl := fmt.Sprintf("%s/workers/login?walletAddress=%s", c.baseUrl, url.QueryEscape(c.walletAddress))
	token, err := c.send(ctx, http.MethodPost, loginUrl, "", []byte(signature))
	if err != nil {
		return fmt.Errorf("failed login scheduler, error: %w", err)
	}
	if unquote(token) == "" {
		return fmt.Errorf("scheduler returned an empty token")
	}

	c.lk.Lock()
	c.token = unquote(token)
	c.lk.Unlock()
	logs.GetLogger().Infof("Logged in scheduler, walletAddress: %s", c.walletAddress)
	return nil
}

func (c *Client) Register(ctx context.Context, worker models.WorkerModel) error {
	data, err := json.Marshal(worker)
	if err != nil {
		return err
	}
	_, err = c.authorized(ctx, http.MethodPost, c.baseUrl+"/workers/register", data)
	return err
}

// Ping returns the current scheduler session id. A changed id means the
// scheduler restarted and the worker must reconnect.
func (c *Client) Ping(ctx context.Context) (string, error) {
	body, err := c.authorized(ctx, http.MethodPost, c.baseUrl+"/workers/ping", nil)
	if err != nil {
		return "", err
	}
	return unquote(body), nil
}

// ReportStatus sends one status update and returns the next notification
// type, empty when the scheduler has nothing to add. It is never retried.
func (c *Client) ReportStatus(ctx context.Context, chainTaskId string, update models.ReplicateStatusUpdate) (models.TaskNotificationType, error) {
	data, err := json.Marshal(update)
	if err != nil {
		return "", err
	}
	if c.reportTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.reportTimeout)
		defer cancel()
	}
	u := fmt.Sprintf("%s/replicates/%s/updateStatus", c.baseUrl, url.PathEscape(chainTaskId))
	body, err := c.authorized(ctx, http.MethodPost, u, data)
	if err != nil {
		return "", err
	}
	return models.TaskNotificationType(unquote(body)), nil
}

// GetMissedNotifications returns the notifications of interrupted replicates since blockNumber.
func (c *Client) GetMissedNotifications(ctx context.Context, blockNumber uint64) ([]models.TaskNotification, error) {
	u := fmt.Sprintf("%s/replicates/interrupted?blockNumber=%d", c.baseUrl, blockNumber)
	body, err := c.authorized(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var notifications []models.TaskNotification
	if err = json.Unmarshal(body, &notifications); err != nil {
		return nil, fmt.Errorf("failed parse missed notifications, error: %w", err)
	}
	return notifications, nil
}

// GetAvailableReplicate asks for a new assignment. nil, nil means none is available.
func (c *Client) GetAvailableReplicate(ctx context.Context, blockNumber uint64) (*models.ReplicateTaskSummary, error) {
	u := fmt.Sprintf("%s/replicates/available?blockNumber=%d", c.baseUrl, blockNumber)
	body, err := c.authorized(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var summary models.ReplicateTaskSummary
	if err = json.Unmarshal(body, &summary); err != nil {
		return nil, fmt.Errorf("failed parse available replicate, error: %w", err)
	}
	if summary.WorkerpoolAuthorization.IsEmpty() {
		return nil, nil
	}
	return &summary, nil
}

// authorized sends with the current token, logging in again once on 401.
func (c *Client) authorized(ctx context.Context, method, u string, body []byte) ([]byte, error) {
	data, err := c.send(ctx, method, u, c.Token(), body)
	if !errors.Is(err, ErrUnauthorized) {
		return data, err
	}
	if err = c.Login(ctx); err != nil {
		return nil, err
	}
	return c.send(ctx, method, u, c.Token(), body)
}

func (c *Client) send(ctx context.Context, method, u, token string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: %s %s", ErrUnauthorized, method, u)
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode/100 != 2:
		return nil, fmt.Errorf("scheduler %s %s returned %d: %s", method, u, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

func unquote(body []byte) string {
	s := strings.TrimSpace(string(body))
	if strings.HasPrefix(s, "\"") {
		var v string
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
	}
	return s
}
