package result

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/filswan/go-mcs-sdk/mcs/api/bucket"
	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/filswan/go-mcs-sdk/mcs/api/user"
	"github.com/lagrangedao/go-tee-worker/constants"
)

type Uploader interface {
	// Upload stores the zipped result of a task and returns its link.
	Upload(ctx context.Context, chainTaskId, resultDigest, zipPath string) (string, error)
}

type Signer interface {
	SignMessage(ctx context.Context, msg []byte) (string, error)
}

type ResultModel struct {
	ChainTaskId     string `json:"chainTaskId"`
	DeterministHash string `json:"deterministHash"`
	Zip             []byte `json:"zip"`
}

// ProxyClient talks to the result proxy: challenge, login, upload.
type ProxyClient struct {
	baseUrl string
	chainId int64
	signer  Signer
	client  *http.Client

	lk    sync.Mutex
	token string
}

func NewProxyClient(baseUrl string, chainId int64, signer Signer) *ProxyClient {
	return &ProxyClient{
		baseUrl: strings.TrimRight(baseUrl, "/"),
		chainId: chainId,
		signer:  signer,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

func (p *ProxyClient) GetChallenge(ctx context.Context, chainId int64) (string, error) {
	u := fmt.Sprintf("%s/results/challenge?chainId=%s", p.baseUrl, url.QueryEscape(strconv.FormatInt(chainId, 10)))
	body, err := p.do(ctx, http.MethodGet, u, "", nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

func (p *ProxyClient) Login(ctx context.Context, chainId int64, signedChallenge string) (string, error) {
	u := fmt.Sprintf("%s/results/login?chainId=%d", p.baseUrl, chainId)
	body, err := p.do(ctx, http.MethodPost, u, "", []byte(signedChallenge))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

func (p *ProxyClient) UploadResult(ctx context.Context, token string, payload ResultModel) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	body, err := p.do(ctx, http.MethodPost, p.baseUrl+"/results", token, data)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

func (p *ProxyClient) Upload(ctx context.Context, chainTaskId, resultDigest, zipPath string) (string, error) {
	zipBytes, err := os.ReadFile(zipPath)
	if err != nil {
		return "", fmt.Errorf("failed read result zip, path: %s, error: %w", zipPath, err)
	}
	token, err := p.authorize(ctx, false)
	if err != nil {
		return "", err
	}
	payload := ResultModel{ChainTaskId: chainTaskId, DeterministHash: resultDigest, Zip: zipBytes}
	link, err := p.UploadResult(ctx, token, payload)
	if err != nil {
		// token may have expired
		if token, err = p.authorize(ctx, true); err != nil {
			return "", err
		}
		link, err = p.UploadResult(ctx, token, payload)
	}
	if err != nil {
		return "", err
	}
	if link == "" {
		return "", fmt.Errorf("result proxy returned empty link, chainTaskId: %s", chainTaskId)
	}
	return link, nil
}

func (p *ProxyClient) authorize(ctx context.Context, refresh bool) (string, error) {
	p.lk.Lock()
	defer p.lk.Unlock()
	if p.token != "" && !refresh {
		return p.token, nil
	}
	challenge, err := p.GetChallenge(ctx, p.chainId)
	if err != nil {
		return "", fmt.Errorf("failed get result proxy challenge, error: %w", err)
	}
	signed, err := p.signer.SignMessage(ctx, []byte(challenge))
	if err != nil {
		return "", fmt.Errorf("failed sign result proxy challenge, error: %w", err)
	}
	token, err := p.Login(ctx, p.chainId, signed)
	if err != nil {
		return "", fmt.Errorf("failed login result proxy, error: %w", err)
	}
	p.token = token
	return token, nil
}

func (p *ProxyClient) do(ctx context.Context, method, u, token string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("result proxy %s %s returned %d: %s", method, u, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// McsUploader stores results in an MCS bucket.
type McsUploader struct {
	ApiKey      string
	AccessToken string
	Network     string
	BucketName  string
}

func (m *McsUploader) Upload(ctx context.Context, chainTaskId, resultDigest, zipPath string) (string, error) {
	buketClient, err := m.bucketClient()
	if err != nil {
		return "", err
	}
	file, err := m.uploadFileToBucket(buketClient, chainTaskId+"/"+constants.RESULT_ZIP_FILE, zipPath, true)
	if err != nil {
		return "", err
	}
	gatewayUrl, err := buketClient.GetGateway()
	if err != nil {
		return "", fmt.Errorf("failed get mcs ipfs gateway, error: %w", err)
	}
	return ipfsLink(*gatewayUrl, file.PayloadCid)
}

func ipfsLink(gatewayUrl, payloadCid string) (string, error) {
	if payloadCid == "" {
		return "", fmt.Errorf("mcs file has no payload cid")
	}
	return strings.TrimRight(gatewayUrl, "/") + "/ipfs/" + payloadCid, nil
}

func (m *McsUploader) bucketClient() (*bucket.BucketClient, error) {
	mcsClient, err := user.LoginByApikey(m.ApiKey, m.AccessToken, m.Network)
	if err != nil {
		return nil, fmt.Errorf("failed creating mcs client, error: %w", err)
	}
	return bucket.GetBucketClient(*mcsClient), nil
}

func (m *McsUploader) uploadFileToBucket(buketClient *bucket.BucketClient, objectName, filePath string, replace bool) (*bucket.OssFile, error) {
	logs.GetLogger().Infof("uploading file to bucket, objectName: %s, filePath: %s", objectName, filePath)
	file, err := buketClient.GetFile(m.BucketName, objectName)
	if err != nil && !strings.Contains(err.Error(), "record not found") {
		return nil, fmt.Errorf("failed get file from bucket, error: %w", err)
	}
	if file != nil {
		if err = buketClient.DeleteFile(m.BucketName, objectName); err != nil {
			return nil, fmt.Errorf("failed delete file from bucket, error: %w", err)
		}
	}

	if err = buketClient.UploadFile(m.BucketName, objectName, filePath, replace); err != nil {
		return nil, fmt.Errorf("failed upload file to bucket, error: %w", err)
	}

	mcsOssFile, err := buketClient.GetFile(m.BucketName, objectName)
	if err != nil {
		return nil, fmt.Errorf("failed get file from bucket, error: %w", err)
	}
	return mcsOssFile, nil
}
