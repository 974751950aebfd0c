package computing

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/lagrangedao/go-tee-worker/internal/models"
)

var ErrBadChecksum = errors.New("downloaded file checksum mismatch")

// Downloader fetches datasets and input files of standard tasks into the task input folder.
type Downloader struct {
	client *http.Client
}

func NewDownloader(timeout time.Duration) *Downloader {
	return &Downloader{client: &http.Client{Timeout: timeout}}
}

// DownloadData returns the failure cause of the download, empty on success.
func (d *Downloader) DownloadData(ctx context.Context, desc *models.TaskDescription, inputDir string) models.ReplicateStatusCause {
	if err := os.MkdirAll(inputDir, 0755); err != nil {
		logs.GetLogger().Errorf("Failed create input dir, chainTaskId: %s, error: %+v", desc.ChainTaskId, err)
		return models.CauseDatasetFileDownloadFailed
	}

	if desc.ContainsDataset() {
		name := desc.DatasetName
		if name == "" {
			name = fileNameFromUrl(desc.DatasetUri)
		}
		target := filepath.Join(inputDir, name)
		if err := d.downloadFile(ctx, target, desc.DatasetUri, desc.DatasetChecksum); err != nil {
			logs.GetLogger().Errorf("Failed download dataset, chainTaskId: %s, url: %s, error: %+v", desc.ChainTaskId, desc.DatasetUri, err)
			if errors.Is(err, ErrBadChecksum) {
				return models.CauseDatasetFileBadChecksum
			}
			return models.CauseDatasetFileDownloadFailed
		}
	}

	for _, fileUrl := range desc.InputFiles {
		target := filepath.Join(inputDir, fileNameFromUrl(fileUrl))
		if err := d.downloadFile(ctx, target, fileUrl, ""); err != nil {
			logs.GetLogger().Errorf("Failed download input file, chainTaskId: %s, url: %s, error: %+v", desc.ChainTaskId, fileUrl, err)
			return models.CauseInputFilesDownloadFailed
		}
	}
	return ""
}

func (d *Downloader) downloadFile(ctx context.Context, target, fileUrl, checksum string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileUrl, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("url: %s, unexpected status code: %d", fileUrl, resp.StatusCode)
	}

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	defer out.Close()

	h := sha256.New()
	if _, err = io.Copy(io.MultiWriter(out, h), resp.Body); err != nil {
		return err
	}

	checksum = strings.TrimSpace(checksum)
	if checksum == "" || isZeroHash(checksum) {
		return nil
	}
	got := fmt.Sprintf("0x%x", h.Sum(nil))
	if !strings.EqualFold(strings.TrimPrefix(got, "0x"), strings.TrimPrefix(checksum, "0x")) {
		return fmt.Errorf("%w: expected %s, got %s", ErrBadChecksum, checksum, got)
	}
	return nil
}

func fileNameFromUrl(fileUrl string) string {
	if u, err := url.Parse(fileUrl); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(fileUrl)
}

func isZeroHash(h string) bool {
	return strings.Trim(strings.TrimPrefix(h, "0x"), "0") == ""
}
