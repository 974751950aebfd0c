package result

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/lagrangedao/go-tee-worker/constants"
)

var ErrResultFileNameTooLong = errors.New("result file name too long")

// CheckResultFileNames rejects any file under dir whose name exceeds the allowed length.
func CheckResultFileNames(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == dir {
			return nil
		}
		if len(d.Name()) > constants.MAX_RESULT_FILE_NAME_LENGTH {
			return fmt.Errorf("%w: %s", ErrResultFileNameTooLong, d.Name())
		}
		return nil
	})
}

// ZipDir archives srcDir into zipPath with paths relative to srcDir.
func ZipDir(srcDir, zipPath string) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	err = filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		_ = zw.Close()
		return fmt.Errorf("failed zip %s, error: %w", srcDir, err)
	}
	return zw.Close()
}
