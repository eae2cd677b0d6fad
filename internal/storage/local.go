// Package storage はファイルの保存先を抽象化し、ローカルディスク実装を提供します。
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/yourusername/pixel-forge/internal/config"
)

// Local はローカルファイルシステム上の保存領域を表します。
type Local struct {
	uploadDir string
	imageDir  string
	resultDir string
}

// NewLocal は各保存先ディレクトリを作成し、Local を返します。
func NewLocal(cfg *config.Config) (*Local, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	local := &Local{
		uploadDir: cfg.UploadDir,
		imageDir:  cfg.ImageOutputDir,
		resultDir: cfg.ResultDir,
	}
	for _, dir := range []string{local.uploadDir, local.imageDir, local.resultDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return local, nil
}

// SaveUpload はアップロードされたCSVをジョブIDを付けた名前で保存し、保存先パスを返します。
func (l *Local) SaveUpload(jobID, filename string, src io.Reader) (string, error) {
	path := filepath.Join(l.uploadDir, fmt.Sprintf("%s_%s", jobID, sanitizeFilename(filename)))
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}
	return path, nil
}

// ImagePath は変換後画像の保存先パスを返します。
func (l *Local) ImagePath(name string) string {
	return filepath.Join(l.imageDir, name)
}

// ResultPath はジョブの結果CSVの保存先パスを返します。
func (l *Local) ResultPath(jobID string) string {
	return filepath.Join(l.resultDir, fmt.Sprintf("output_%s.csv", jobID))
}

// Remove は保存済みファイルを削除します。既に存在しない場合は何もしません。
func (l *Local) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// sanitizeFilename はパス区切りや記号を取り除いた安全なファイル名を返します。
func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if sanitized == "" || sanitized == "." || sanitized == ".." {
		return "upload.csv"
	}
	return sanitized
}
