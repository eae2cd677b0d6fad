// Package images はリモート画像の取得とJPEG変換を提供します。
package images

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	// 標準のpng/jpeg/gifに加えてbmp/tiff/webpもデコードできるようにする
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// jpegQuality は再エンコード時の品質です（最大100の50%）。
const jpegQuality = 50

// publicImageBase は変換後画像の公開パスです。
const publicImageBase = "/processed_images"

// Outcome は入力画像1枚に対する処理結果です。
// Err が nil の場合のみ OutputRef が有効です。
type Outcome struct {
	InputRef  string
	OutputRef string
	Err       error
}

// Storage は変換後画像の保存先を提供します。
type Storage interface {
	ImagePath(name string) string
}

// Processor はリモート画像を取得し、JPEGに変換して保存します。
type Processor struct {
	client  *http.Client
	storage Storage
	newID   func() string
	logger  *log.Logger
}

// NewProcessor は Processor を作成します。
// fetchTimeout は画像1枚あたりの取得タイムアウトです。
func NewProcessor(storage Storage, fetchTimeout time.Duration, logger *log.Logger) *Processor {
	return &Processor{
		client:  &http.Client{Timeout: fetchTimeout},
		storage: storage,
		newID:   uuid.NewString,
		logger:  logger,
	}
}

// ProcessAll は各入力画像を順番に処理し、入力順の結果を返します。
// 個々の失敗は Outcome.Err に記録され、処理は次の画像へ続行します。
// この関数自体が失敗することはありません。
func (p *Processor) ProcessAll(ctx context.Context, inputRefs []string) []Outcome {
	outcomes := make([]Outcome, len(inputRefs))
	for i, ref := range inputRefs {
		outputRef, err := p.processOne(ctx, ref)
		outcomes[i] = Outcome{InputRef: ref, OutputRef: outputRef, Err: err}
		if err != nil {
			p.logf("failed to process image url=%s: %v", ref, err)
		}
	}
	return outcomes
}

func (p *Processor) processOne(ctx context.Context, inputRef string) (string, error) {
	img, err := p.fetch(ctx, inputRef)
	if err != nil {
		return "", err
	}

	name := p.newID() + ".jpg"
	path := p.storage.ImagePath(name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return "", fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	if err := jpeg.Encode(file, flatten(img), &jpeg.Options{Quality: jpegQuality}); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return publicImageBase + "/" + name, nil
}

func (p *Processor) fetch(ctx context.Context, rawURL string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid image url: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status fetching image: %d", resp.StatusCode)
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// flatten はアルファチャンネルやパレットを持つ画像を不透明なRGBキャンバスへ描画します。
// JPEGは3チャンネルしか表現できないため、透過部分は白背景に合成されます。
func flatten(img image.Image) image.Image {
	if _, ok := img.(*image.YCbCr); ok {
		return img
	}
	bounds := img.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(canvas, bounds, img, bounds.Min, draw.Over)
	return canvas
}

func (p *Processor) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}
