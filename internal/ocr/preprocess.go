// ============================================================================
// Beaver-OCR Image Preprocessing
// ============================================================================
//
// Package: internal/ocr
// File: preprocess.go
// Purpose: Normalize a rasterized page before upload: downscale when the
//          longer edge exceeds the configured bound (preserving aspect
//          ratio), force an RGB color model, JPEG-encode and base64 the
//          result for the JSON transport.
//
// ============================================================================

package ocr

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// ErrNilImage 表示呼叫端傳入了空影像
var ErrNilImage = errors.New("nil image")

// EncodeJPEG 將頁面影像正規化並編碼為 base64 JPEG
//
// 長邊超過 maxEdge 時以 Catmull-Rom 重採樣等比縮小；
// 無論是否縮放都會繪製到 RGBA 畫布上，統一色彩模式
func EncodeJPEG(img image.Image, maxEdge, quality int) (string, error) {
	if img == nil {
		return "", ErrNilImage
	}

	normalized := normalize(img, maxEdge)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, normalized, &jpeg.Options{Quality: quality}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// normalize 縮放並轉為 RGBA
func normalize(img image.Image, maxEdge int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	long := w
	if h > long {
		long = h
	}

	nw, nh := w, h
	if maxEdge > 0 && long > maxEdge {
		scale := float64(maxEdge) / float64(long)
		nw = int(float64(w) * scale)
		nh = int(float64(h) * scale)
		if nw < 1 {
			nw = 1
		}
		if nh < 1 {
			nh = 1
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
