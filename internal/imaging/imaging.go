package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"strings"
)

var ErrUnsupportedFormat = errors.New("unsupported image format")

const (
	MIMEPNG  = "image/png"
	MIMEJPEG = "image/jpeg"

	DefaultJPEGQuality = 92
)

// Reference is an uploaded character reference. It is never mutated after
// NewReference returns.
type Reference struct {
	Data     []byte
	MIMEType string
}

type Info struct {
	Width  int
	Height int
	Mode   string
	Format string
}

// NewReference validates an uploaded PNG/JPEG and settles its MIME type.
// The declared type wins unless it is missing or generic.
func NewReference(data []byte, declaredMIME string) (Reference, error) {
	if len(data) == 0 {
		return Reference{}, errors.New("empty image")
	}

	mimeType := normalizeMIME(declaredMIME)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = normalizeMIME(http.DetectContentType(data))
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = MIMEJPEG
	}
	if mimeType == "image/jpg" {
		mimeType = MIMEJPEG
	}

	switch mimeType {
	case MIMEPNG, MIMEJPEG:
	default:
		return Reference{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mimeType)
	}

	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return Reference{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	return Reference{Data: data, MIMEType: mimeType}, nil
}

func (r Reference) Empty() bool {
	return len(r.Data) == 0
}

func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	return img, format, nil
}

// Inspect reads only the image header.
func Inspect(data []byte) (Info, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	return Info{
		Width:  cfg.Width,
		Height: cfg.Height,
		Mode:   modelMode(cfg.ColorModel),
		Format: format,
	}, nil
}

func Describe(img image.Image) Info {
	b := img.Bounds()
	return Info{Width: b.Dx(), Height: b.Dy(), Mode: Mode(img)}
}

// Mode names the channel layout of img: L, RGB, RGBA, P or CMYK.
func Mode(img image.Image) string {
	switch m := img.(type) {
	case *image.Paletted:
		return "P"
	case *image.Gray, *image.Gray16:
		return "L"
	case *image.YCbCr:
		return "RGB"
	case *image.CMYK:
		return "CMYK"
	case *image.RGBA:
		if m.Opaque() {
			return "RGB"
		}
		return "RGBA"
	case *image.RGBA64:
		if m.Opaque() {
			return "RGB"
		}
		return "RGBA"
	case *image.NRGBA:
		if m.Opaque() {
			return "RGB"
		}
		return "RGBA"
	case *image.NRGBA64:
		if m.Opaque() {
			return "RGB"
		}
		return "RGBA"
	}
	return modelMode(img.ColorModel())
}

func modelMode(m color.Model) string {
	switch m {
	case color.GrayModel, color.Gray16Model:
		return "L"
	case color.YCbCrModel:
		return "RGB"
	case color.CMYKModel:
		return "CMYK"
	case color.NRGBAModel, color.NRGBA64Model, color.RGBA64Model:
		return "RGBA"
	case color.RGBAModel:
		return "RGB"
	}
	if _, ok := m.(color.Palette); ok {
		return "P"
	}
	return "RGBA"
}

func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// ToPNG returns data as PNG, passing PNG input through untouched.
func ToPNG(data []byte) ([]byte, error) {
	img, format, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if format == "png" {
		return data, nil
	}
	return EncodePNG(img)
}

// ToJPEG returns data as JPEG, passing JPEG input through untouched.
func ToJPEG(data []byte) ([]byte, error) {
	img, format, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if format == "jpeg" {
		return data, nil
	}
	return EncodeJPEG(img, DefaultJPEGQuality)
}

func normalizeMIME(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if strings.Contains(value, ";") {
		value = strings.TrimSpace(strings.SplitN(value, ";", 2)[0])
	}
	return value
}
