package cv

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrTemplateDecode is returned when a template file exists but cannot be decoded
var ErrTemplateDecode = errors.New("cannot decode template image")

// LoadTemplate reads and decodes a template image from disk. A missing file
// yields an error satisfying errors.Is(err, fs.ErrNotExist).
func LoadTemplate(path string) (*image.RGBA, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open template %s: %w", path, err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTemplateDecode, path, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: %s: empty image", ErrTemplateDecode, path)
	}

	return ToRGBA(img), nil
}
