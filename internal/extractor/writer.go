package extractor

import (
	"bufio"
	"image"
	"os"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ImageWriter stores one extracted image.
type ImageWriter interface {
	WritePNG(img image.Image, path string) error
}

// PNGWriter writes PNG files, replacing any file already at the path. The bit depth
// of the image is kept, so 16-bit depth images stay 16-bit.
type PNGWriter struct{}

func (PNGWriter) WritePNG(img image.Image, path string) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()

	w := bufio.NewWriter(f)
	if err := imaging.Encode(w, img, imaging.PNG); err != nil {
		return errors.Wrap(err, "encoding png")
	}
	return w.Flush()
}
