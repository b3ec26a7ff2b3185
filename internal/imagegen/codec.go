package imagegen

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"

	// Register decoders for the formats providers and users actually send.
	_ "image/gif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// jpegQuality is used when the output path asks for JPEG.
const jpegQuality = 92

// RenderImageToOutput decodes an image file, flattens it to opaque RGB and
// re-encodes it at the output path's format. Used both for downloaded
// provider images and for copying cache hits into a segment workspace, so a
// transparent or exotic source never reaches the encoder.
func RenderImageToOutput(srcPath, dstPath string) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("reading image %s: %w", srcPath, err)
	}
	return WriteImageBytes(data, dstPath)
}

// WriteImageBytes decodes raw image bytes and writes them to dstPath as
// opaque RGB in the format the extension names.
func WriteImageBytes(data []byte, dstPath string) error {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decoding image (%s): %w", format, err)
	}
	return encodeImageFile(flattenRGB(img), dstPath)
}

// flattenRGB composites the image over a white background, discarding alpha.
func flattenRGB(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(out, out.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), img, bounds.Min, draw.Over)
	return out
}

// encodeImageFile writes the image in the format the extension names,
// defaulting to PNG.
func encodeImageFile(img image.Image, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating image directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: jpegQuality})
	default:
		err = png.Encode(file, img)
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("encoding image %s: %w", path, err)
	}
	return nil
}

// ScaleImage resizes an image to the given size with bilinear filtering.
// Used by the thumbnail endpoint.
func ScaleImage(img image.Image, width, height int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(out, out.Bounds(), img, img.Bounds(), draw.Over, nil)
	return out
}
