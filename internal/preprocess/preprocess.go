package preprocess

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/nfnt/resize"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrDecode is returned when the uploaded bytes are not a supported image.
var ErrDecode = errors.New("failed to decode image")

// Layout is the memory order of the model input tensor.
type Layout string

const (
	// NHWC is batch, height, width, channel (Keras default).
	NHWC Layout = "NHWC"
	// NCHW is batch, channel, height, width (PyTorch exports).
	NCHW Layout = "NCHW"
)

// Normalization is the per-channel scaling applied to 0-255 pixel values.
type Normalization string

const (
	// Caffe converts RGB to BGR and subtracts the ImageNet channel means.
	// This is what VGG16 and ResNet50 were trained with.
	Caffe Normalization = "caffe"
	// TF scales to [-1, 1].
	TF Normalization = "tf"
	// Unit scales to [0, 1].
	Unit Normalization = "unit"
)

// ImageNet means in BGR order.
var caffeMean = [3]float32{103.939, 116.779, 123.68}

// Preprocessor turns an encoded image into a single-item input batch.
type Preprocessor struct {
	size int
}

func New(size int) *Preprocessor {
	return &Preprocessor{size: size}
}

// Size is the side of the square the image is resized to.
func (p *Preprocessor) Size() int {
	return p.size
}

// Preprocess decodes r, resizes to size x size and returns a flat float32
// tensor of shape [1, size, size, 3] or [1, 3, size, size].
func (p *Preprocessor) Preprocess(r io.Reader, layout Layout, norm Normalization) ([]float32, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	log.Debug().Msgf("Image format: %s, dimensions: %dx%d", format, img.Bounds().Dx(), img.Bounds().Dy())

	return p.FromImage(img, layout, norm)
}

// FromImage is Preprocess for an already decoded image.
func (p *Preprocessor) FromImage(img image.Image, layout Layout, norm Normalization) ([]float32, error) {
	size := uint(p.size)
	resized := resize.Resize(size, size, img, resize.NearestNeighbor)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height

	channels := 3
	inputData := make([]float32, channels*plane)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.NRGBAModel.Convert(resized.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			r, g, b, err := normalize(float32(c.R), float32(c.G), float32(c.B), norm)
			if err != nil {
				return nil, err
			}

			pixelIndex := y*width + x
			switch layout {
			case NCHW:
				inputData[pixelIndex] = r
				inputData[plane+pixelIndex] = g
				inputData[2*plane+pixelIndex] = b
			case NHWC, "":
				inputData[pixelIndex*channels] = r
				inputData[pixelIndex*channels+1] = g
				inputData[pixelIndex*channels+2] = b
			default:
				return nil, fmt.Errorf("unknown input layout %q", layout)
			}
		}
	}

	return inputData, nil
}

// normalize returns the three channel values in the order the model expects.
// For caffe that is B, G, R.
func normalize(r, g, b float32, norm Normalization) (float32, float32, float32, error) {
	switch norm {
	case Caffe, "":
		return b - caffeMean[0], g - caffeMean[1], r - caffeMean[2], nil
	case TF:
		return r/127.5 - 1, g/127.5 - 1, b/127.5 - 1, nil
	case Unit:
		return r / 255, g / 255, b / 255, nil
	default:
		return 0, 0, 0, fmt.Errorf("unknown normalization %q", norm)
	}
}
