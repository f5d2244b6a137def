package dataset

import (
	"image"
	"image/color"
	"math/rand"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// Transform is one image augmentation or preprocessing step.
type Transform interface {
	Apply(img image.Image, rng *rand.Rand) image.Image
}

// Resize scales the image to Width x Height with bilinear interpolation.
type Resize struct {
	Width, Height int
}

func (t Resize) Apply(img image.Image, _ *rand.Rand) image.Image {
	b := img.Bounds()
	if b.Dx() == t.Width && b.Dy() == t.Height {
		return img
	}
	return resize.Resize(uint(t.Width), uint(t.Height), img, resize.Bilinear)
}

// RandomHorizontalFlip mirrors the image left-right with probability P.
type RandomHorizontalFlip struct {
	P float64
}

func (t RandomHorizontalFlip) Apply(img image.Image, rng *rand.Rand) image.Image {
	if rng.Float64() < t.P {
		return imaging.FlipH(img)
	}
	return img
}

// RandomRotation rotates by a uniform angle in [-Degrees, Degrees] around the
// centre. The canvas keeps its size and uncovered corners are black.
type RandomRotation struct {
	Degrees float64
}

func (t RandomRotation) Apply(img image.Image, rng *rand.Rand) image.Image {
	if t.Degrees == 0 {
		return img
	}
	angle := (rng.Float64()*2 - 1) * t.Degrees
	b := img.Bounds()
	rotated := imaging.Rotate(img, angle, color.Black)
	return imaging.CropCenter(rotated, b.Dx(), b.Dy())
}

// Pipeline applies its transforms in order and converts the result to a
// normalised CHW tensor: (pixel/255 - Mean[c]) / Std[c].
type Pipeline struct {
	Transforms []Transform
	Mean       [3]float32
	Std        [3]float32
	Width      int
	Height     int
}

// TrainPipeline is Resize, RandomHorizontalFlip, RandomRotation, Normalize.
func TrainPipeline(size int, flipP, degrees float64, mean, std [3]float32) *Pipeline {
	return &Pipeline{
		Transforms: []Transform{
			Resize{Width: size, Height: size},
			RandomHorizontalFlip{P: flipP},
			RandomRotation{Degrees: degrees},
		},
		Mean:   mean,
		Std:    std,
		Width:  size,
		Height: size,
	}
}

// EvalPipeline is Resize then Normalize.
func EvalPipeline(size int, mean, std [3]float32) *Pipeline {
	return &Pipeline{
		Transforms: []Transform{Resize{Width: size, Height: size}},
		Mean:       mean,
		Std:        std,
		Width:      size,
		Height:     size,
	}
}

// TensorSize is the length of one output tensor.
func (p *Pipeline) TensorSize() int { return 3 * p.Width * p.Height }

// Tensor transforms img and writes the CHW tensor into dst, which must hold
// TensorSize values.
func (p *Pipeline) Tensor(img image.Image, rng *rand.Rand, dst []float32) {
	for _, t := range p.Transforms {
		img = t.Apply(img, rng)
	}
	ToTensor(img, p.Mean, p.Std, dst)
}

// ToTensor converts img to CHW float32 values normalised per channel.
func ToTensor(img image.Image, mean, std [3]float32, dst []float32) {
	nrgba := imaging.Clone(img)
	w, h := nrgba.Rect.Dx(), nrgba.Rect.Dy()
	if len(dst) < 3*w*h {
		panic("ToTensor: destination too small")
	}
	plane := w * h
	for y := 0; y < h; y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+4*w]
		for x := 0; x < w; x++ {
			px := row[4*x : 4*x+3]
			for c := 0; c < 3; c++ {
				dst[c*plane+y*w+x] = (float32(px[c])/255 - mean[c]) / std[c]
			}
		}
	}
}
