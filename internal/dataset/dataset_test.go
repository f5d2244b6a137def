package dataset

import (
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/pkg/errors"
)

// writePNG writes a w x h image filled with c.
func writePNG(t *testing.T, path string, w, h int, c color.Color) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

// makeSplit creates root/<class>/<i>.png files.
func makeSplit(t *testing.T, counts map[string]int) string {
	t.Helper()
	root := t.TempDir()
	for class, n := range counts {
		for i := 0; i < n; i++ {
			writePNG(t, filepath.Join(root, class, string(rune('a'+i))+".png"), 6, 4, color.NRGBA{R: 255, A: 255})
		}
	}
	return root
}

func TestImageFolderExplicitClasses(t *testing.T) {
	root := makeSplit(t, map[string]int{"fake": 2, "REAL": 3, "other": 4})
	os.WriteFile(filepath.Join(root, "fake", "notes.txt"), []byte("x"), 0o644)

	ds, err := NewImageFolder(root, []string{"Real", "Fake"}, nil)
	if err != nil {
		t.Fatalf("NewImageFolder: %v", err)
	}
	if ds.Len() != 5 {
		t.Errorf("Len = %d, want 5", ds.Len())
	}
	if got := ds.ClassDistribution(); !slices.Equal(got, []int{3, 2}) {
		t.Errorf("ClassDistribution = %v, want [3 2]", got)
	}
	if !slices.Equal(ds.ClassNames(), []string{"Real", "Fake"}) {
		t.Errorf("ClassNames = %v", ds.ClassNames())
	}
	path, label, err := ds.GetItem(0)
	if err != nil || label != 0 || filepath.Base(filepath.Dir(path)) != "REAL" {
		t.Errorf("GetItem(0) = %s, %d, %v", path, label, err)
	}
}

func TestImageFolderInferredClasses(t *testing.T) {
	root := makeSplit(t, map[string]int{"b": 1, "a": 2})
	ds, err := NewImageFolder(root, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(ds.ClassNames(), []string{"a", "b"}) {
		t.Errorf("ClassNames = %v, want [a b]", ds.ClassNames())
	}
	if !slices.Equal(ds.Labels(), []int{0, 0, 1}) {
		t.Errorf("Labels = %v, want [0 0 1]", ds.Labels())
	}
}

func TestImageFolderErrors(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.png")
	writePNG(t, file, 2, 2, color.Black)

	emptyClasses := t.TempDir()
	os.MkdirAll(filepath.Join(emptyClasses, "Real"), 0o755)
	os.MkdirAll(filepath.Join(emptyClasses, "Fake"), 0o755)

	tests := []struct {
		name string
		root string
		want error
	}{
		{"missing root", filepath.Join(t.TempDir(), "nope"), ErrMissingDirectory},
		{"root is a file", file, ErrMissingDirectory},
		{"no class folders", t.TempDir(), ErrMissingDirectory},
		{"unlisted folders only", makeSplit(t, map[string]int{"cats": 1}), ErrMissingDirectory},
		{"no images", emptyClasses, ErrEmptyDataset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewImageFolder(tt.root, []string{"Real", "Fake"}, nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestToTensorNormalisation(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.NRGBA{R: 255, G: 0, B: 51, A: 255})
	img.Set(1, 0, color.NRGBA{R: 0, G: 255, B: 204, A: 255})

	dst := make([]float32, 6)
	half := [3]float32{0.5, 0.5, 0.5}
	ToTensor(img, half, half, dst)

	// CHW: R plane, G plane, B plane
	expected := []float32{1, -1, -1, 1, -0.6, 0.6}
	for i := range expected {
		if math.Abs(float64(dst[i]-expected[i])) > 1e-5 {
			t.Errorf("dst[%d] = %v, want %v", i, dst[i], expected[i])
		}
	}
}

func TestPipelineOutputRange(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	img := image.NewNRGBA(image.Rect(0, 0, 40, 30))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}

	half := [3]float32{0.5, 0.5, 0.5}
	p := TrainPipeline(16, 0.5, 10, half, half)
	dst := make([]float32, p.TensorSize())
	for i := 0; i < 5; i++ {
		p.Tensor(img, rng, dst)
		for j, v := range dst {
			if v < -1 || v > 1 {
				t.Fatalf("value %d = %v outside [-1,1]", j, v)
			}
		}
	}
}

func TestRandomHorizontalFlip(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	img.Set(1, 0, color.NRGBA{B: 255, A: 255})
	rng := rand.New(rand.NewSource(1))

	flipped := RandomHorizontalFlip{P: 1}.Apply(img, rng)
	if r, _, _, _ := flipped.At(1, 0).RGBA(); r != 0xffff {
		t.Errorf("expected red pixel on the right after flip")
	}
	same := RandomHorizontalFlip{P: 0}.Apply(img, rng)
	if same != image.Image(img) {
		t.Errorf("P=0 must return the input unchanged")
	}
}

func TestRandomRotationKeepsSize(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 20, 12))
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 10; i++ {
		out := RandomRotation{Degrees: 10}.Apply(img, rng)
		if b := out.Bounds(); b.Dx() != 20 || b.Dy() != 12 {
			t.Fatalf("rotated bounds = %v, want 20x12", b)
		}
	}
}

func TestLoaderBatches(t *testing.T) {
	root := makeSplit(t, map[string]int{"Real": 3, "Fake": 2})
	ds, err := NewImageFolder(root, []string{"Real", "Fake"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	half := [3]float32{0.5, 0.5, 0.5}
	l := NewLoader(ds, EvalPipeline(8, half, half), 2, false, rand.New(rand.NewSource(1)))

	if l.NumBatches() != 3 {
		t.Errorf("NumBatches = %d, want 3", l.NumBatches())
	}

	var sizes, labels []int
	for b, err := range l.Batches() {
		if err != nil {
			t.Fatal(err)
		}
		if len(b.X) != b.Size*3*8*8 {
			t.Errorf("batch X length = %d, want %d", len(b.X), b.Size*3*8*8)
		}
		sizes = append(sizes, b.Size)
		labels = append(labels, b.Labels...)
	}
	if !slices.Equal(sizes, []int{2, 2, 1}) {
		t.Errorf("batch sizes = %v, want [2 2 1]", sizes)
	}
	if !slices.Equal(labels, []int{0, 0, 0, 1, 1}) {
		t.Errorf("labels = %v, want fixed order [0 0 0 1 1]", labels)
	}
}

func TestLoaderShufflePerEpoch(t *testing.T) {
	counts := map[string]int{"Real": 8, "Fake": 8}
	root := makeSplit(t, counts)
	ds, err := NewImageFolder(root, []string{"Real", "Fake"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	half := [3]float32{0.5, 0.5, 0.5}
	l := NewLoader(ds, EvalPipeline(2, half, half), 16, true, rand.New(rand.NewSource(5)))

	epoch := func() []int {
		var out []int
		for b, err := range l.Batches() {
			if err != nil {
				t.Fatal(err)
			}
			out = append(out, b.Labels...)
		}
		return out
	}
	first, second := epoch(), epoch()
	if slices.Equal(first, second) {
		t.Errorf("shuffle produced the same order twice: %v", first)
	}
	slices.Sort(first)
	if !slices.Equal(first, ds.Labels()) {
		t.Errorf("shuffled epoch lost samples: %v", first)
	}
}

func TestLoaderDecodeError(t *testing.T) {
	root := makeSplit(t, map[string]int{"Real": 1})
	os.WriteFile(filepath.Join(root, "Real", "zz.png"), []byte("not a png"), 0o644)
	ds, err := NewImageFolder(root, []string{"Real", "Fake"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	half := [3]float32{0.5, 0.5, 0.5}
	l := NewLoader(ds, EvalPipeline(4, half, half), 1, false, rand.New(rand.NewSource(1)))

	var gotErr error
	for _, err := range l.Batches() {
		if err != nil {
			gotErr = err
		}
	}
	if gotErr == nil {
		t.Error("expected a decode error for the corrupt file")
	}
}
