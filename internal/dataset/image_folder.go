// Package dataset loads folder-labelled image splits and batches them.
package dataset

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// DefaultExtensions are the image file extensions picked up by ImageFolder.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}

// ImageFolder represents a dataset loaded from a directory structure
// where each subdirectory represents a class.
type ImageFolder struct {
	root       string
	imagePaths []string
	labels     []int
	classNames []string
}

// NewImageFolder scans root for class subdirectories.
//
// With a non-empty classNames list the label of an image is the index of its
// folder in that list, matched case-insensitively; folders not in the list
// are ignored. With an empty list every subdirectory is a class and labels
// follow sorted folder names.
func NewImageFolder(root string, classNames, extensions []string) (*ImageFolder, error) {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrapf(ErrMissingDirectory, "%s: %v", root, err)
	}
	if !info.IsDir() {
		return nil, errors.Wrapf(ErrMissingDirectory, "%s is not a directory", root)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(ErrMissingDirectory, "%s: %v", root, err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			dirs = append(dirs, e.Name())
		}
	}
	slices.Sort(dirs)

	d := &ImageFolder{root: root}
	classDirs := make(map[int][]string)
	if len(classNames) == 0 {
		d.classNames = dirs
		for i, dir := range dirs {
			classDirs[i] = []string{dir}
		}
	} else {
		d.classNames = slices.Clone(classNames)
		for _, dir := range dirs {
			idx := slices.IndexFunc(classNames, func(c string) bool { return strings.EqualFold(c, dir) })
			if idx >= 0 {
				classDirs[idx] = append(classDirs[idx], dir)
			}
		}
	}
	if len(classDirs) == 0 {
		return nil, errors.Wrapf(ErrMissingDirectory, "%s has no class subdirectory (want %v)", root, classNames)
	}

	for label := range d.classNames {
		for _, dir := range classDirs[label] {
			err := filepath.WalkDir(filepath.Join(root, dir), func(path string, entry fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if entry.IsDir() || !hasExtension(path, extensions) {
					return nil
				}
				d.imagePaths = append(d.imagePaths, path)
				d.labels = append(d.labels, label)
				return nil
			})
			if err != nil {
				return nil, errors.Wrapf(err, "failed to scan %s", dir)
			}
		}
	}

	if len(d.imagePaths) == 0 {
		return nil, errors.Wrapf(ErrEmptyDataset, "no images found in %s", root)
	}
	return d, nil
}

func hasExtension(path string, extensions []string) bool {
	ext := filepath.Ext(path)
	return slices.ContainsFunc(extensions, func(e string) bool { return strings.EqualFold(e, ext) })
}

// Len returns the number of items in the dataset
func (d *ImageFolder) Len() int {
	return len(d.imagePaths)
}

// GetItem returns the image path and label at the given index
func (d *ImageFolder) GetItem(index int) (string, int, error) {
	if index < 0 || index >= len(d.imagePaths) {
		return "", 0, errors.Errorf("index %d out of range [0, %d)", index, len(d.imagePaths))
	}
	return d.imagePaths[index], d.labels[index], nil
}

// Load decodes the image at index.
func (d *ImageFolder) Load(index int) (image.Image, int, error) {
	path, label, err := d.GetItem(index)
	if err != nil {
		return nil, 0, err
	}
	img, err := decodeFile(path)
	if err != nil {
		return nil, 0, err
	}
	return img, label, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open image")
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}
	return img, nil
}

// Labels returns the label of every sample in dataset order.
func (d *ImageFolder) Labels() []int { return d.labels }

// NumClasses returns the number of classes
func (d *ImageFolder) NumClasses() int {
	return len(d.classNames)
}

// ClassNames returns the list of class names
func (d *ImageFolder) ClassNames() []string {
	return d.classNames
}

// ClassDistribution returns the number of samples per class, indexed by label.
func (d *ImageFolder) ClassDistribution() []int {
	dist := make([]int, len(d.classNames))
	for _, label := range d.labels {
		dist[label]++
	}
	return dist
}

// String returns a string representation of the dataset
func (d *ImageFolder) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ImageFolder(%s): %d images", d.root, d.Len())
	for i, n := range d.ClassDistribution() {
		fmt.Fprintf(&b, ", %s=%d", d.classNames[i], n)
	}
	return b.String()
}
