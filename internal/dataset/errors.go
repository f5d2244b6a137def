package dataset

import "github.com/pkg/errors"

var (
	// ErrMissingDirectory is returned when a split root does not exist, is not
	// a directory, or holds no class subdirectory.
	ErrMissingDirectory = errors.New("dataset directory missing")

	// ErrEmptyDataset is returned when no image files were found.
	ErrEmptyDataset = errors.New("dataset is empty")
)
