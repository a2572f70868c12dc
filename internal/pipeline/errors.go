package pipeline

import (
	"context"
	"errors"
	"io/fs"

	"github.com/born-ml/zymctrl/internal/checkpoint"
	"github.com/born-ml/zymctrl/internal/config"
	"github.com/born-ml/zymctrl/internal/dataset"
	"github.com/born-ml/zymctrl/internal/filter"
	"github.com/born-ml/zymctrl/internal/generate"
	"github.com/born-ml/zymctrl/internal/model"
	"github.com/born-ml/zymctrl/internal/output"
	"github.com/born-ml/zymctrl/internal/prompt"
	"github.com/born-ml/zymctrl/internal/serialization"
	"github.com/born-ml/zymctrl/internal/train"
	"github.com/born-ml/zymctrl/internal/vocab"
)

// Kind groups errors by how the caller should react.
type Kind int

// Error kinds.
const (
	KindInternal Kind = iota
	KindValidation
	KindConfig
	KindResource
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConfig:
		return "config"
	case KindResource:
		return "resource"
	case KindCanceled:
		return "canceled"
	default:
		return "internal"
	}
}

// ExitCode maps k to a process exit status.
func (k Kind) ExitCode() int {
	switch k {
	case KindValidation:
		return 2
	case KindConfig:
		return 3
	case KindResource:
		return 4
	case KindCanceled:
		return 5
	default:
		return 1
	}
}

var (
	validationErrors = []error{
		prompt.ErrInvalidCodeFormat,
		generate.ErrPromptTooLong,
		train.ErrEmptyDataset,
		train.ErrDatasetTooNoisy,
		dataset.ErrUnsupportedFormat,
		dataset.ErrMissingColumn,
		output.ErrUnsupportedFormat,
		vocab.ErrUnknownSymbol,
	}
	configErrors = []error{
		config.ErrInvalidConfig,
		generate.ErrInvalidConfig,
		train.ErrInvalidConfig,
		train.ErrResumeMismatch,
		filter.ErrInvalidConfig,
		model.ErrIncompatible,
	}
	resourceErrors = []error{
		checkpoint.ErrCheckpointUnavailable,
		fs.ErrNotExist,
		fs.ErrPermission,
	}
)

// Classify returns the kind of err. Cancellation wins over everything else.
func Classify(err error) Kind {
	if err == nil {
		return KindInternal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return KindValidation
		}
	}
	for _, target := range configErrors {
		if errors.Is(err, target) {
			return KindConfig
		}
	}
	for _, target := range resourceErrors {
		if errors.Is(err, target) {
			return KindResource
		}
	}
	if serialization.IsCorrupt(err) {
		return KindResource
	}
	return KindInternal
}
