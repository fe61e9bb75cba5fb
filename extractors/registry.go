// Package extractors - Factory for point feature extractors.
package extractors

import (
	"github.com/nvr-ai/go-pointfeat/extractors/extractor"
	"github.com/nvr-ai/go-pointfeat/extractors/multilevel"
	"github.com/pkg/errors"
)

// NewExtractor creates a point feature extractor of the requested kind.
//
// Arguments:
//   - args: The extractor kind and its configuration. An empty kind selects KindMultiLevel.
//
// Returns:
//   - extractor.Extractor: The configured extractor.
//   - error: Wrapping extractor.ErrUnsupportedKind for unknown kinds, or the constructor's error.
//
// Example:
//
// ```go
//
//	ext, err := NewExtractor(extractor.NewExtractorArgs{
//	    Kind:   extractor.KindMultiLevel,
//	    Config: extractor.DefaultConfig(),
//	})
//
//	if err != nil {
//	    log.Fatalf("Failed to create extractor: %v", err)
//	}
//
// ```
func NewExtractor(args extractor.NewExtractorArgs) (extractor.Extractor, error) {
	switch args.Kind {
	case extractor.KindMultiLevel, "":
		e, err := multilevel.New(args.Config)
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, errors.Wrapf(extractor.ErrUnsupportedKind, "%q", args.Kind)
	}
}
