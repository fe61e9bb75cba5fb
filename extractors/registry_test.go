package extractors

import (
	"testing"

	"github.com/nvr-ai/go-pointfeat/extractors/extractor"
	"github.com/nvr-ai/go-pointfeat/extractors/multilevel"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExtractor(t *testing.T) {
	tests := []struct {
		name    string
		kind    extractor.Kind
		wantErr error
	}{
		{name: "multi level", kind: extractor.KindMultiLevel},
		{name: "empty kind defaults to multi level", kind: ""},
		{name: "unknown kind", kind: "single_level", wantErr: extractor.ErrUnsupportedKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, err := NewExtractor(extractor.NewExtractorArgs{
				Kind:   tt.kind,
				Config: extractor.DefaultConfig(),
			})
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				assert.Nil(t, ext)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, &multilevel.Extractor{}, ext)
			assert.Equal(t, 1024, ext.Config().OutChannels)
		})
	}
}

func TestNewExtractorInvalidConfig(t *testing.T) {
	cfg := extractor.DefaultConfig()
	cfg.FeatmapStrides = nil

	ext, err := NewExtractor(extractor.NewExtractorArgs{Kind: extractor.KindMultiLevel, Config: cfg})
	require.Error(t, err)
	assert.True(t, errors.Is(err, extractor.ErrConfigMismatch))
	assert.Nil(t, ext)
}
