package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-pointfeat/backbone"
	"github.com/nvr-ai/go-pointfeat/extractors/extractor"
	"github.com/nvr-ai/go-pointfeat/sampling"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pointfeat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 12, cfg.Extractor.Config.OutChannels)
	assert.Equal(t, []float32{4, 8, 16, 32}, cfg.Extractor.Config.FeatmapStrides)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
extractor:
  kind: multi_level
  config:
    out_channels: 2
    featmap_strides: [16, 8]
    in_indices: [1, 0]
    align_corners: true
    padding: border
    parallel:
      enabled: true
      num_workers: 3
backbone:
  kind: pooling
  width: 64
  height: 32
  channels: 1
  strides: [8, 16]
run:
  batch_size: 4
  grid: 3
  iterations: 2
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	ext := cfg.Extractor.Config
	assert.Equal(t, extractor.KindMultiLevel, cfg.Extractor.Kind)
	assert.Equal(t, 2, ext.OutChannels)
	assert.Equal(t, []int{1, 0}, ext.InIndices)
	assert.True(t, ext.AlignCorners)
	assert.Equal(t, sampling.PaddingBorder, ext.Padding)
	assert.Equal(t, 3, ext.Parallel.NumWorkers)

	assert.Equal(t, backbone.KindPooling, cfg.Backbone.Kind)
	assert.Equal(t, 32, cfg.Backbone.Height)

	assert.Equal(t, 4, cfg.Run.BatchSize)
	assert.Equal(t, 3, cfg.Run.Grid)
	// Unset keys keep their defaults.
	assert.Equal(t, 16, cfg.Run.RoIsPerImage)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{name: "unknown key", body: "run:\n  batchsize: 2\n"},
		{name: "bad padding", body: "extractor:\n  config:\n    padding: wrap\n"},
		{name: "bad iterations", body: "run:\n  iterations: 0\n"},
		{
			name:    "stride disagrees with backbone",
			body:    "extractor:\n  config:\n    featmap_strides: [4, 8, 16, 64]\n",
			wantErr: extractor.ErrConfigMismatch,
		},
		{
			name:    "channels disagree with backbone",
			body:    "extractor:\n  config:\n    out_channels: 1024\n",
			wantErr: extractor.ErrChannelMismatch,
		},
		{
			name:    "level beyond backbone",
			body:    "extractor:\n  config:\n    featmap_strides: [4]\n    in_indices: [7]\n    out_channels: 3\n",
			wantErr: extractor.ErrConfigMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			}
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestONNXLevelChannels(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backbone.Kind = backbone.KindONNX
	cfg.Extractor.Config.OutChannels = 1024
	require.NoError(t, cfg.Validate())

	cfg.Extractor.Config.InIndices = []int{3, 2}
	cfg.Extractor.Config.FeatmapStrides = []float32{32, 16}
	cfg.Extractor.Config.OutChannels = 512
	require.NoError(t, cfg.Validate())
}
