package helper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelPath(t *testing.T) {
	t.Run("Model name with slash is sanitized", func(t *testing.T) {
		assert.Equal(t, filepath.Join("models", "organization_model-name"), ModelPath("models", "organization/model-name"))
	})

	t.Run("Model name without slash is kept", func(t *testing.T) {
		assert.Equal(t, filepath.Join("models", "simple-model"), ModelPath("models", "simple-model"))
	})
}

func TestPrepareModel(t *testing.T) {
	t.Run("Return existing model path when model exists", func(t *testing.T) {
		modelDir := t.TempDir()
		modelPath := ModelPath(modelDir, "test/mock-model")
		require.NoError(t, os.MkdirAll(modelPath, 0750))

		path, err := PrepareModel(modelDir, "test/mock-model", "")
		assert.NoError(t, err, "Expected PrepareModel to not return an error for existing model")
		assert.Equal(t, modelPath, path, "Expected returned path to match existing model path")
	})

	t.Run("Download model when it doesn't exist", func(t *testing.T) {
		if testing.Short() {
			t.Skip("Skipping model download in short mode")
		}

		path, err := PrepareModel(t.TempDir(), "sentence-transformers/all-MiniLM-L6-v2", "onnx/model.onnx")
		if err != nil {
			assert.Contains(t, err.Error(), "failed to", "Expected error to be about download failure")
		} else {
			assert.DirExists(t, path, "Expected model directory to exist")
		}
	})
}
