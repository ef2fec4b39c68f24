package db

import (
	"path/filepath"
	"testing"

	"evallab/internal/config"
	"evallab/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_SQLite(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "evallab.db")

	require.NoError(t, InitDB(cfg))
	require.NotNil(t, DB)

	for _, m := range []any{&model.Pipeline{}, &model.PipelineRun{}, &model.Evaluation{}, &model.EvaluationRun{}} {
		assert.True(t, DB.Migrator().HasTable(m), "%T table missing", m)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}
