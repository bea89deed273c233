package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/ekaya-inc/ekaya-schemagraph/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-schemagraph/pkg/config"
)

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(&config.Config{Env: "production", LogLevel: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger, err = newLogger(&config.Config{Env: "local", LogLevel: "debug"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = newLogger(&config.Config{LogLevel: "chatty"})
	assert.Error(t, err)
}

func TestAdaptersCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"adapters"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())

	var adapters []datasource.DatasourceAdapterInfo
	require.NoError(t, json.Unmarshal(out.Bytes(), &adapters))

	var types []string
	for _, a := range adapters {
		types = append(types, a.Type)
	}
	assert.Subset(t, types, []string{"mssql", "mysql", "postgres", "sqlite"})
}

func TestInferRequiresDatasource(t *testing.T) {
	rootCmd.SetArgs([]string{"infer"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "datasource")
}
