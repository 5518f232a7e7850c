package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalwatch/internal/models"
)

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func recordsDir(t *testing.T) string {
	dir := t.TempDir()
	content := strings.Join([]string{
		"2,70,Diastolic,1000",
		"1,185,Systolic,1000",
		"1,1,ManualAlert,2000",
		"bad line",
	}, "\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "records.txt"), []byte(content), 0o644))
	return dir
}

func TestEvaluateCommandPrintsAlerts(t *testing.T) {
	out, err := runRoot(t, "evaluate", "--dir", recordsDir(t), "--log-level", "error")
	require.NoError(t, err)

	assert.Contains(t, out, "patient 1: Critical Systolic: 185.0 at 1000\n")
	assert.Contains(t, out, "patient 1: Manual Alert Triggered at 2000\n")
	assert.NotContains(t, out, "patient 2:")
}

func TestEvaluateCommandJSON(t *testing.T) {
	out, err := runRoot(t, "evaluate", "--dir", recordsDir(t), "--json", "--log-level", "error")
	require.NoError(t, err)

	var got []models.Alert
	dec := json.NewDecoder(strings.NewReader(out))
	for dec.More() {
		var a models.Alert
		require.NoError(t, dec.Decode(&a))
		got = append(got, a)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "critical_systolic", got[0].Rule)
	assert.Equal(t, "manual_alert", got[1].Rule)
}

func TestEvaluateCommandRequiresDir(t *testing.T) {
	_, err := runRoot(t, "evaluate")
	assert.Error(t, err)
}

func TestEvaluateCommandNotDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "x.txt")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := runRoot(t, "evaluate", "--dir", file, "--log-level", "error")
	assert.Error(t, err)
}
