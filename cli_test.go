package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"blotterdesk/internal/intake"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCommandWritesJSON(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "march.csv")
	require.NoError(t, os.WriteFile(input, []byte("barangay,offense,victim\npilar,Theft,\"Ana (30), Ben (41)\"\n"), 0o600))
	output := filepath.Join(dir, "out", intake.ExportFileName)

	var stdout, stderr bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"normalize", input, "-o", output, "--timezone", "Asia/Manila"})
	require.NoError(t, cmd.Execute())

	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "row 1:")
	assert.Contains(t, stderr.String(), "wrote 1 record(s)")

	f, err := os.Open(output)
	require.NoError(t, err)
	defer f.Close()
	records, err := intake.DecodeJSON(f)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Pilar", records[0].Barangay)
}

func TestNormalizeCommandStdout(t *testing.T) {
	input := filepath.Join(t.TempDir(), "march.csv")
	require.NoError(t, os.WriteFile(input, []byte("barangay,offense\nzapote,Robbery\n"), 0o600))

	var stdout bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"normalize", input, "--timezone", "UTC"})
	require.NoError(t, cmd.Execute())

	records, err := intake.DecodeJSON(&stdout)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Robbery", records[0].Offense)
}

func TestCommandsValidateArguments(t *testing.T) {
	tests := [][]string{
		{"normalize"},
		{"normalize", "missing.csv", "--timezone", "Nowhere/Place"},
		{"watch", t.TempDir()},
		{"export", "--period", "daily"},
	}
	for _, args := range tests {
		cmd := newRootCommand()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(args)
		assert.Error(t, cmd.Execute(), args)
	}
}

func TestWriteRecordsFileReplacesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "records.json")
	require.NoError(t, writeRecordsFile(path, []intake.Record{sampleRecord("Theft", "Pilar", "Pending", "2024-03-01")}))
	require.NoError(t, writeRecordsFile(path, nil))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(content))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are cleaned up")
}
