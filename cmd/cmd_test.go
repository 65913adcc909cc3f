package cmd

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValidateDefaults(t *testing.T) {
	out, err := execute(t, "validate", "-c", "")
	require.NoError(t, err)
	assert.Contains(t, out, "VALID: window=10s max_requests=150 block=2m0s")
	assert.Contains(t, out, "source=simulate sink=log")
}

func TestValidatePrint(t *testing.T) {
	path := writeFile(t, "floodgate.yml", `
floodgate:
  mitigation:
    max_requests: 5
`)
	out, err := execute(t, "validate", "-c", path, "--print")
	require.NoError(t, err)

	var doc map[string]map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	mitigation, ok := doc["floodgate"]["mitigation"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 5, mitigation["max_requests"])

	validatePrint = false
}

func TestValidateInvalid(t *testing.T) {
	path := writeFile(t, "floodgate.yml", `
floodgate:
  classifier:
    failure_policy: maybe
`)
	_, err := execute(t, "validate", "-c", path)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "INVALID:"))
	assert.Contains(t, err.Error(), "classifier.failure_policy")
}

func TestGenerate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	_, err := execute(t, "generate", "-c", "", "--out", path, "--normal", "30", "--attack", "10", "--seed", "3")
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 41)
	assert.Equal(t, "packet_rate", rows[0][0])
	assert.Equal(t, "label", rows[0][len(rows[0])-1])

	attacks := 0
	for _, r := range rows[1:] {
		if r[len(r)-1] == "1" {
			attacks++
		}
	}
	assert.Equal(t, 10, attacks)
}

func TestGenerateRejectsNegativeCounts(t *testing.T) {
	_, err := execute(t, "generate", "-c", "", "--out", "-", "--normal", "-1", "--attack", "0")
	assert.Error(t, err)
	generateNormal, generateAttack = 20000, 2000
}

func TestRunReplay(t *testing.T) {
	events := writeFile(t, "events.jsonl", `
{"source":"10.0.0.1","features":{"packet_rate":20,"concurrent_connections":2}}
{"source":"10.0.0.1","features":{"packet_rate":25,"concurrent_connections":3}}
{"source":"172.16.0.9","features":{"packet_rate":900,"concurrent_connections":250}}
`)
	cfgPath := writeFile(t, "floodgate.yml", `
floodgate:
  metrics:
    enabled: false
  report:
    interval: 0s
  log:
    level: error
`)
	out, err := execute(t, "run", "-c", cfgPath, "--replay-file", events)
	require.NoError(t, err)
	assert.Contains(t, out, "floodgate run summary")
}
