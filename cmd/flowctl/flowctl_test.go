package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medspa-nurture/internal/flow"
)

const sampleFlow = `id: reactivation
org_id: org-1
name: Reactivation
steps:
  - id: ask
    outbound_message: "Hi {{.first_name}}, ready to book your next visit?"
    responses:
      - label: "Yes"
        follow_up_message: "Great!"
        action: end
      - label: "Later"
        follow_up_message: "No rush."
    drip_sequence:
      - message: "Checking in, {{default \"friend\" .first_name}}"
        delay_hours: 2
      - message: "Last reminder"
        delay_hours: 3
required_questions:
  - question: "Name?"
    field_key: first_name
`

func writeFlow(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestValidateAcceptsFlow(t *testing.T) {
	out, _, err := run(t, "validate", writeFlow(t, "ok.yaml", sampleFlow))
	require.NoError(t, err)
	assert.Contains(t, out, "reactivation, 1 steps")
}

func TestValidateReportsErrors(t *testing.T) {
	good := writeFlow(t, "ok.yaml", sampleFlow)
	dangling := writeFlow(t, "bad.yaml", strings.Replace(sampleFlow, `follow_up_message: "No rush."`, `follow_up_message: "No rush."
        next_step_id: missing`, 1))
	broken := writeFlow(t, "tmpl.yaml", strings.Replace(sampleFlow, `"Last reminder"`, `"Last {{.first_name"`, 1))

	_, errOut, err := run(t, "validate", good, dangling, broken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 3 flows invalid")
	assert.ErrorIs(t, err, flow.ErrInvalidFlow)
	assert.Contains(t, errOut, "FAIL "+dangling)
	assert.Contains(t, errOut, "FAIL "+broken)
}

func TestScheduleChainsAcrossClosing(t *testing.T) {
	path := writeFlow(t, "ok.yaml", sampleFlow)
	// Monday 15:30 UTC: +2h is 17:30 (closed) so the first drip moves to
	// Tuesday 09:00; the chain continues from the raw 17:30 instant.
	out, _, err := run(t, "schedule", path, "--from", "2024-01-01T15:30:00Z", "--tz", "UTC")
	require.NoError(t, err)
	assert.Contains(t, out, "2024-01-02T09:00:00Z")
	assert.Contains(t, out, "Last reminder")

	out, _, err = run(t, "schedule", path, "--from", "2024-01-01T10:00:00Z", "--tz", "UTC", "--mode", "step_anchor")
	require.NoError(t, err)
	assert.Contains(t, out, "2024-01-01T12:00:00Z")
	assert.Contains(t, out, "2024-01-01T13:00:00Z")

	_, _, err = run(t, "schedule", path, "--step", "nope")
	assert.Error(t, err)
}

func TestImportAndExportUseRepository(t *testing.T) {
	path := writeFlow(t, "ok.yaml", sampleFlow)
	def, err := loadFlow(path)
	require.NoError(t, err)

	repo := flow.NewInMemoryRepository()
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, importFlows(cmd, repo, []*flow.Definition{def, def}))
	assert.Contains(t, out.String(), "org-1/reactivation version 2")

	out.Reset()
	require.NoError(t, exportFlow(cmd, repo, "org-1", "reactivation", 1))
	assert.Contains(t, out.String(), "id: reactivation")
	assert.Contains(t, out.String(), "delay_hours: 2")
}

func TestValidateSampleFlow(t *testing.T) {
	_, _, err := run(t, "validate", filepath.Join("..", "..", "testdata", "flows", "consultation.yaml"))
	require.NoError(t, err)
}
