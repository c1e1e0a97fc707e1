package specloader_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackjack-run/blackjack/pkg/specloader"
	"github.com/blackjack-run/blackjack/pkg/vars"
)

func writeTestYAML(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadSetsDirAndSubstitutes(t *testing.T) {
	dir := t.TempDir()
	path := writeTestYAML(t, dir, `
name: readiness
type: user
steps:
  - name: step-1
    watch:
      - name: pods
        version: v1
        kind: Pod
        namespace: ${BLACKJACK_NAMESPACE}
`)

	ts, err := specloader.Load(path, vars.Env{"BLACKJACK_NAMESPACE": "blackjack-happy-otter-1234"})
	require.NoError(t, err)
	assert.Equal(t, dir, ts.Dir)
	assert.Equal(t, "readiness", ts.Name)
	assert.Equal(t, "blackjack-happy-otter-1234", ts.Steps[0].Watch[0].Namespace)
}

func TestLoadUndefinedVariableIsError(t *testing.T) {
	dir := t.TempDir()
	path := writeTestYAML(t, dir, `
name: broken
steps:
  - name: step-1
    apply:
      - path: ${BLACKJACK_MISSING}/manifest.yaml
`)
	_, err := specloader.Load(path, vars.Env{})
	assert.Error(t, err)
}

func TestValidateDuplicateBucketName(t *testing.T) {
	dir := t.TempDir()
	path := writeTestYAML(t, dir, `
name: dup
steps:
  - name: step-1
    watch:
      - name: pods
        version: v1
        kind: Pod
  - name: step-2
    watch:
      - name: pods
        version: v1
        kind: Pod
`)
	ts, err := specloader.Load(path, vars.Env{"BLACKJACK_NAMESPACE": "ns"})
	require.NoError(t, err)
	assert.Error(t, specloader.Validate(ts))
}

func TestValidateUnknownBucketReference(t *testing.T) {
	dir := t.TempDir()
	path := writeTestYAML(t, dir, `
name: unknown-ref
steps:
  - name: step-1
    wait:
      - target: nope
        timeout: 5
        condition:
          size: 0
`)
	ts, err := specloader.Load(path, vars.Env{})
	require.NoError(t, err)
	assert.Error(t, specloader.Validate(ts))
}

func TestValidateOK(t *testing.T) {
	dir := t.TempDir()
	path := writeTestYAML(t, dir, `
name: ok
steps:
  - name: step-1
    watch:
      - name: pods
        version: v1
        kind: Pod
    wait:
      - target: pods
        timeout: 5
        condition:
          size: 0
  - name: step-2
    bucket:
      - name: pods
        operations: [delete]
`)
	ts, err := specloader.Load(path, vars.Env{"BLACKJACK_NAMESPACE": "ns"})
	require.NoError(t, err)
	assert.NoError(t, specloader.Validate(ts))
}
