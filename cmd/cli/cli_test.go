package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/admit/internal/infrastructure/idgen"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestIDNewAndDecode(t *testing.T) {
	out, _, err := run(t, "id", "new", "--worker", "17", "-n", "3")
	require.NoError(t, err)

	lines := strings.Fields(out)
	require.Len(t, lines, 3)
	var prev idgen.ID
	for _, l := range lines {
		id, err := idgen.Parse(l)
		require.NoError(t, err)
		assert.Equal(t, uint16(17), id.Worker())
		assert.Greater(t, id, prev)
		prev = id
	}

	out, _, err = run(t, "id", "decode", lines[0])
	require.NoError(t, err)
	assert.Contains(t, out, "worker=17")

	_, _, err = run(t, "id", "decode", "abc")
	assert.Error(t, err)

	_, _, err = run(t, "id", "new", "--worker", "4096")
	assert.Error(t, err)
}

func TestIDNewRequiresDistinctWorker(t *testing.T) {
	_, _, err := run(t, "id", "new")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--worker is required")

	path := writeConfig(t, `
idgen:
  worker_id: 4
`)
	_, _, err = run(t, "-c", path, "id", "new", "--worker", "4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configured server worker id")

	out, _, err := run(t, "-c", path, "id", "new", "--worker", "5")
	require.NoError(t, err)
	id, err := idgen.Parse(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, uint16(5), id.Worker())
}

func TestQueueCommands(t *testing.T) {
	mr := miniredis.RunT(t)
	path := writeConfig(t, fmt.Sprintf(`
redis:
  addresses: ["%s"]
queue:
  backend: redis
  prefix: ops
`, mr.Addr()))

	_, stderr, err := run(t, "-c", path, "queue", "pop", "jobs")
	require.NoError(t, err)
	assert.Contains(t, stderr, "(empty)")

	_, _, err = run(t, "-c", path, "queue", "push", "jobs", `{"n":1}`)
	require.NoError(t, err)
	_, _, err = run(t, "-c", path, "queue", "push", "jobs", `{"n":2}`)
	require.NoError(t, err)

	out, _, err := run(t, "-c", path, "queue", "size", "jobs")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	out, _, err = run(t, "-c", path, "queue", "peek", "jobs")
	require.NoError(t, err)
	assert.Equal(t, "{\"n\":1}\n", out)

	out, _, err = run(t, "-c", path, "queue", "pop", "jobs")
	require.NoError(t, err)
	assert.Equal(t, "{\"n\":1}\n", out)

	items, err := mr.List("ops:jobs")
	require.NoError(t, err)
	assert.Equal(t, []string{`{"n":2}`}, items)
}

func TestConfigCheck(t *testing.T) {
	path := writeConfig(t, `
rate_limit:
  classes:
    - name: default
      limit: 5
      window_ms: 1000
    - name: session
      limit: 50
      window_ms: 1000
`)
	out, _, err := run(t, "-c", path, "config", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "class default: 5 per 1s")
	assert.Contains(t, out, "route /api/v1/sessions -> session")

	bad := writeConfig(t, `
rate_limit:
  classes:
    - name: admin
      limit: 5
      window_ms: 1000
`)
	_, _, err = run(t, "-c", bad, "config", "check")
	assert.Error(t, err)
}

func TestAuditTailRequiresKafka(t *testing.T) {
	path := writeConfig(t, `
kafka:
  topic: ""
`)
	_, _, err := run(t, "-c", path, "audit", "tail")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka brokers")
}
