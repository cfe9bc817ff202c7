package patterns

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/binaudit/pkg/audit"
)

const sampleFile = `
patterns:
  - organization_id: acme
    priority: 10
    condition: wrong_category
    template: "Wrong bin: {{warning_items}}"
  - organization_id: acme
    condition: lc
    template: "Rinse please"
    is_active: false
  - id: 42
    organization_id: other
    condition: hc
    template: "Dirty {{claimed_type}}"
    expires_at: 2030-01-01T00:00:00Z
`

func TestParseFile(t *testing.T) {
	ps, err := ParseFile([]byte(sampleFile))
	require.NoError(t, err)
	require.Len(t, ps, 3)

	assert.Equal(t, int64(1), ps[0].ID)
	assert.Equal(t, audit.CodeWC, ps[0].Condition)
	assert.Equal(t, 10, ps[0].Priority)
	assert.True(t, ps[0].IsActive)

	assert.Equal(t, int64(2), ps[1].ID)
	assert.Equal(t, DefaultPriority, ps[1].Priority)
	assert.False(t, ps[1].IsActive)

	assert.Equal(t, int64(42), ps[2].ID)
	require.NotNil(t, ps[2].ExpiresAt)
	assert.Equal(t, 2030, ps[2].ExpiresAt.Year())
}

func TestParseFile_Invalid(t *testing.T) {
	_, err := ParseFile([]byte("patterns: [oops"))
	assert.Error(t, err)
}

func TestFileRepository(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleFile), 0o600))

	repo, err := NewFileRepository(path, nil)
	require.NoError(t, err)
	assert.Len(t, repo.All(), 3)

	acme, err := repo.ListPatterns(context.Background(), "acme")
	require.NoError(t, err)
	assert.Len(t, acme, 2)

	require.NoError(t, os.WriteFile(path, []byte("patterns: [broken"), 0o600))
	assert.Error(t, repo.Reload())
	assert.Len(t, repo.All(), 3, "failed reload keeps previous patterns")

	_, err = NewFileRepository(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestFileRepository_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleFile), 0o600))

	repo, err := NewFileRepository(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan struct{}, 8)
	done := make(chan error, 1)
	go func() {
		done <- repo.Watch(ctx, func() {
			select {
			case reloaded <- struct{}{}:
			default:
			}
		})
	}()

	updated := `
patterns:
  - organization_id: acme
    condition: cc
    template: "Thanks"
`
	// Keep writing until the watcher is registered and picks the change up.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(updated), 0o600)
		select {
		case <-reloaded:
			return len(repo.All()) == 1
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}
