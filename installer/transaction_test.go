package installer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tree(t *testing.T, root, version string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "VERSION"), []byte(version), 0o644))
}

func readVersion(t *testing.T, root string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, "VERSION"))
	require.NoError(t, err)
	return string(data)
}

func TestTransactionUpgradeCommit(t *testing.T) {
	home := t.TempDir()
	prefix := filepath.Join(home, "usr")
	tree(t, prefix, "old")

	tx := begin(upgrade, home, prefix)
	scratch, err := tx.stage()
	require.NoError(t, err)
	tree(t, scratch, "new")

	require.NoError(t, tx.swap())
	assert.Equal(t, "new", readVersion(t, prefix))
	aside := tx.aside
	assert.Equal(t, "old", readVersion(t, aside))

	tx.commit()
	assert.NoDirExists(t, aside)
	assert.NoDirExists(t, scratch)
}

func TestTransactionUpgradeRollbackAfterSwap(t *testing.T) {
	home := t.TempDir()
	prefix := filepath.Join(home, "usr")
	tree(t, prefix, "old")

	tx := begin(upgrade, home, prefix)
	scratch, err := tx.stage()
	require.NoError(t, err)
	tree(t, scratch, "new")
	require.NoError(t, tx.swap())

	assert.Empty(t, tx.rollback())
	assert.Equal(t, "old", readVersion(t, prefix))

	entries, err := os.ReadDir(home)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "usr", entries[0].Name())

	// nothing left to undo
	assert.Empty(t, tx.rollback())
	assert.Equal(t, "old", readVersion(t, prefix))
}

func TestTransactionUpgradeRollbackBeforeSwap(t *testing.T) {
	home := t.TempDir()
	prefix := filepath.Join(home, "usr")
	tree(t, prefix, "old")

	tx := begin(upgrade, home, prefix)
	scratch, err := tx.stage()
	require.NoError(t, err)

	assert.Empty(t, tx.rollback())
	assert.NoDirExists(t, scratch)
	assert.Equal(t, "old", readVersion(t, prefix))
}

func TestTransactionFreshRollback(t *testing.T) {
	root := t.TempDir()
	home := filepath.Join(root, "home")
	prefix := filepath.Join(home, "opt", "usr")

	tx := begin(fresh, home, prefix)
	scratch, err := tx.stage()
	require.NoError(t, err)
	tree(t, scratch, "new")
	require.NoError(t, tx.swap())

	assert.Empty(t, tx.rollback())
	assert.NoDirExists(t, home)
	assert.DirExists(t, root)
}

func TestTransactionFreshRollbackKeepsExistingPrefix(t *testing.T) {
	home := t.TempDir()
	prefix := filepath.Join(home, "usr")
	require.NoError(t, os.MkdirAll(prefix, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(prefix, "keep"), nil, 0o644))

	tx := begin(fresh, home, prefix)
	_, err := tx.stage()
	require.NoError(t, err)

	err = tx.swap()
	assert.ErrorIs(t, err, ErrMove)

	assert.Empty(t, tx.rollback())
	assert.FileExists(t, filepath.Join(prefix, "keep"))
	assert.DirExists(t, home)
}

func TestTransactionSwapWithoutStage(t *testing.T) {
	home := t.TempDir()
	tx := begin(fresh, home, filepath.Join(home, "usr"))
	assert.ErrorIs(t, tx.swap(), ErrMove)
}
