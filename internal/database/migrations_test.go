package database

import (
	"io/fs"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	source, err := iofs.New(migrationsFS, "migrations")
	require.NoError(t, err)
	defer source.Close()

	first, err := source.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)

	next, err := source.Next(first)
	require.NoError(t, err)
	assert.Equal(t, uint(2), next)

	_, err = source.Next(next)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	for _, version := range []uint{1, 2} {
		up, _, err := source.ReadUp(version)
		require.NoError(t, err, "up migration %d", version)
		up.Close()

		down, _, err := source.ReadDown(version)
		require.NoError(t, err, "down migration %d", version)
		down.Close()
	}
}
