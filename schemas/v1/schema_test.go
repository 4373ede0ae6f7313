package v1

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brscrawler/brs-crawler/schemas"
)

func TestBaseUsesSchemaName(t *testing.T) {
	base, err := GetBase(schemas.Config{SchemaName: "crawler"})
	require.NoError(t, err)
	assert.Contains(t, base, "SET search_path TO crawler,public;")
	assert.Contains(t, base, "CREATE TABLE crawler.peers")
	assert.NotContains(t, base, "public.peers")

	base, err = GetBase(schemas.Config{})
	require.NoError(t, err)
	assert.Contains(t, base, "CREATE TABLE public.checks")
	assert.False(t, strings.Contains(base, "search_path"))
}

func TestPatchesAreContiguous(t *testing.T) {
	coll, err := GetPatches(schemas.Config{SchemaName: "crawler"})
	require.NoError(t, err)

	ms := coll.Migrations()
	require.Len(t, ms, Version().Patch)
	seen := map[int64]bool{}
	for _, m := range ms {
		seen[m.Version] = true
	}
	for i := 1; i <= Version().Patch; i++ {
		assert.True(t, seen[int64(i)], "patch %d", i)
	}
	assert.Equal(t, MajorVersion, Version().Major)
	assert.Equal(t, MajorVersion, schemas.LatestMajor)
}
