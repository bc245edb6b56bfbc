package permtree

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asakaida/restree/internal/entities"
	"github.com/asakaida/restree/internal/infrastructure/cache"
	"github.com/asakaida/restree/internal/infrastructure/logging"
	"github.com/asakaida/restree/internal/repositories/memory"
	"github.com/asakaida/restree/pkg/cache/memorycache"
)

func ptr(v int64) *int64 { return &v }

// taxonomy: *, visit -> {read -> write, delete, admin -> {admin_auth, admin_res}}
func taxonomy() []*entities.PermissionNode {
	return []*entities.PermissionNode{
		{ID: 1, Name: "*"},
		{ID: 2, Name: "visit"},
		{ID: 3, Name: "read", ParentID: ptr(2)},
		{ID: 4, Name: "write", ParentID: ptr(3)},
		{ID: 5, Name: "delete", ParentID: ptr(2)},
		{ID: 6, Name: "admin", ParentID: ptr(2)},
		{ID: 7, Name: "admin_auth", ParentID: ptr(6)},
		{ID: 8, Name: "admin_res", ParentID: ptr(6)},
	}
}

func names(refs []entities.PermissionRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.Name)
	}
	return out
}

func TestBuild(t *testing.T) {
	table := Build(taxonomy())
	require.Equal(t, 8, table.Len())

	tests := []struct {
		name         string
		wantParents  []string
		wantChildren []string
	}{
		{"*", []string{}, []string{}},
		{"visit", []string{}, []string{"read", "write", "delete", "admin", "admin_auth", "admin_res"}},
		{"read", []string{"visit"}, []string{"write"}},
		{"write", []string{"read", "visit"}, []string{}},
		{"admin", []string{"visit"}, []string{"admin_auth", "admin_res"}},
		{"admin_auth", []string{"admin", "visit"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, ok := table.ByName(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.wantParents, names(info.Parents))
			assert.Equal(t, tt.wantChildren, names(info.Children))
		})
	}
}

func TestBuild_InputOrderDoesNotMatter(t *testing.T) {
	nodes := taxonomy()
	reversed := make([]*entities.PermissionNode, len(nodes))
	for i, n := range nodes {
		reversed[len(nodes)-1-i] = n
	}
	assert.Equal(t, Build(nodes).Infos(), Build(reversed).Infos())
}

func TestBuild_DeepChainHasNoDuplicates(t *testing.T) {
	nodes := []*entities.PermissionNode{{ID: 1, Name: "a"}}
	for i := int64(2); i <= 6; i++ {
		nodes = append(nodes, &entities.PermissionNode{ID: i, Name: string(rune('a' + i - 1)), ParentID: ptr(i - 1)})
	}
	table := Build(nodes)

	root, _ := table.ByID(1)
	assert.Len(t, root.Children, 5)
	leaf, _ := table.ByID(6)
	assert.Equal(t, []string{"e", "d", "c", "b", "a"}, names(leaf.Parents))
}

func TestTable_Lookup(t *testing.T) {
	table := Build(taxonomy())

	info, ok := table.Lookup(entities.ByID(4))
	require.True(t, ok)
	assert.Equal(t, "write", info.Name)

	info, ok = table.Lookup(entities.ByName("admin_res"))
	require.True(t, ok)
	assert.Equal(t, int64(8), info.ID)

	_, ok = table.Lookup(entities.ByName("fly"))
	assert.False(t, ok)
}

func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.NewStore()
	for _, n := range taxonomy() {
		require.NoError(t, s.Permissions().Create(context.Background(), n))
	}
	return s
}

func TestTree_LoadAll_Cached(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t)

	regions := cache.NewRegions(time.Second, logging.Discard())
	backend, err := memorycache.New(&memorycache.Config{MaxSizeBytes: 1 << 20, DefaultTTL: time.Hour})
	require.NoError(t, err)
	regions.Add(cache.RegionLongTerm, backend, time.Hour)

	tree := New(s.Permissions(), regions)
	first, err := tree.LoadAll(ctx)
	require.NoError(t, err)

	// Added after the first load: invisible until the region is invalidated
	require.NoError(t, s.Permissions().Create(ctx, &entities.PermissionNode{Name: "share", ParentID: ptr(3)}))

	second, err := tree.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Infos(), second.Infos())
	_, ok := second.ByName("share")
	assert.False(t, ok)

	require.NoError(t, regions.InvalidateRegion(ctx, cache.RegionLongTerm))
	third, err := tree.LoadAll(ctx)
	require.NoError(t, err)
	share, ok := third.ByName("share")
	require.True(t, ok)
	assert.Equal(t, []string{"read", "visit"}, names(share.Parents))
}

func TestTree_LoadAll_NoCache(t *testing.T) {
	tree := New(seedStore(t).Permissions(), nil)
	table, err := tree.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, table.Len())
}
