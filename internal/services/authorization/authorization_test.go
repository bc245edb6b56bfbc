package authorization

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asakaida/restree/internal/entities"
	"github.com/asakaida/restree/internal/infrastructure/cache"
	"github.com/asakaida/restree/internal/infrastructure/logging"
	"github.com/asakaida/restree/internal/repositories/memory"
	"github.com/asakaida/restree/internal/services/permtree"
	"github.com/asakaida/restree/internal/services/restree"
	"github.com/asakaida/restree/pkg/cache/memorycache"
)

const (
	ownerID int64 = 1
	groupG  int64 = 1
	groupH  int64 = 2
	groupN  int64 = 3 // contains group G
	userU   int64 = 7
)

type env struct {
	store    *memory.Store
	tree     *restree.Service
	resolver *Resolver
	decider  *Decider
	owner    entities.Ref
}

func ptr(v int64) *int64 { return &v }

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	s := memory.NewStore()

	// *, visit -> {read -> write, delete, admin -> {admin_auth, admin_res}}
	perms := []*entities.PermissionNode{
		{ID: 1, Name: "*"},
		{ID: 2, Name: "visit"},
		{ID: 3, Name: "read", ParentID: ptr(2)},
		{ID: 4, Name: "write", ParentID: ptr(3)},
		{ID: 5, Name: "delete", ParentID: ptr(2)},
		{ID: 6, Name: "admin", ParentID: ptr(2)},
		{ID: 7, Name: "admin_auth", ParentID: ptr(6)},
		{ID: 8, Name: "admin_res", ParentID: ptr(6)},
	}
	for _, p := range perms {
		require.NoError(t, s.Permissions().Create(ctx, p))
	}

	pr := s.Principals()
	require.NoError(t, pr.CreateUser(ctx, &entities.User{ID: ownerID, Principal: "system"}))
	require.NoError(t, pr.CreateUser(ctx, &entities.User{ID: userU, Principal: "u"}))
	require.NoError(t, pr.CreateGroup(ctx, &entities.Group{ID: groupG, Name: "g"}))
	require.NoError(t, pr.CreateGroup(ctx, &entities.Group{ID: groupH, Name: "h"}))
	require.NoError(t, pr.CreateGroup(ctx, &entities.Group{ID: groupN, Name: "n"}))

	regions := cache.NewRegions(time.Second, logging.Discard())
	for _, name := range []string{cache.RegionDefault, cache.RegionLongTerm} {
		backend, err := memorycache.New(&memorycache.Config{MaxSizeBytes: 1 << 20, DefaultTTL: time.Hour})
		require.NoError(t, err)
		regions.Add(name, backend, time.Hour)
	}

	pt := permtree.New(s.Permissions(), regions)
	tree := restree.NewService(s.Resources(), s.Aces(), pr, pt, regions, logging.Discard())
	resolver := NewResolver(s.Aces(), pt, regions)
	decider := NewDecider(tree, resolver, time.Second, logging.Discard())

	return &env{store: s, tree: tree, resolver: resolver, decider: decider, owner: entities.ByID(ownerID)}
}

func (e *env) root(t *testing.T) *entities.ResourceNode {
	t.Helper()
	n, err := e.tree.CreateRoot(context.Background(), e.owner, "root", entities.KindRes(), entities.ResourceAttrs{})
	require.NoError(t, err)
	return n
}

func (e *env) child(t *testing.T, parent *entities.ResourceNode, name string) *entities.ResourceNode {
	t.Helper()
	n, err := e.tree.AddChild(context.Background(), parent, e.owner, name, entities.KindRes(), entities.ResourceAttrs{})
	require.NoError(t, err)
	return n
}

func (e *env) allow(t *testing.T, node *entities.ResourceNode, group int64, perm string, sortIndex int) {
	t.Helper()
	_, err := e.tree.Allow(context.Background(), node, restree.AceRequest{
		Owner: e.owner, Permission: entities.ByName(perm), Group: entities.ByID(group), SortIndex: &sortIndex,
	})
	require.NoError(t, err)
}

func (e *env) deny(t *testing.T, node *entities.ResourceNode, group int64, perm string, sortIndex int) {
	t.Helper()
	_, err := e.tree.Deny(context.Background(), node, restree.AceRequest{
		Owner: e.owner, Permission: entities.ByName(perm), Group: entities.ByID(group), SortIndex: &sortIndex,
	})
	require.NoError(t, err)
}

func labels(acl []entities.ACLEntry) []string {
	out := make([]string, 0, len(acl))
	for _, e := range acl {
		out = append(out, e.String())
	}
	return out
}

func TestNodeACL_AllowExpandsAncestors(t *testing.T) {
	e := newEnv(t)
	n := e.root(t)
	e.allow(t, n, groupG, "write", 500)

	acl, err := e.resolver.NodeACL(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"(Allow, g:1, write)",
		"(Allow, g:1, read)",
		"(Allow, g:1, visit)",
	}, labels(acl))
}

func TestNodeACL_DenyExpandsDescendants(t *testing.T) {
	e := newEnv(t)
	n := e.root(t)
	e.deny(t, n, groupG, "read", 500)

	acl, err := e.resolver.NodeACL(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"(Deny, g:1, read)",
		"(Deny, g:1, write)",
	}, labels(acl))
}

func TestNodeACL_WildcardAndOrder(t *testing.T) {
	e := newEnv(t)
	n := e.root(t)
	e.allow(t, n, groupH, "*", 100)
	e.allow(t, n, groupG, "visit", 50)
	e.deny(t, n, groupG, "admin", 900)

	acl, err := e.resolver.NodeACL(context.Background(), n.ID)
	require.NoError(t, err)

	// deny group first, then allow group by sort index
	assert.Equal(t, []string{
		"(Deny, g:1, admin)",
		"(Deny, g:1, admin_auth)",
		"(Deny, g:1, admin_res)",
		"(Allow, g:1, visit)",
		"(Allow, g:2, *)",
	}, labels(acl))
	assert.True(t, acl[4].AllPermissions)
	assert.True(t, acl[4].Matches("admin_res"))
}

func TestEvaluate_FirstMatchWins(t *testing.T) {
	levels := []LevelACL{{NodeID: 1, Entries: []entities.ACLEntry{
		{Effect: entities.Deny, Principal: "g:1", Permission: "write"},
		{Effect: entities.Allow, Principal: "g:1", Permission: "write"},
	}}}

	d := Evaluate(levels, Groups(1), "write")
	assert.Equal(t, entities.Deny, d.Effect)
	require.NotNil(t, d.Entry)
	assert.Equal(t, int64(1), d.NodeID)

	d = Evaluate(levels, Groups(2), "write")
	assert.Equal(t, entities.Deny, d.Effect)
	assert.Nil(t, d.Entry, "default deny carries no entry")
}

func TestDecide_AncestryAggregation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	root := e.root(t)
	a := e.child(t, root, "a")
	b := e.child(t, a, "b")
	e.allow(t, root, groupG, "visit", 500)

	d, err := e.decider.Decide(ctx, Groups(groupG), b.ID, "visit")
	require.NoError(t, err)
	assert.True(t, d.Allowed())
	assert.Equal(t, root.ID, d.NodeID)

	d, err = e.decider.Decide(ctx, Groups(groupG), b.ID, "read")
	require.NoError(t, err)
	assert.False(t, d.Allowed())

	levels, err := e.decider.EffectiveACL(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, []int64{b.ID, a.ID, root.ID}, []int64{levels[0].NodeID, levels[1].NodeID, levels[2].NodeID})
	assert.Len(t, Flatten(levels), 1)
}

func TestDecide_NearestNodeWins(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	root := e.root(t)
	a := e.child(t, root, "a")
	e.allow(t, root, groupG, "write", 500)
	e.deny(t, a, groupG, "write", 500)

	d, err := e.decider.Decide(ctx, Groups(groupG), a.ID, "write")
	require.NoError(t, err)
	assert.Equal(t, entities.Deny, d.Effect)
	assert.Equal(t, a.ID, d.NodeID)

	d, err = e.decider.Decide(ctx, Groups(groupG), a.ID, "read")
	require.NoError(t, err)
	assert.Equal(t, entities.Allow, d.Effect, "read granted by the root's write allow")
}

func TestDecide_SeesNewAceAfterMutation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	root := e.root(t)

	d, err := e.decider.Decide(ctx, Groups(groupG), root.ID, "visit")
	require.NoError(t, err)
	assert.False(t, d.Allowed())

	e.allow(t, root, groupG, "visit", 500)

	d, err = e.decider.Decide(ctx, Groups(groupG), root.ID, "visit")
	require.NoError(t, err)
	assert.True(t, d.Allowed())
}

func TestDecide_NestedGroups(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	pr := e.store.Principals()
	require.NoError(t, pr.AddMember(ctx, &entities.GroupMember{GroupID: groupG, MemberUserID: ptr(userU), OwnerID: ownerID}))
	require.NoError(t, pr.AddMember(ctx, &entities.GroupMember{GroupID: groupN, MemberGroupID: ptr(groupG), OwnerID: ownerID}))
	// cycle n -> g -> n
	require.NoError(t, pr.AddMember(ctx, &entities.GroupMember{GroupID: groupG, MemberGroupID: ptr(groupN), OwnerID: ownerID}))

	principal, err := NewPrincipalResolver(pr).Resolve(ctx, entities.ByName("u"))
	require.NoError(t, err)
	assert.Equal(t, []string{"u:7", "g:1", "g:3"}, principal.Keys())

	root := e.root(t)
	e.allow(t, root, groupN, "read", 500)

	d, err := e.decider.Decide(ctx, principal, root.ID, "read")
	require.NoError(t, err)
	assert.True(t, d.Allowed())

	_, err = NewPrincipalResolver(pr).Resolve(ctx, entities.ByName("ghost"))
	assert.Error(t, err)
}

type recordingObserver struct {
	effects []string
}

func (o *recordingObserver) Decision(effect string) {
	o.effects = append(o.effects, effect)
}

func TestDecide_Observer(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	root := e.root(t)
	e.allow(t, root, groupG, "*", 500)

	obs := &recordingObserver{}
	e.decider.SetObserver(obs)

	_, err := e.decider.Decide(ctx, Groups(groupG), root.ID, "delete")
	require.NoError(t, err)
	_, err = e.decider.Decide(ctx, Groups(groupH), root.ID, "delete")
	require.NoError(t, err)
	assert.Equal(t, []string{"Allow", "Deny"}, obs.effects)
}

// brokenLoader fails for one node ID
type brokenLoader struct {
	NodeLoader
	broken int64
}

func (l brokenLoader) Load(ctx context.Context, id int64) (*entities.ResourceNode, error) {
	if id == l.broken {
		return nil, errors.New("store unreachable")
	}
	return l.NodeLoader.Load(ctx, id)
}

func TestDecide_ResourceUnavailable(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	root := e.root(t)
	a := e.child(t, root, "a")
	e.allow(t, a, groupG, "visit", 500)

	d := NewDecider(brokenLoader{NodeLoader: e.tree, broken: root.ID}, e.resolver, time.Second, logging.Discard())
	_, err := d.Decide(ctx, Groups(groupG), a.ID, "visit")

	var unavailable *entities.ResourceUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, root.ID, unavailable.ResourceID)
	assert.ErrorIs(t, err, entities.ErrResourceUnavailable)

	_, err = e.decider.Decide(ctx, Groups(groupG), 4242, "visit")
	assert.ErrorIs(t, err, entities.ErrResourceUnavailable)
	assert.ErrorIs(t, err, entities.ErrResourceNotFound)
}

func TestPrincipalResolver_ImplicitGroups(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	r := NewPrincipalResolver(e.store.Principals()).WithImplicitGroups(groupH)

	assert.Equal(t, []string{"g:2"}, r.Anonymous().Keys())

	p, err := r.Resolve(ctx, entities.ByID(userU))
	require.NoError(t, err)
	assert.Equal(t, []string{"u:7", "g:2"}, p.Keys())
}
