package e2e

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/asakaida/restree/internal/bootstrap"
	"github.com/asakaida/restree/internal/handlers"
)

func nodeID(t *testing.T, node map[string]interface{}) float64 {
	t.Helper()
	id, ok := node["id"].(float64)
	require.True(t, ok, "node without id: %v", node)
	return id
}

// TestScenario_ResourceTree builds a small document tree on PostgreSQL and
// checks inheritance, deny propagation and group nesting through the service
func TestScenario_ResourceTree(t *testing.T) {
	cfg := LoadConfig(t)
	w := StartWorker(t, cfg)
	w.Seed(t)

	root := w.Call(t, handlers.MethodGetChild, map[string]interface{}{"root": bootstrap.NodeNameRoot})
	rootID := nodeID(t, root)

	docs := w.Call(t, handlers.MethodAddChild, map[string]interface{}{
		"parent_id": rootID, "name": "docs", "owner": "root", "title": "Documents",
	})
	docsID := nodeID(t, docs)
	secret := w.Call(t, handlers.MethodAddChild, map[string]interface{}{
		"parent_id": docsID, "name": "secret", "owner": "root",
	})
	secretID := nodeID(t, secret)

	// Everyone may read the documents, but nobody below may visit "secret"
	w.Call(t, handlers.MethodAllow, map[string]interface{}{
		"resource_id": docsID, "owner": "root", "permission": "read", "group": "everyone",
	})
	w.Call(t, handlers.MethodDeny, map[string]interface{}{
		"resource_id": docsID, "owner": "root", "permission": "visit", "group": "users",
	})

	decide := func(user interface{}, resource float64, permission string) string {
		req := map[string]interface{}{"resource_id": resource, "permission": permission}
		if user != nil {
			req["user"] = user
		}
		return w.Call(t, handlers.MethodDecide, req)["effect"].(string)
	}

	t.Run("allow read implies visit for anonymous", func(t *testing.T) {
		assert.Equal(t, "Allow", decide(nil, docsID, "visit"))
		assert.Equal(t, "Allow", decide(nil, secretID, "read"))
		assert.Equal(t, "Deny", decide(nil, docsID, "write"))
	})

	t.Run("deny visit covers every descendant permission", func(t *testing.T) {
		// unit_tester is not in "users", root is
		assert.Equal(t, "Allow", decide("unit_tester", secretID, "read"))
		assert.Equal(t, "Deny", decide("root", secretID, "read"))
		assert.Equal(t, "Deny", decide("root", secretID, "admin_res"))
	})

	t.Run("effective ACL lists the nearest node first", func(t *testing.T) {
		resp := w.Call(t, handlers.MethodEffectiveACL, map[string]interface{}{"resource_id": secretID})
		levels := resp["levels"].([]interface{})
		require.Len(t, levels, 3)
		assert.Equal(t, secretID, levels[0].(map[string]interface{})["node_id"])
		assert.Equal(t, rootID, levels[2].(map[string]interface{})["node_id"])
	})

	t.Run("path lookup", func(t *testing.T) {
		got := w.Call(t, handlers.MethodGetChild, map[string]interface{}{
			"root": bootstrap.NodeNameRoot, "path": []interface{}{"docs", "secret"},
		})
		assert.Equal(t, secretID, nodeID(t, got))
	})

	t.Run("missing node", func(t *testing.T) {
		_, err := w.TryCall(handlers.MethodGetChild, map[string]interface{}{"parent_id": docsID, "name": "nope"})
		assert.Equal(t, codes.NotFound, status.Code(err))
	})

	t.Run("duplicate ACE is rejected", func(t *testing.T) {
		_, err := w.TryCall(handlers.MethodAllow, map[string]interface{}{
			"resource_id": docsID, "owner": "root", "permission": "read", "group": "everyone",
		})
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})
}

// TestScenario_CacheInvalidationAcrossWorkers checks that an ACE added
// through one worker becomes visible to another worker whose cache already
// holds the old ACL
func TestScenario_CacheInvalidationAcrossWorkers(t *testing.T) {
	cfg := LoadConfig(t)
	a := StartWorker(t, cfg)
	b := StartWorker(t, cfg)
	a.Seed(t)

	root := a.Call(t, handlers.MethodGetChild, map[string]interface{}{"root": bootstrap.NodeNameRoot})
	helpID := nodeID(t, a.Call(t, handlers.MethodGetChild, map[string]interface{}{
		"parent_id": nodeID(t, root), "name": bootstrap.NodeNameHelp,
	}))

	decideOnB := func() string {
		return b.Call(t, handlers.MethodDecide, map[string]interface{}{
			"resource_id": helpID, "permission": "read",
		})["effect"].(string)
	}

	// Warm the cache of worker b
	require.Equal(t, "Deny", decideOnB())
	require.Equal(t, "Deny", decideOnB())

	a.Call(t, handlers.MethodAllow, map[string]interface{}{
		"resource_id": helpID, "owner": "system", "permission": "read", "group": "everyone",
	})

	assert.Eventually(t, func() bool { return decideOnB() == "Allow" }, 5*time.Second, 50*time.Millisecond)
}
