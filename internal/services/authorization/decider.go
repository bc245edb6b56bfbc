package authorization

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/asakaida/restree/internal/entities"
)

// NodeLoader loads a resource node by ID; restree.Service implements it
type NodeLoader interface {
	Load(ctx context.Context, id int64) (*entities.ResourceNode, error)
}

// DecisionObserver receives the outcome of every decision
type DecisionObserver interface {
	Decision(effect string)
}

// LevelACL is the ACL of one node of an ancestry chain
type LevelACL struct {
	NodeID  int64
	Entries []entities.ACLEntry
}

// Decision is the outcome of Decide. Entry and NodeID are set when an ACL
// entry matched; a default deny leaves them empty.
type Decision struct {
	Effect     entities.Effect
	Permission string
	Entry      *entities.ACLEntry
	NodeID     int64
}

// Allowed reports whether the decision grants access
func (d *Decision) Allowed() bool {
	return d.Effect == entities.Allow
}

// Decider aggregates ACLs along the ancestry chain and evaluates them
type Decider struct {
	nodes        NodeLoader
	resolver     *Resolver
	storeTimeout time.Duration
	observer     DecisionObserver
	logger       logrus.FieldLogger
}

// NewDecider creates a new Decider. storeTimeout bounds every node or ACL
// load; zero disables the bound.
func NewDecider(nodes NodeLoader, resolver *Resolver, storeTimeout time.Duration, logger logrus.FieldLogger) *Decider {
	return &Decider{
		nodes:        nodes,
		resolver:     resolver,
		storeTimeout: storeTimeout,
		logger:       logger,
	}
}

// SetObserver registers the decision observer
func (d *Decider) SetObserver(o DecisionObserver) {
	d.observer = o
}

func (d *Decider) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d.storeTimeout)
}

// EffectiveACL returns the ACL of the node followed by the ACLs of its
// parent, grandparent and so on up to the root. Any node of the chain that
// cannot be loaded fails the whole walk with a ResourceUnavailableError.
func (d *Decider) EffectiveACL(ctx context.Context, resourceID int64) ([]LevelACL, error) {
	var levels []LevelACL
	visited := make(map[int64]bool)

	for id := &resourceID; id != nil; {
		current := *id
		if visited[current] {
			return nil, &entities.ResourceUnavailableError{ResourceID: current, Cause: errors.New("ancestry contains a cycle")}
		}
		visited[current] = true

		lctx, cancel := d.bounded(ctx)
		node, err := d.nodes.Load(lctx, current)
		if err == nil {
			var entries []entities.ACLEntry
			entries, err = d.resolver.NodeACL(lctx, current)
			levels = append(levels, LevelACL{NodeID: current, Entries: entries})
		}
		cancel()
		if err != nil {
			return nil, &entities.ResourceUnavailableError{ResourceID: current, Cause: err}
		}

		id = node.ParentID
	}
	return levels, nil
}

// Flatten concatenates the levels into one evaluation list
func Flatten(levels []LevelACL) []entities.ACLEntry {
	var acl []entities.ACLEntry
	for _, l := range levels {
		acl = append(acl, l.Entries...)
	}
	return acl
}

// Decide evaluates the effective ACL of a resource for a principal.
// The first entry matching one of the principal's keys and the permission
// wins; when nothing matches the answer is Deny.
func (d *Decider) Decide(ctx context.Context, principal entities.Principal, resourceID int64, permission string) (*Decision, error) {
	levels, err := d.EffectiveACL(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	decision := Evaluate(levels, principal, permission)

	d.logger.WithFields(logrus.Fields{
		"resource_id": resourceID,
		"permission":  permission,
		"principals":  principal.Keys(),
		"effect":      decision.Effect.String(),
		"matched_at":  decision.NodeID,
	}).Debug("authorization decision")
	if d.observer != nil {
		d.observer.Decision(decision.Effect.String())
	}
	return decision, nil
}

// Evaluate applies first-match-wins to already aggregated levels
func Evaluate(levels []LevelACL, principal entities.Principal, permission string) *Decision {
	keys := principal.KeySet()
	for _, level := range levels {
		for i := range level.Entries {
			entry := level.Entries[i]
			if _, ok := keys[entry.Principal]; !ok {
				continue
			}
			if !entry.Matches(permission) {
				continue
			}
			return &Decision{Effect: entry.Effect, Permission: permission, Entry: &entry, NodeID: level.NodeID}
		}
	}
	return &Decision{Effect: entities.Deny, Permission: permission}
}
