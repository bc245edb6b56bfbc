package handlers

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/asakaida/restree/internal/entities"
	"github.com/asakaida/restree/internal/infrastructure/cache"
	"github.com/asakaida/restree/internal/services/authorization"
	"github.com/asakaida/restree/internal/services/restree"
)

// ResourceTreeHandler implements ResourceTreeServer on top of the services
type ResourceTreeHandler struct {
	tree       *restree.Service
	resolver   *authorization.Resolver
	decider    *authorization.Decider
	principals *authorization.PrincipalResolver
	regions    *cache.Regions
}

var _ ResourceTreeServer = (*ResourceTreeHandler)(nil)

// NewResourceTreeHandler creates a new ResourceTreeHandler
func NewResourceTreeHandler(
	tree *restree.Service,
	resolver *authorization.Resolver,
	decider *authorization.Decider,
	principals *authorization.PrincipalResolver,
	regions *cache.Regions,
) *ResourceTreeHandler {
	return &ResourceTreeHandler{
		tree:       tree,
		resolver:   resolver,
		decider:    decider,
		principals: principals,
		regions:    regions,
	}
}

// Decide answers whether a principal holds a permission on a resource.
// The principal is "user" (id or principal name) plus optional extra
// "groups"; without a user the anonymous principal is used.
func (h *ResourceTreeHandler) Decide(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := fields(req.AsMap())

	resourceID, err := f.int64("resource_id")
	if err != nil {
		return nil, err
	}
	permission, err := requireString(f, "permission")
	if err != nil {
		return nil, err
	}
	user, err := f.ref("user")
	if err != nil {
		return nil, err
	}
	extra, err := f.int64List("groups")
	if err != nil {
		return nil, err
	}

	principal := h.principals.Anonymous()
	if !user.IsZero() {
		if principal, err = h.principals.Resolve(ctx, user); err != nil {
			return nil, toStatus(err)
		}
	}
	principal.GroupIDs = append(principal.GroupIDs, extra...)

	decision, err := h.decider.Decide(ctx, principal, resourceID, permission)
	if err != nil {
		return nil, toStatus(err)
	}

	resp := map[string]interface{}{
		"effect":     decision.Effect.String(),
		"allowed":    decision.Allowed(),
		"permission": decision.Permission,
		"node_id":    nil,
		"entry":      nil,
	}
	if decision.Entry != nil {
		resp["node_id"] = decision.NodeID
		resp["entry"] = entryToMap(*decision.Entry)
	}
	return newStruct(resp)
}

// EffectiveACL returns the ACLs along the ancestry chain, nearest first
func (h *ResourceTreeHandler) EffectiveACL(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := fields(req.AsMap())
	resourceID, err := f.int64("resource_id")
	if err != nil {
		return nil, err
	}

	levels, err := h.decider.EffectiveACL(ctx, resourceID)
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]interface{}{
		"levels":  levelsToList(levels),
		"entries": entriesToList(authorization.Flatten(levels)),
	})
}

// NodeACL returns the expanded ACL of a single node
func (h *ResourceTreeHandler) NodeACL(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := fields(req.AsMap())
	resourceID, err := f.int64("resource_id")
	if err != nil {
		return nil, err
	}
	if _, err := h.tree.Load(ctx, resourceID); err != nil {
		return nil, toStatus(err)
	}

	acl, err := h.resolver.NodeACL(ctx, resourceID)
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]interface{}{"entries": entriesToList(acl)})
}

// CreateRoot creates a root or returns the existing one of the same kind
func (h *ResourceTreeHandler) CreateRoot(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := fields(req.AsMap())
	name, err := requireString(f, "name")
	if err != nil {
		return nil, err
	}
	owner, kind, attrs, err := nodeInput(f)
	if err != nil {
		return nil, err
	}

	node, err := h.tree.CreateRoot(ctx, owner, name, kind, attrs)
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(nodeToMap(node))
}

// AddChild creates a child below "parent_id"
func (h *ResourceTreeHandler) AddChild(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := fields(req.AsMap())
	parentID, err := f.int64("parent_id")
	if err != nil {
		return nil, err
	}
	name, err := requireString(f, "name")
	if err != nil {
		return nil, err
	}
	owner, kind, attrs, err := nodeInput(f)
	if err != nil {
		return nil, err
	}

	parent, err := h.tree.Load(ctx, parentID)
	if err != nil {
		return nil, toStatus(err)
	}
	node, err := h.tree.AddChild(ctx, parent, owner, name, kind, attrs)
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(nodeToMap(node))
}

// GetChild resolves a node either by "parent_id" and "name" or by "root"
// and an optional "path" of names
func (h *ResourceTreeHandler) GetChild(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := fields(req.AsMap())

	var node *entities.ResourceNode
	var err error
	if root := f.str("root"); root != "" {
		node, err = h.tree.Traverse(ctx, root, f.stringList("path"))
	} else {
		parentID, perr := f.int64("parent_id")
		if perr != nil {
			return nil, perr
		}
		name, nerr := requireString(f, "name")
		if nerr != nil {
			return nil, nerr
		}
		var parent *entities.ResourceNode
		if parent, err = h.tree.Load(ctx, parentID); err == nil {
			node, err = h.tree.Child(ctx, parent, name)
		}
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(nodeToMap(node))
}

// Allow attaches an allow ACE
func (h *ResourceTreeHandler) Allow(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return h.addAce(ctx, req, true)
}

// Deny attaches a deny ACE
func (h *ResourceTreeHandler) Deny(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return h.addAce(ctx, req, false)
}

func (h *ResourceTreeHandler) addAce(ctx context.Context, req *structpb.Struct, allow bool) (*structpb.Struct, error) {
	f := fields(req.AsMap())
	resourceID, err := f.int64("resource_id")
	if err != nil {
		return nil, err
	}

	var aceReq restree.AceRequest
	for key, dst := range map[string]*entities.Ref{
		"owner":      &aceReq.Owner,
		"permission": &aceReq.Permission,
		"user":       &aceReq.User,
		"group":      &aceReq.Group,
	} {
		if *dst, err = f.ref(key); err != nil {
			return nil, err
		}
	}
	if aceReq.SortIndex, err = f.optInt("sort_index"); err != nil {
		return nil, err
	}
	aceReq.Description = f.str("description")

	node, err := h.tree.Load(ctx, resourceID)
	if err != nil {
		return nil, toStatus(err)
	}

	add := h.tree.Deny
	if allow {
		add = h.tree.Allow
	}
	ace, err := add(ctx, node, aceReq)
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(aceToMap(ace))
}

// InvalidateCache clears "region", or every region when it is empty
func (h *ResourceTreeHandler) InvalidateCache(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := fields(req.AsMap())

	regions := h.regions.Names()
	if name := f.str("region"); name != "" {
		if _, ok := h.regions.Backend(name); !ok {
			return nil, status.Errorf(codes.NotFound, "unknown cache region '%s'", name)
		}
		regions = []string{name}
	}

	cleared := make([]interface{}, 0, len(regions))
	for _, name := range regions {
		if err := h.regions.InvalidateRegion(ctx, name); err != nil {
			return nil, status.Errorf(codes.Internal, "failed to invalidate region '%s': %v", name, err)
		}
		cleared = append(cleared, name)
	}
	return newStruct(map[string]interface{}{"regions": cleared})
}

func nodeInput(f fields) (entities.Ref, entities.Kind, entities.ResourceAttrs, error) {
	owner, err := f.ref("owner")
	if err != nil {
		return owner, entities.Kind{}, entities.ResourceAttrs{}, err
	}
	if owner.IsZero() {
		return owner, entities.Kind{}, entities.ResourceAttrs{}, status.Error(codes.InvalidArgument, "owner is required")
	}
	kind, err := f.kind()
	if err != nil {
		return owner, kind, entities.ResourceAttrs{}, err
	}
	attrs, err := f.attrs()
	return owner, kind, attrs, err
}
