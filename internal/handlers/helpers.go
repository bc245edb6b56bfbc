package handlers

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/asakaida/restree/internal/entities"
	"github.com/asakaida/restree/internal/repositories"
	"github.com/asakaida/restree/internal/services/authorization"
	"github.com/asakaida/restree/internal/services/restree"
)

// === Shared Helper Functions for all handlers ===

// toStatus maps domain errors to gRPC status codes
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, entities.ErrResourceUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, entities.ErrResourceNotFound), errors.Is(err, repositories.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, entities.ErrResourceKindConflict):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, entities.ErrInvalidAce):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, entities.ErrEditorRequired), errors.Is(err, restree.ErrCycle):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, repositories.ErrDuplicate):
		return status.Error(codes.AlreadyExists, err.Error())
	}
	return status.Errorf(codes.Internal, "internal error: %v", err)
}

// fields wraps the request map with typed accessors
type fields map[string]interface{}

func (f fields) has(key string) bool {
	v, ok := f[key]
	return ok && v != nil
}

func (f fields) str(key string) string {
	if s, ok := f[key].(string); ok {
		return s
	}
	return ""
}

func (f fields) int64(key string) (int64, error) {
	switch v := f[key].(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer", key)
		}
		return int64(v), nil
	case nil:
		return 0, status.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	return 0, status.Errorf(codes.InvalidArgument, "%s must be a number", key)
}

func (f fields) optInt(key string) (*int, error) {
	if !f.has(key) {
		return nil, nil
	}
	v, err := f.int64(key)
	if err != nil {
		return nil, err
	}
	i := int(v)
	return &i, nil
}

// ref reads an ID (number) or a name (string) reference
func (f fields) ref(key string) (entities.Ref, error) {
	switch v := f[key].(type) {
	case nil:
		return entities.Ref{}, nil
	case string:
		return entities.ByName(v), nil
	case float64:
		id, err := f.int64(key)
		return entities.ByID(id), err
	}
	return entities.Ref{}, status.Errorf(codes.InvalidArgument, "%s must be an id or a name", key)
}

func (f fields) int64List(key string) ([]int64, error) {
	raw, ok := f[key].([]interface{})
	if !ok {
		if f.has(key) {
			return nil, status.Errorf(codes.InvalidArgument, "%s must be a list", key)
		}
		return nil, nil
	}
	out := make([]int64, 0, len(raw))
	for i, v := range raw {
		n, ok := v.(float64)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "%s[%d] must be a number", key, i)
		}
		out = append(out, int64(n))
	}
	return out, nil
}

func (f fields) stringList(key string) []string {
	raw, _ := f[key].([]interface{})
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// kind builds the node kind from "kind", "mime_type" and "size"
func (f fields) kind() (entities.Kind, error) {
	switch f.str("kind") {
	case "", entities.KindNameRes:
		return entities.KindRes(), nil
	case entities.KindNameFs:
		var size int64
		if f.has("size") {
			var err error
			if size, err = f.int64("size"); err != nil {
				return entities.Kind{}, err
			}
		}
		k := entities.KindFs(entities.FsAttrs{MimeType: f.str("mime_type"), Size: size, Rev: 1})
		if err := k.Validate(); err != nil {
			return k, status.Error(codes.InvalidArgument, err.Error())
		}
		return k, nil
	default:
		return entities.KindNamed(f.str("kind")), nil
	}
}

func (f fields) attrs() (entities.ResourceAttrs, error) {
	sortIndex, err := f.optInt("sort_index")
	if err != nil {
		return entities.ResourceAttrs{}, err
	}
	return entities.ResourceAttrs{
		Title:      f.str("title"),
		ShortTitle: f.str("short_title"),
		Slug:       f.str("slug"),
		SortIndex:  sortIndex,
		Iface:      entities.Iface(f.str("iface")),
	}, nil
}

func newStruct(m map[string]interface{}) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return s, nil
}

func nodeToMap(n *entities.ResourceNode) map[string]interface{} {
	m := map[string]interface{}{
		"id":          n.ID,
		"name":        n.Name,
		"title":       n.DisplayTitle(),
		"short_title": n.DisplayShortTitle(),
		"slug":        n.DisplaySlug(),
		"kind":        n.Kind.Name(),
		"sort_index":  n.SortIndex,
		"iface":       string(n.Iface),
		"owner_id":    n.OwnerID,
	}
	if n.ParentID != nil {
		m["parent_id"] = *n.ParentID
	} else {
		m["parent_id"] = nil
	}
	if n.Kind.Fs != nil {
		m["mime_type"] = n.Kind.Fs.MimeType
		m["size"] = n.Kind.Fs.Size
		m["rev"] = n.Kind.Fs.Rev
	}
	return m
}

func aceToMap(a *entities.Ace) map[string]interface{} {
	return map[string]interface{}{
		"id":            a.ID,
		"resource_id":   a.ResourceID,
		"principal":     a.PrincipalKey(),
		"permission_id": a.PermissionID,
		"allow":         a.Allow,
		"sort_index":    a.SortIndex,
		"description":   a.Description,
	}
}

func entriesToList(entries []entities.ACLEntry) []interface{} {
	out := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryToMap(e))
	}
	return out
}

func entryToMap(e entities.ACLEntry) map[string]interface{} {
	return map[string]interface{}{
		"effect":     e.Effect.String(),
		"principal":  e.Principal,
		"permission": e.PermissionLabel(),
	}
}

func levelsToList(levels []authorization.LevelACL) []interface{} {
	out := make([]interface{}, 0, len(levels))
	for _, l := range levels {
		out = append(out, map[string]interface{}{
			"node_id": l.NodeID,
			"entries": entriesToList(l.Entries),
		})
	}
	return out
}

func requireString(f fields, key string) (string, error) {
	s := f.str(key)
	if s == "" {
		return "", status.Error(codes.InvalidArgument, fmt.Sprintf("%s is required", key))
	}
	return s, nil
}
