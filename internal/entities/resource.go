package entities

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Default sort indexes, as assigned by the database when not given
const (
	DefaultResourceSortIndex = 5000
	DefaultAceSortIndex      = 500
)

// Kind names used as discriminator values
const (
	KindNameRes = "res"
	KindNameFs  = "file"
)

// MimeTypeDirectory marks a filesystem node as a directory
const MimeTypeDirectory = "inode/directory"

// Kind is the tagged variant describing which extra attributes a node carries.
// A nil Fs means a plain resource.
type Kind struct {
	Fs *FsAttrs `json:"fs,omitempty"`

	// name keeps unknown discriminators readable; empty means derive from the variant
	name string
}

// FsAttrs are the attributes of a filesystem node ("file" kind)
type FsAttrs struct {
	TenantID int64  `json:"tenant_id"`
	FsRootID int64  `json:"fs_root_id"`
	Rev      int    `json:"rev"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// KindRes returns the plain resource kind
func KindRes() Kind {
	return Kind{}
}

// KindFs returns a filesystem kind carrying the given attributes
func KindFs(attrs FsAttrs) Kind {
	return Kind{Fs: &attrs}
}

// KindNamed returns a kind for an arbitrary discriminator value.
// Known names map to their variant.
func KindNamed(name string) Kind {
	switch name {
	case "", KindNameRes:
		return KindRes()
	case KindNameFs:
		return KindFs(FsAttrs{Rev: 1})
	default:
		return Kind{name: name}
	}
}

// Name returns the discriminator value stored in the "kind" column
func (k Kind) Name() string {
	if k.name != "" {
		return k.name
	}
	if k.Fs != nil {
		return KindNameFs
	}
	return KindNameRes
}

type kindJSON struct {
	Name string   `json:"name"`
	Fs   *FsAttrs `json:"fs,omitempty"`
}

// MarshalJSON keeps the discriminator when nodes go through an external cache
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(kindJSON{Name: k.Name(), Fs: k.Fs})
}

// UnmarshalJSON restores a kind written by MarshalJSON
func (k *Kind) UnmarshalJSON(data []byte) error {
	var v kindJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*k = Kind{Fs: v.Fs}
	if v.Name != KindNameRes && v.Name != KindNameFs {
		k.name = v.Name
	}
	return nil
}

// Same reports whether both kinds have the same discriminator
func (k Kind) Same(other Kind) bool {
	return k.Name() == other.Name()
}

// Validate checks the variant specific attributes
func (k Kind) Validate() error {
	if k.Fs == nil {
		return nil
	}
	if !strings.Contains(k.Fs.MimeType, "/") {
		return fmt.Errorf("invalid mime type: '%s'", k.Fs.MimeType)
	}
	if k.Fs.Size < 0 {
		return fmt.Errorf("size must not be negative: %d", k.Fs.Size)
	}
	return nil
}

// IsDir reports whether a filesystem node is a directory
func (k Kind) IsDir() bool {
	return k.Fs != nil && k.Fs.MimeType == MimeTypeDirectory
}

// Iface is a capability tag attached to a node; views and policies dispatch on it
type Iface string

// Known capability tags
const (
	IfaceNone   Iface = ""
	IfaceRoot   Iface = "root"
	IfaceHelp   Iface = "help"
	IfaceSystem Iface = "system"
	IfaceFs     Iface = "fs"
)

// ResourceNode is a node of the resource tree (adjacency list)
type ResourceNode struct {
	ID         int64
	ParentID   *int64 // nil for a tree root; roots are distinguished by Name
	Name       string // Unique among siblings
	Title      string
	ShortTitle string
	Slug       string
	Kind       Kind
	SortIndex  int
	Iface      Iface

	OwnerID   int64
	EditorID  *int64
	CreatedAt time.Time
	UpdatedAt *time.Time
}

// ResourceAttrs are the optional attributes given on creation
type ResourceAttrs struct {
	Title      string
	ShortTitle string
	Slug       string
	SortIndex  *int
	Iface      Iface
}

// NewResourceNode builds an unsaved node
func NewResourceNode(ownerID int64, parentID *int64, name string, kind Kind, attrs ResourceAttrs) *ResourceNode {
	sortIndex := DefaultResourceSortIndex
	if attrs.SortIndex != nil {
		sortIndex = *attrs.SortIndex
	}
	if kind.Fs != nil {
		kind.Fs.MimeType = strings.ToLower(kind.Fs.MimeType)
	}
	return &ResourceNode{
		ParentID:   parentID,
		Name:       name,
		Title:      attrs.Title,
		ShortTitle: attrs.ShortTitle,
		Slug:       attrs.Slug,
		Kind:       kind,
		SortIndex:  sortIndex,
		Iface:      attrs.Iface,
		OwnerID:    ownerID,
	}
}

// IsRoot reports whether the node is the root of its tree
func (n *ResourceNode) IsRoot() bool {
	return n.ParentID == nil
}

// DisplayTitle returns the title, falling back to the name
func (n *ResourceNode) DisplayTitle() string {
	if n.Title != "" {
		return n.Title
	}
	return n.Name
}

// DisplayShortTitle returns the short title, falling back to the title
func (n *ResourceNode) DisplayShortTitle() string {
	if n.ShortTitle != "" {
		return n.ShortTitle
	}
	return n.DisplayTitle()
}

// DisplaySlug returns the slug used in URLs, falling back to the name
func (n *ResourceNode) DisplaySlug() string {
	if n.Slug != "" {
		return n.Slug
	}
	return n.Name
}

// HasIface reports whether the node carries the capability tag
func (n *ResourceNode) HasIface(tag Iface) bool {
	if tag == IfaceFs && n.Kind.Fs != nil {
		return true
	}
	return tag != IfaceNone && n.Iface == tag
}

// Validate checks a node before it is created
func (n *ResourceNode) Validate() error {
	if n.Name == "" {
		return fmt.Errorf("resource name is required")
	}
	if n.OwnerID == 0 {
		return fmt.Errorf("resource owner is required")
	}
	return n.Kind.Validate()
}

// CheckEditor enforces that every update records an editor.
// Repositories call it right before committing an update.
func (n *ResourceNode) CheckEditor() error {
	if n.EditorID == nil || *n.EditorID == 0 {
		return ErrEditorRequired
	}
	return nil
}

func (n *ResourceNode) String() string {
	parent := "None"
	if n.ParentID != nil {
		parent = fmt.Sprintf("%d", *n.ParentID)
	}
	return fmt.Sprintf("<ResourceNode(id=%d, parent_id='%s', name='%s', kind='%s')>",
		n.ID, parent, n.Name, n.Kind.Name())
}

// Clone returns a deep copy so cached values are never mutated by callers
func (n *ResourceNode) Clone() *ResourceNode {
	c := *n
	if n.ParentID != nil {
		p := *n.ParentID
		c.ParentID = &p
	}
	if n.EditorID != nil {
		e := *n.EditorID
		c.EditorID = &e
	}
	if n.UpdatedAt != nil {
		u := *n.UpdatedAt
		c.UpdatedAt = &u
	}
	if n.Kind.Fs != nil {
		fs := *n.Kind.Fs
		c.Kind.Fs = &fs
	}
	return &c
}
