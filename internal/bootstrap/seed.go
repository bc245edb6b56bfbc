// Package bootstrap seeds principals, the permission taxonomy and the
// initial resource tree.
package bootstrap

import (
	"fmt"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/asakaida/restree/internal/entities"
)

// Seed is the content applied by Apply. It is usually DefaultSeed or read
// from a YAML file with LoadSeed.
type Seed struct {
	Owner       string           `yaml:"owner"` // Principal recorded as owner; defaults to "system"
	Users       []UserSeed       `yaml:"users"`
	Groups      []GroupSeed      `yaml:"groups"`
	Members     []MemberSeed     `yaml:"members"`
	Permissions []PermissionSeed `yaml:"permissions"`
	Resources   []ResourceSeed   `yaml:"resources"`
}

// UserSeed describes a user
type UserSeed struct {
	ID          int64  `yaml:"id,omitempty"`
	Principal   string `yaml:"principal"`
	Email       string `yaml:"email,omitempty"`
	DisplayName string `yaml:"display_name,omitempty"`
	Enabled     bool   `yaml:"enabled"`
}

// GroupSeed describes a group
type GroupSeed struct {
	ID          int64  `yaml:"id,omitempty"`
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// MemberSeed puts a user or a group into a group
type MemberSeed struct {
	Group       string `yaml:"group"`
	User        string `yaml:"user,omitempty"`
	MemberGroup string `yaml:"member_group,omitempty"`
}

// PermissionSeed describes one permission; Parent names an earlier entry
type PermissionSeed struct {
	ID          int64  `yaml:"id,omitempty"`
	Name        string `yaml:"name"`
	Parent      string `yaml:"parent,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// ResourceSeed describes a node with its ACL and children
type ResourceSeed struct {
	Name       string         `yaml:"name"`
	Kind       string         `yaml:"kind,omitempty"` // res (default) or file
	MimeType   string         `yaml:"mime_type,omitempty"`
	Size       int64          `yaml:"size,omitempty"`
	Title      string         `yaml:"title,omitempty"`
	ShortTitle string         `yaml:"short_title,omitempty"`
	Slug       string         `yaml:"slug,omitempty"`
	Iface      string         `yaml:"iface,omitempty"`
	SortIndex  *int           `yaml:"sort_index,omitempty"`
	ACL        []AceSeed      `yaml:"acl,omitempty"`
	Children   []ResourceSeed `yaml:"children,omitempty"`
}

// AceSeed describes one ACE; exactly one of User and Group is expected
type AceSeed struct {
	Effect      string `yaml:"effect"` // allow or deny
	Permission  string `yaml:"permission"`
	User        string `yaml:"user,omitempty"`
	Group       string `yaml:"group,omitempty"`
	SortIndex   *int   `yaml:"sort_index,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// Node names of the default tree
const (
	NodeNameRoot = "root"
	NodeNameHelp = "help"
	NodeNameSys  = "__sys__"
)

// DefaultSeed returns the built-in principals, taxonomy and tree
func DefaultSeed() *Seed {
	return &Seed{
		Owner: "system",
		Users: []UserSeed{
			{ID: entities.SystemUID, Principal: "system", Email: "system@localhost", DisplayName: "System"},
			{ID: entities.RootUID, Principal: "root", Email: "root@localhost", DisplayName: "Root", Enabled: true},
			{ID: entities.NobodyUID, Principal: "nobody", Email: "nobody@localhost", DisplayName: "Nobody"},
			{ID: entities.UnitTesterUID, Principal: "unit_tester", Email: "unit_tester@localhost", DisplayName: "Unit-Tester", Enabled: true},
		},
		Groups: []GroupSeed{
			{ID: entities.EveryoneRID, Name: "everyone", Kind: "System", Description: "Everyone (incl. unauthenticated users)"},
			{ID: entities.SystemRID, Name: "system", Kind: "System"},
			{ID: entities.WheelRID, Name: "wheel", Kind: "System", Description: "Site Admins"},
			{ID: entities.UsersRID, Name: "users", Kind: "System", Description: "Authenticated Users"},
			{ID: entities.UnitTestersRID, Name: "unit testers", Kind: "System", Description: "Unit Testers"},
		},
		Members: []MemberSeed{
			{Group: "users", User: "system"},
			{Group: "wheel", User: "system"},
			{Group: "wheel", User: "root"},
			{Group: "users", User: "root"},
			{Group: "unit testers", User: "unit_tester"},
		},
		Permissions: []PermissionSeed{
			{ID: 1, Name: entities.WildcardPermission, Description: "All permissions"},
			{ID: 2, Name: entities.PermVisit, Description: "Visit a resource"},
			{ID: 3, Name: entities.PermRead, Parent: entities.PermVisit, Description: "Read a resource"},
			{ID: 4, Name: entities.PermWrite, Parent: entities.PermRead, Description: "Write a resource"},
			{ID: 5, Name: entities.PermDelete, Parent: entities.PermVisit, Description: "Delete a resource"},
			{ID: 6, Name: entities.PermAdmin, Parent: entities.PermVisit, Description: "Administer"},
			{ID: 7, Name: entities.PermAdminAuth, Parent: entities.PermAdmin, Description: "Administer users and groups"},
			{ID: 8, Name: entities.PermAdminRes, Parent: entities.PermAdmin, Description: "Administer resources"},
		},
		Resources: []ResourceSeed{
			{
				Name:  NodeNameRoot,
				Title: "Root",
				Iface: string(entities.IfaceRoot),
				ACL: []AceSeed{
					{Effect: "allow", Permission: entities.WildcardPermission, Group: "wheel"},
				},
				Children: []ResourceSeed{
					{Name: NodeNameHelp, Title: "Help", Iface: string(entities.IfaceHelp)},
					{Name: NodeNameSys, Title: "System", Iface: string(entities.IfaceSystem)},
				},
			},
		},
	}
}

// LoadSeed reads a YAML seed file
func LoadSeed(fs afero.Fs, path string) (*Seed, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file %s: %w", path, err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	if err := seed.Validate(); err != nil {
		return nil, fmt.Errorf("invalid seed file %s: %w", path, err)
	}
	return &seed, nil
}

// Validate checks the parts of a seed that cannot be caught by the stores
func (s *Seed) Validate() error {
	for _, m := range s.Members {
		if (m.User == "") == (m.MemberGroup == "") {
			return fmt.Errorf("member of group '%s' needs exactly one of user and member_group", m.Group)
		}
	}
	return validateResources(s.Resources)
}

func validateResources(nodes []ResourceSeed) error {
	for _, n := range nodes {
		if n.Name == "" {
			return fmt.Errorf("resource without name")
		}
		if _, err := n.kind(); err != nil {
			return err
		}
		for _, a := range n.ACL {
			if a.Effect != "allow" && a.Effect != "deny" {
				return fmt.Errorf("resource '%s': unknown effect '%s'", n.Name, a.Effect)
			}
		}
		if err := validateResources(n.Children); err != nil {
			return err
		}
	}
	return nil
}

func (n ResourceSeed) kind() (entities.Kind, error) {
	switch n.Kind {
	case "", entities.KindNameRes:
		return entities.KindRes(), nil
	case entities.KindNameFs:
		k := entities.KindFs(entities.FsAttrs{MimeType: n.MimeType, Size: n.Size, Rev: 1})
		if err := k.Validate(); err != nil {
			return k, fmt.Errorf("resource '%s': %w", n.Name, err)
		}
		return k, nil
	}
	return entities.Kind{}, fmt.Errorf("resource '%s': unknown kind '%s'", n.Name, n.Kind)
}

func (n ResourceSeed) attrs() entities.ResourceAttrs {
	return entities.ResourceAttrs{
		Title:      n.Title,
		ShortTitle: n.ShortTitle,
		Slug:       n.Slug,
		SortIndex:  n.SortIndex,
		Iface:      entities.Iface(n.Iface),
	}
}
