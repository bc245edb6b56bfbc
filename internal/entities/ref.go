package entities

import (
	"fmt"
	"strconv"
)

// Ref references a stored record either by numeric ID or by its name
// (principal for users, name for groups and permissions).
// Objects provide the third form through their Ref() method.
type Ref struct {
	ID   int64
	Name string
}

// ByID returns a reference by numeric ID
func ByID(id int64) Ref {
	return Ref{ID: id}
}

// ByName returns a reference by name or principal string
func ByName(name string) Ref {
	return Ref{Name: name}
}

// IsZero reports whether the reference points at nothing
func (r Ref) IsZero() bool {
	return r.ID == 0 && r.Name == ""
}

// IsID reports whether the reference is by ID
func (r Ref) IsID() bool {
	return r.ID != 0
}

func (r Ref) String() string {
	if r.IsID() {
		return strconv.FormatInt(r.ID, 10)
	}
	if r.Name == "" {
		return "<none>"
	}
	return fmt.Sprintf("'%s'", r.Name)
}
