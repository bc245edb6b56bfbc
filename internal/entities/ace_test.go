package entities

import (
	"errors"
	"testing"
)

func TestAce_Validate(t *testing.T) {
	tests := []struct {
		name    string
		ace     *Ace
		wantErr bool
	}{
		{
			name: "user entry",
			ace:  &Ace{ResourceID: 1, UserID: int64Ptr(2), PermissionID: 3, OwnerID: 1},
		},
		{
			name: "group entry",
			ace:  &Ace{ResourceID: 1, GroupID: int64Ptr(2), PermissionID: 3, OwnerID: 1},
		},
		{
			name:    "neither user nor group",
			ace:     &Ace{ResourceID: 1, PermissionID: 3, OwnerID: 1},
			wantErr: true,
		},
		{
			name:    "both user and group",
			ace:     &Ace{ResourceID: 1, UserID: int64Ptr(2), GroupID: int64Ptr(2), PermissionID: 3, OwnerID: 1},
			wantErr: true,
		},
		{
			name:    "missing permission",
			ace:     &Ace{ResourceID: 1, UserID: int64Ptr(2), OwnerID: 1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ace.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidAce) {
				t.Errorf("Validate() error = %v, want ErrInvalidAce", err)
			}
		})
	}
}

func TestAce_PrincipalKey(t *testing.T) {
	tests := []struct {
		name string
		ace  *Ace
		want string
	}{
		{name: "user", ace: &Ace{UserID: int64Ptr(4)}, want: "u:4"},
		{name: "group", ace: &Ace{GroupID: int64Ptr(3)}, want: "g:3"},
		{name: "zero user falls through to group", ace: &Ace{UserID: int64Ptr(0), GroupID: int64Ptr(3)}, want: "g:3"},
		{name: "zero user alone", ace: &Ace{UserID: int64Ptr(0)}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ace.PrincipalKey(); got != tt.want {
				t.Errorf("PrincipalKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSortACEs(t *testing.T) {
	aces := []*Ace{
		{ID: 1, Allow: true, SortIndex: 500},
		{ID: 2, Allow: false, SortIndex: 500},
		{ID: 3, Allow: true, SortIndex: 100},
		{ID: 4, Allow: false, SortIndex: 900},
		{ID: 5, Allow: false, SortIndex: 500},
	}
	SortACEs(aces)

	want := []int64{2, 5, 4, 3, 1}
	for i, id := range want {
		if aces[i].ID != id {
			t.Fatalf("position %d: got ACE %d, want %d", i, aces[i].ID, id)
		}
	}
}
