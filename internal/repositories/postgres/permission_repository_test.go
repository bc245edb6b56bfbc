package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/asakaida/restree/internal/entities"
	"github.com/asakaida/restree/internal/repositories"
)

func TestPermissionRepository_Create(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)

	repo := NewPostgresPermissionRepository(db)
	ctx := context.Background()

	t.Run("正常系: 親子の権限を作成", func(t *testing.T) {
		visit := &entities.PermissionNode{Name: "visit", OwnerID: entities.SystemUID}
		if err := repo.Create(ctx, visit); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if visit.ID == 0 {
			t.Fatal("Expected ID to be assigned")
		}

		read := &entities.PermissionNode{Name: "read", ParentID: &visit.ID, OwnerID: entities.SystemUID}
		if err := repo.Create(ctx, read); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		got, err := repo.GetByName(ctx, "read")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if got.ParentID == nil || *got.ParentID != visit.ID {
			t.Errorf("Expected parent %d, got %v", visit.ID, got.ParentID)
		}
	})

	t.Run("正常系: 指定IDで作成した後も連番が進む", func(t *testing.T) {
		preset := &entities.PermissionNode{ID: 1000, Name: "preset", OwnerID: entities.SystemUID}
		if err := repo.Create(ctx, preset); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		next := &entities.PermissionNode{Name: "after_preset", OwnerID: entities.SystemUID}
		if err := repo.Create(ctx, next); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if next.ID <= 1000 {
			t.Errorf("Expected ID above 1000, got %d", next.ID)
		}
	})

	t.Run("異常系: 同名の権限は作成できない", func(t *testing.T) {
		err := repo.Create(ctx, &entities.PermissionNode{Name: "visit", OwnerID: entities.SystemUID})
		if !errors.Is(err, repositories.ErrDuplicate) {
			t.Errorf("Expected ErrDuplicate, got: %v", err)
		}
	})
}

func TestPermissionRepository_List(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)

	repo := NewPostgresPermissionRepository(db)
	ctx := context.Background()

	names := []string{"*", "visit", "read"}
	for _, name := range names {
		if err := repo.Create(ctx, &entities.PermissionNode{Name: name, OwnerID: entities.SystemUID}); err != nil {
			t.Fatalf("Failed to create permission %s: %v", name, err)
		}
	}

	t.Run("正常系: ID順に全件取得", func(t *testing.T) {
		perms, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(perms) != len(names) {
			t.Fatalf("Expected %d permissions, got %d", len(names), len(perms))
		}
		for i, p := range perms {
			if p.Name != names[i] {
				t.Errorf("Expected permission %d to be %s, got %s", i, names[i], p.Name)
			}
		}
	})

	t.Run("異常系: 存在しないID", func(t *testing.T) {
		_, err := repo.GetByID(ctx, 999999)
		if !errors.Is(err, repositories.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got: %v", err)
		}
	})
}
