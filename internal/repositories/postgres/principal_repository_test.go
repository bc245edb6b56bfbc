package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/asakaida/restree/internal/entities"
	"github.com/asakaida/restree/internal/repositories"
)

func TestPrincipalRepository(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)

	repo := NewPostgresPrincipalRepository(db)
	ctx := context.Background()

	rootUID := entities.RootUID
	wheel := entities.WheelRID

	t.Run("正常系: ユーザとグループの作成", func(t *testing.T) {
		if err := repo.CreateUser(ctx, &entities.User{ID: rootUID, Principal: "root", IsEnabled: true}); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		for _, g := range []*entities.Group{
			{ID: entities.WheelRID, Name: "wheel"},
			{ID: entities.UsersRID, Name: "users"},
		} {
			if err := repo.CreateGroup(ctx, g); err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
		}
	})

	t.Run("正常系: 大文字小文字を区別せずユーザを取得", func(t *testing.T) {
		u, err := repo.GetUser(ctx, entities.ByName("ROOT"))
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if u.ID != rootUID {
			t.Errorf("Expected user %d, got %d", rootUID, u.ID)
		}
	})

	t.Run("異常系: 重複するユーザ", func(t *testing.T) {
		err := repo.CreateUser(ctx, &entities.User{Principal: "Root"})
		if !errors.Is(err, repositories.ErrDuplicate) {
			t.Errorf("Expected ErrDuplicate, got: %v", err)
		}
	})

	t.Run("正常系: 入れ子のメンバーシップ", func(t *testing.T) {
		if err := repo.AddMember(ctx, &entities.GroupMember{GroupID: entities.WheelRID, MemberUserID: &rootUID}); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if err := repo.AddMember(ctx, &entities.GroupMember{GroupID: entities.UsersRID, MemberGroupID: &wheel}); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		direct, err := repo.DirectGroupsOfUser(ctx, rootUID)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(direct) != 1 || direct[0] != entities.WheelRID {
			t.Errorf("Expected [%d], got %v", entities.WheelRID, direct)
		}

		parents, err := repo.ParentGroupsOfGroup(ctx, wheel)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(parents) != 1 || parents[0] != entities.UsersRID {
			t.Errorf("Expected [%d], got %v", entities.UsersRID, parents)
		}
	})

	t.Run("異常系: 存在しないグループ", func(t *testing.T) {
		_, err := repo.GetGroup(ctx, entities.ByName("nope"))
		if !errors.Is(err, repositories.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got: %v", err)
		}
	})
}
