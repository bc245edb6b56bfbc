package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/asakaida/restree/internal/infrastructure/config"
	"github.com/asakaida/restree/internal/infrastructure/database"
)

func TestParseSteps(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    int
		wantErr bool
	}{
		{name: "default", args: nil, want: 1},
		{name: "explicit", args: []string{"3"}, want: 3},
		{name: "zero", args: []string{"0"}, wantErr: true},
		{name: "negative", args: []string{"-2"}, wantErr: true},
		{name: "not a number", args: []string{"two"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSteps(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseSteps() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseSteps() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		want    uint
		wantErr bool
	}{
		{name: "resource acl", arg: "4", want: 4},
		{name: "leading zeros", arg: "000003", want: 3},
		{name: "negative", arg: "-1", wantErr: true},
		{name: "garbage", arg: "v2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseVersion(tt.arg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseVersion() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseVersion() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPrintCounts(t *testing.T) {
	var buf bytes.Buffer
	printCounts(&buf, []tableCount{
		{Table: "permission_tree", Rows: 7},
		{Table: "resource_acl", Rows: -1},
	})

	want := "  permission_tree  7 rows\n  resource_acl     missing\n"
	if buf.String() != want {
		t.Errorf("printCounts() = %q, want %q", buf.String(), want)
	}
}

func TestCountRows_Integration(t *testing.T) {
	if err := config.InitConfig("test"); err != nil {
		t.Fatalf("Failed to init config: %v", err)
	}
	cfg, err := config.Load()
	if err != nil || cfg.Database.Password == "" {
		t.Skip("Integration test - requires running database")
	}

	pg, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		t.Skipf("Integration test - database unreachable: %v", err)
	}
	defer pg.Close()

	path, err := migrationsPath()
	if err != nil {
		t.Fatalf("migrationsPath() error = %v", err)
	}
	if err := pg.RunMigrations(path); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}

	counts, err := countRows(context.Background(), pg.DB)
	if err != nil {
		t.Fatalf("countRows() error = %v", err)
	}
	if len(counts) != len(storeTables) {
		t.Fatalf("countRows() returned %d tables, want %d", len(counts), len(storeTables))
	}
	for i, c := range counts {
		if c.Table != storeTables[i] {
			t.Errorf("counts[%d].Table = %s, want %s", i, c.Table, storeTables[i])
		}
		if c.Rows < 0 {
			t.Errorf("table %s is missing after migrating up", c.Table)
		}
	}
}
