package db

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/geocoder89/rsvphub/internal/db/migrations"
)

func TestUpSection(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "no markers", content: "CREATE TABLE a();", want: "CREATE TABLE a();"},
		{name: "up only", content: "-- +migrate Up\nCREATE TABLE a();", want: "CREATE TABLE a();"},
		{name: "up and down", content: "-- +migrate Up\nCREATE TABLE a();\n-- +migrate Down\nDROP TABLE a;", want: "CREATE TABLE a();"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := strings.TrimSpace(upSection(tt.content)); got != tt.want {
				t.Fatalf("upSection() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected embedded migrations, got %d", len(entries))
	}

	var all strings.Builder
	for _, e := range entries {
		b, err := fs.ReadFile(migrations.FS, e.Name())
		if err != nil {
			t.Fatalf("read %s: %v", e.Name(), err)
		}
		up := upSection(string(b))
		if strings.Contains(up, "DROP TABLE") {
			t.Fatalf("%s: up section must not drop tables", e.Name())
		}
		all.WriteString(up)
	}

	for _, want := range []string{"registrations_active_user_event_uniq", "WHERE NOT is_cancelled", "notification_deliveries"} {
		if !strings.Contains(all.String(), want) {
			t.Fatalf("schema is missing %q", want)
		}
	}
}
