package migrate

import (
	"testing"

	"bookline/internal/db"
)

func TestMigrateReachesLatest(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	latest, err := Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest < 2 {
		t.Fatalf("expected at least 2 embedded migrations, got %d", latest)
	}
	if v, err := Current(conn); err != nil || v != 0 {
		t.Fatalf("fresh database should be at 0, got %d %v", v, err)
	}
	for i := 0; i < 2; i++ {
		if err := Migrate(conn); err != nil {
			t.Fatalf("migrate run %d: %v", i, err)
		}
	}
	if v, err := Current(conn); err != nil || v != latest {
		t.Fatalf("expected version %d, got %d %v", latest, v, err)
	}
	if _, err := conn.Exec(`SELECT client_role FROM credit_balances`); err != nil {
		t.Fatalf("client_role column missing: %v", err)
	}
}
