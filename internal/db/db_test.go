package db

import (
	"strings"
	"testing"

	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/models"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		password string
		host     string
		port     int
		database string
		want     string
	}{
		{
			name:     "default local",
			user:     "root",
			host:     "127.0.0.1",
			port:     3306,
			database: "signalbox",
			want:     "root@tcp(127.0.0.1:3306)/signalbox?parseTime=true",
		},
		{
			name:     "with password",
			user:     "svc",
			password: "pw",
			host:     "10.0.0.5",
			port:     3307,
			database: "notifications",
			want:     "svc:pw@tcp(10.0.0.5:3307)/notifications?parseTime=true",
		},
		{
			name: "admin connection without database",
			user: "root",
			host: "db.internal",
			port: 3306,
			want: "root@tcp(db.internal:3306)/?parseTime=true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DSN(tt.user, tt.password, tt.host, tt.port, tt.database)
			if got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAllModels_Count(t *testing.T) {
	all := AllModels()
	if len(all) != 3 {
		t.Errorf("AllModels() returned %d models, want 3", len(all))
	}
	if _, ok := all[0].(*models.User); !ok {
		t.Errorf("AllModels()[0] = %T, want *models.User", all[0])
	}
}

func TestOpen_SQLiteMemoryAndMigrate(t *testing.T) {
	gormDB, err := Open(config.DatabaseConfig{Driver: "sqlite", Name: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := AutoMigrate(gormDB); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, table := range []string{"users", "messages", "campaigns"} {
		if !gormDB.Migrator().HasTable(table) {
			t.Errorf("table %s not created", table)
		}
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if !strings.Contains(err.Error(), "unsupported driver") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestConnectAdmin_Error(t *testing.T) {
	// Port 1 is unlikely to have a MySQL server; expect connection error.
	_, err := ConnectAdmin(config.DatabaseConfig{User: "root", Host: "127.0.0.1", Port: 1})
	if err == nil {
		t.Fatal("expected error connecting to invalid port")
	}
	if !strings.Contains(err.Error(), "db: admin connect to") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "db: admin connect to")
	}
}
