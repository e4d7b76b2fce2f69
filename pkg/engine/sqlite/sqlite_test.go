package sqlite

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sqlward/sqlward/pkg/engine"
)

func TestNew_RequiresPath(t *testing.T) {
	_, err := New(engine.Target{Name: "dev", Engine: engine.SQLite})
	if err == nil {
		t.Fatal("expected error for empty URI")
	}
}

func TestNew_DefaultsLockTimeout(t *testing.T) {
	a, err := New(engine.Target{Name: "dev", Engine: engine.SQLite, URI: "app.db"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := a.Target().LockTimeout; got != engine.DefaultLockTimeout {
		t.Errorf("LockTimeout = %v, want %v", got, engine.DefaultLockTimeout)
	}
}

func TestVersionAtLeast(t *testing.T) {
	min := [3]int{3, 8, 6}
	tests := []struct {
		version string
		want    bool
	}{
		{"3.8.6", true},
		{"3.8.7", true},
		{"3.45.1", true},
		{"4.0.0", true},
		{"3.8.5", false},
		{"3.7.17", false},
		{"2.9.9", false},
		{"3.8", false},
		{"3.9", true},
	}
	for _, tt := range tests {
		if got := versionAtLeast(tt.version, min); got != tt.want {
			t.Errorf("versionAtLeast(%q) = %v, want %v", tt.version, got, tt.want)
		}
	}
}

func TestRebind_Identity(t *testing.T) {
	a, err := New(engine.Target{Name: "dev", Engine: engine.SQLite, URI: "app.db"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	q := "INSERT INTO changes (change_id, change) VALUES (?, ?)"
	if got := a.Rebind(q); got != q {
		t.Errorf("Rebind changed query: %q", got)
	}
}

type resultCodeError struct{ code int }

func (e *resultCodeError) Error() string { return fmt.Sprintf("sqlite result code %d", e.code) }
func (e *resultCodeError) Code() int     { return e.code }

func TestLockContended(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"constraint", &resultCodeError{19}, true},
		{"constraint primary key", &resultCodeError{1555}, true},
		{"busy", &resultCodeError{5}, false},
		{"ioerr", &resultCodeError{10}, false},
		{"plain error", errors.New("disk I/O error"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		if got := lockContended(tt.err); got != tt.want {
			t.Errorf("%s: lockContended = %v, want %v", tt.name, got, tt.want)
		}
	}
}
