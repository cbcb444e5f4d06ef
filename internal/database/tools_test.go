package database

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	apperrors "dbvault/internal/errors"
	"dbvault/internal/logging"
)

func TestNativeTools_MissingBinaryIsToolUnavailable(t *testing.T) {
	tools := NewNativeTools(logging.NewNopLogger())
	tools.lookPath = func(name string) (string, error) {
		return "", &exec.Error{Name: name, Err: exec.ErrNotFound}
	}

	config := Config{URL: "postgres://localhost/clinic"}

	err := tools.Dump(context.Background(), config, "/tmp/out.sql", DumpOptions{})
	if !apperrors.IsToolUnavailable(err) {
		t.Fatalf("Expected tool_unavailable, got %v", err)
	}
	if !IsToolMissing(err) {
		t.Error("Expected IsToolMissing for a binary that cannot be found")
	}

	err = tools.Apply(context.Background(), config, "/tmp/in.sql")
	if !apperrors.IsToolUnavailable(err) {
		t.Fatalf("Expected tool_unavailable, got %v", err)
	}
}

func TestNativeTools_UsesConfiguredBinary(t *testing.T) {
	tools := NewNativeTools(nil)
	var looked []string
	tools.lookPath = func(name string) (string, error) {
		looked = append(looked, name)
		return "", exec.ErrNotFound
	}

	config := Config{URL: "postgres://localhost/clinic", PgDumpPath: "/opt/pg16/bin/pg_dump", PsqlPath: "/opt/pg16/bin/psql"}
	_ = tools.Dump(context.Background(), config, "out.sql", DumpOptions{})
	_ = tools.Apply(context.Background(), config, "in.sql")

	if len(looked) != 2 || looked[0] != "/opt/pg16/bin/pg_dump" || looked[1] != "/opt/pg16/bin/psql" {
		t.Errorf("Unexpected lookups %v", looked)
	}
}

func TestNativeTools_Available(t *testing.T) {
	tools := NewNativeTools(nil)
	tools.lookPath = func(name string) (string, error) {
		if name == "psql" {
			return "/usr/bin/psql", nil
		}
		return "", exec.ErrNotFound
	}

	if !tools.Available("psql") {
		t.Error("Expected psql to be available")
	}
	if tools.Available("pg_dump") {
		t.Error("Expected pg_dump to be unavailable")
	}
}

func TestIsToolMissing(t *testing.T) {
	if IsToolMissing(errors.New("exited with status 3")) {
		t.Error("A failed run is not a missing tool")
	}
	if !IsToolMissing(apperrors.NewToolUnavailableError("psql", exec.ErrNotFound)) {
		t.Error("Expected wrapped ErrNotFound to count as missing")
	}
}

// recordingBinary writes a shell script that saves its arguments, one per line
func recordingBinary(t *testing.T) (binary, argsFile string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}

	dir := t.TempDir()
	argsFile = filepath.Join(dir, "args")
	binary = filepath.Join(dir, "pg_dump")
	script := "#!/bin/sh\nprintf '%s\\n' \"$@\" > '" + argsFile + "'\n"
	if err := os.WriteFile(binary, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return binary, argsFile
}

func TestNativeTools_DumpScriptReplacesExistingObjects(t *testing.T) {
	binary, argsFile := recordingBinary(t)
	tools := NewNativeTools(nil)

	config := Config{URL: "postgres://localhost/clinic", PgDumpPath: binary}
	opts := DumpOptions{Snapshot: "00000003-0000001B-1"}
	if err := tools.Dump(context.Background(), config, "/tmp/out.sql", opts); err != nil {
		t.Fatalf("Dump failed: %v", err)
	}

	data, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	args := strings.Split(strings.TrimSpace(string(data)), "\n")

	for _, want := range []string{"--format=plain", "--clean", "--if-exists", "--file=/tmp/out.sql", "--snapshot=00000003-0000001B-1"} {
		found := false
		for _, arg := range args {
			if arg == want {
				found = true
			}
		}
		if !found {
			t.Errorf("Expected %s in pg_dump arguments %v", want, args)
		}
	}
}
