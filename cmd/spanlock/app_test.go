package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"pkt.systems/pslog"
)

const testMutexUUID = "0d4c4f6a-92b1-4a8e-b6a3-5b1f0c2d7e9a"

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand(pslog.NoopLogger())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunCommandExecutesAgainstMemoryStore(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "marker.txt")
	out, err := executeCommand(t,
		"run",
		"--store", "mem://",
		"--mutex-uuid", testMutexUUID,
		"--target", target,
		"--hold", "0s",
	)
	if err != nil {
		t.Fatalf("run: %v (output %q)", err, out)
	}
	if !strings.Contains(out, "executed=true") {
		t.Fatalf("output %q does not report execution", out)
	}
}

func TestRunCommandRequiresMutexUUID(t *testing.T) {
	t.Parallel()

	_, err := executeCommand(t, "run", "--store", "mem://")
	if err == nil {
		t.Fatal("expected error without a mutex uuid")
	}
}

func TestRaceCommandExactlyOneExecution(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "marker.txt")
	out, err := executeCommand(t,
		"race",
		"--store", "mem://",
		"--mutex-uuid", testMutexUUID,
		"--clients", "4",
		"--target", target,
		"--hold", "0s",
		"--wait-interval", "5ms",
		"--max-retries", "100",
	)
	if err != nil {
		t.Fatalf("race: %v (output %q)", err, out)
	}
	if !strings.Contains(out, "executed=1") {
		t.Fatalf("output %q does not report a single execution", out)
	}
}

func TestRaceCommandRejectsZeroClients(t *testing.T) {
	t.Parallel()

	_, err := executeCommand(t,
		"race",
		"--store", "mem://",
		"--mutex-uuid", testMutexUUID,
		"--clients", "0",
	)
	if err == nil {
		t.Fatal("expected error for zero clients")
	}
}

func TestStatusCommandEmptyRow(t *testing.T) {
	t.Parallel()

	out, err := executeCommand(t,
		"status",
		"--store", "mem://",
		"--mutex-uuid", testMutexUUID,
	)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "no row") {
		t.Fatalf("output %q does not report the missing row", out)
	}
}

func TestDDLCommandPrintsSchema(t *testing.T) {
	t.Parallel()

	out, err := executeCommand(t, "ddl", "--table", "my_table")
	if err != nil {
		t.Fatalf("ddl: %v", err)
	}
	if !strings.Contains(out, "CREATE TABLE my_table") {
		t.Fatalf("output %q does not carry the create statement", out)
	}
}
