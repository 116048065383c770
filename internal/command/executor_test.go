package command

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type testLogger struct {
	logs []string
}

func (l *testLogger) Debugf(format string, args ...interface{}) {
	l.logs = append(l.logs, format)
}

func TestNewExecutor(t *testing.T) {
	e := NewExecutor("node1.example.org", "astro", "/path/to/key", false)

	if e.Host != "node1.example.org" {
		t.Errorf("Expected host node1.example.org, got %s", e.Host)
	}
	if e.SSHUser != "astro" {
		t.Errorf("Expected astro, got %s", e.SSHUser)
	}
	if e.SSHKey != "/path/to/key" {
		t.Errorf("Expected /path/to/key, got %s", e.SSHKey)
	}
	if e.DryRun {
		t.Error("Expected DryRun false")
	}
	if _, ok := e.Builder.(*RealCommandBuilder); !ok {
		t.Errorf("Expected RealCommandBuilder, got %T", e.Builder)
	}
}

func TestExecutor_IsLocal(t *testing.T) {
	tests := []struct {
		host     string
		expected bool
	}{
		{"localhost", true},
		{"127.0.0.1", true},
		{"", true},
		{"remote.example.com", false},
		{"192.168.1.100", false},
	}

	for _, tc := range tests {
		t.Run(tc.host, func(t *testing.T) {
			e := NewExecutor(tc.host, "", "", false)
			if e.IsLocal() != tc.expected {
				t.Errorf("IsLocal(%s) = %v, want %v", tc.host, e.IsLocal(), tc.expected)
			}
		})
	}
}

func TestExecutor_Run_DryRun(t *testing.T) {
	builder := NewMockCommandBuilder()
	e := &Executor{DryRun: true, Builder: builder}

	output, err := e.Run(context.Background(), "casa -c run.py")
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if output != "[DRY-RUN] Would execute: casa -c run.py" {
		t.Errorf("Unexpected dry-run output: %s", output)
	}
	if len(builder.Commands) != 0 {
		t.Errorf("dry run should not build commands, got %v", builder.Commands)
	}
}

func TestExecutor_Run_Local(t *testing.T) {
	e := NewExecutor("localhost", "", "", false)
	output, err := e.Run(context.Background(), "echo hello")

	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if strings.TrimSpace(output) != "hello" {
		t.Errorf("Expected 'hello', got: %s", output)
	}
}

func TestExecutor_Run_LocalErrorLogged(t *testing.T) {
	logger := &testLogger{}
	e := NewExecutor("localhost", "", "", false)
	e.SetLogger(logger)

	if _, err := e.Run(context.Background(), "exit 1"); err == nil {
		t.Error("Expected error for failed command")
	}
	found := false
	for _, l := range logger.logs {
		if strings.HasPrefix(l, "Command failed") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected failure to be logged, got %v", logger.logs)
	}

	// nil keeps the current logger
	e.SetLogger(nil)
	if e.Logger != logger {
		t.Error("SetLogger(nil) should not replace the logger")
	}
}

func TestExecutor_Run_Remote(t *testing.T) {
	builder := NewMockCommandBuilder()
	builder.SetNextExecutor(&MockCommandExecutor{Output: []byte("done")})
	e := &Executor{Host: "node1", SSHUser: "astro", SSHKey: "/k", Builder: builder}

	out, err := e.Run(context.Background(), "casa -c /tmp/x.py")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out != "done" {
		t.Errorf("Expected done, got %q", out)
	}

	cmd := builder.LastCommand()
	if cmd.Name != "ssh" {
		t.Fatalf("Expected ssh, got %s", cmd.Name)
	}
	want := []string{"-i", "/k", "-o", "BatchMode=yes", "-o", "LogLevel=ERROR", "astro@node1", "casa -c /tmp/x.py"}
	if strings.Join(cmd.Args, "|") != strings.Join(want, "|") {
		t.Errorf("ssh args = %v, want %v", cmd.Args, want)
	}
}

func TestExecutor_Run_RemoteUserInHost(t *testing.T) {
	builder := NewMockCommandBuilder()
	e := &Executor{Host: "obs@node1", SSHUser: "astro", Builder: builder}

	if _, err := e.Run(context.Background(), "true"); err != nil {
		t.Fatal(err)
	}
	args := builder.LastCommand().Args
	if args[len(args)-2] != "obs@node1" {
		t.Errorf("Expected explicit user to win, got %v", args)
	}
}

func TestExecutor_WriteFile_Local(t *testing.T) {
	e := NewExecutor("", "", "", false)
	path := filepath.Join(t.TempDir(), "script.py")

	if err := e.WriteFile(context.Background(), path, "print(1)\n"); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "print(1)\n" {
		t.Errorf("Unexpected content %q", data)
	}
}

func TestExecutor_WriteFile_Remote(t *testing.T) {
	builder := NewMockCommandBuilder()
	e := &Executor{Host: "node1", Builder: builder}

	if err := e.WriteFile(context.Background(), "/tmp/my script.py", "print(1)"); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	cmd := builder.LastCommand()
	if got := cmd.Args[len(cmd.Args)-1]; got != "cat > '/tmp/my script.py'" {
		t.Errorf("Unexpected remote command %q", got)
	}
	if string(builder.Executors[0].Stdin) != "print(1)" {
		t.Errorf("Expected content on stdin, got %q", builder.Executors[0].Stdin)
	}
}

func TestExecutor_WriteFile_RemoteError(t *testing.T) {
	builder := NewMockCommandBuilder()
	builder.SetNextExecutor(&MockCommandExecutor{Output: []byte("denied"), Err: errors.New("exit 1")})
	e := &Executor{Host: "node1", Builder: builder}

	err := e.WriteFile(context.Background(), "/tmp/x.py", "x")
	if err == nil || !strings.Contains(err.Error(), "denied") {
		t.Errorf("Expected ssh write error with output, got %v", err)
	}
}

func TestExecutor_WriteFile_DryRun(t *testing.T) {
	e := NewExecutor("", "", "", true)
	path := filepath.Join(t.TempDir(), "never.py")
	if err := e.WriteFile(context.Background(), path, "x"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("dry run should not write the file")
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "''"},
		{"target.ms", "target.ms"},
		{"/data/run-1/x_y.ms", "/data/run-1/x_y.ms"},
		{"a b", "'a b'"},
		{"it's", `'it'\''s'`},
		{"$(rm -rf /)", "'$(rm -rf /)'"},
	}
	for _, tc := range tests {
		if got := ShellQuote(tc.in); got != tc.want {
			t.Errorf("ShellQuote(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	if got := ShellJoin("casa", "-c", "my file.py"); got != "casa -c 'my file.py'" {
		t.Errorf("ShellJoin = %q", got)
	}
}
