package command

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Logger defines the interface for debug logging.
type Logger interface {
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (n nopLogger) Debugf(format string, args ...interface{}) {}

// Executor runs commands on the local machine or, when Host names another
// machine, over ssh. CASA installations commonly live on a dedicated
// processing node, which is why remote execution exists at all.
type Executor struct {
	Host    string
	SSHUser string
	SSHKey  string
	DryRun  bool
	Logger  Logger
	Builder CommandBuilder
}

// NewExecutor creates a new command executor backed by real processes.
func NewExecutor(host, sshUser, sshKey string, dryRun bool) *Executor {
	return &Executor{
		Host:    host,
		SSHUser: sshUser,
		SSHKey:  sshKey,
		DryRun:  dryRun,
		Logger:  nopLogger{},
		Builder: NewRealCommandBuilder(),
	}
}

// SetLogger sets the debug logger for the executor.
func (e *Executor) SetLogger(logger Logger) {
	if logger != nil {
		e.Logger = logger
	}
}

// IsLocal returns true if the host is this machine.
func (e *Executor) IsLocal() bool {
	return e.Host == "localhost" || e.Host == "127.0.0.1" || e.Host == ""
}

func (e *Executor) logger() Logger {
	if e.Logger == nil {
		return nopLogger{}
	}
	return e.Logger
}

func (e *Executor) builder() CommandBuilder {
	if e.Builder == nil {
		e.Builder = NewRealCommandBuilder()
	}
	return e.Builder
}

// Run executes a shell command and returns its combined output.
func (e *Executor) Run(ctx context.Context, command string) (string, error) {
	if e.DryRun {
		return fmt.Sprintf("[DRY-RUN] Would execute: %s", command), nil
	}

	log := e.logger()
	log.Debugf("Executing: %s (host=%s, local=%v)", command, e.Host, e.IsLocal())

	var cmd CommandExecutor
	if e.IsLocal() {
		cmd = e.builder().BuildShellCommand(ctx, command)
	} else {
		cmd = e.builder().BuildCommand(ctx, "ssh", e.sshArgs(command)...)
	}

	output, err := cmd.Run()
	if err != nil {
		log.Debugf("Command failed: %v, output: %s", err, output)
	}
	return string(output), err
}

// WriteFile writes content to a file on the host.
func (e *Executor) WriteFile(ctx context.Context, path, content string) error {
	if e.DryRun {
		e.logger().Debugf("[DRY-RUN] Would write %d bytes to %s", len(content), path)
		return nil
	}

	if e.IsLocal() {
		return os.WriteFile(path, []byte(content), 0644)
	}

	cmd := e.builder().BuildCommand(ctx, "ssh", e.sshArgs(fmt.Sprintf("cat > %s", ShellQuote(path)))...)
	cmd.SetStdin([]byte(content))
	if output, err := cmd.Run(); err != nil {
		return fmt.Errorf("ssh write failed: %w, output: %s", err, output)
	}
	return nil
}

func (e *Executor) sshArgs(command string) []string {
	args := []string{}

	if e.SSHKey != "" {
		args = append(args, "-i", e.SSHKey)
	}
	// BatchMode keeps a missing key from hanging on a password prompt.
	args = append(args, "-o", "BatchMode=yes")
	args = append(args, "-o", "LogLevel=ERROR")

	target := e.Host
	if e.SSHUser != "" && !strings.Contains(target, "@") {
		target = fmt.Sprintf("%s@%s", e.SSHUser, target)
	}

	return append(args, target, command)
}

// ShellQuote quotes s for use as a single POSIX shell word.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			strings.ContainsRune("-_./=:,+@%", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ShellJoin quotes each argument and joins them with spaces.
func ShellJoin(args ...string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = ShellQuote(a)
	}
	return strings.Join(quoted, " ")
}
