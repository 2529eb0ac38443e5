package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"iter"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	stderrTailSize    = 4096
	stderrMaxLineSize = 64 * 1024
)

// subprocessTransport runs the Claude CLI and exchanges frames over its stdio.
type subprocessTransport struct {
	options      *AgentOptions
	logger       *zap.Logger
	cliPath      string
	closeTimeout time.Duration

	mu      sync.Mutex
	state   atomic.Int32
	ready   atomic.Bool
	closing atomic.Bool

	cmd    *exec.Cmd
	stdout *os.File
	reader *lineReader
	writer *frameWriter
	stderr *stderrSink
	stats  frameCounters

	exited  chan struct{}
	exitErr error
}

func newSubprocessTransport(options *AgentOptions) *subprocessTransport {
	cliPath := options.CLIPath
	if cliPath == "" {
		cliPath = findCLI()
	}
	closeTimeout := options.CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = defaultCloseTimeout
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &subprocessTransport{
		options:      options,
		logger:       logger.Named("transport"),
		cliPath:      cliPath,
		closeTimeout: closeTimeout,
	}
}

func findCLI() string {
	if path, err := exec.LookPath("claude"); err == nil {
		return path
	}

	home, _ := os.UserHomeDir()
	locations := []string{
		filepath.Join(home, ".npm-global/bin/claude"),
		"/usr/local/bin/claude",
		filepath.Join(home, ".local/bin/claude"),
		filepath.Join(home, "node_modules/.bin/claude"),
		filepath.Join(home, ".claude/local/claude"),
	}
	for _, loc := range locations {
		if info, err := os.Stat(loc); err == nil && !info.IsDir() {
			return loc
		}
	}

	// Connect reports a CLINotFoundError for this.
	return "claude"
}

func (t *subprocessTransport) buildCommand() []string {
	opts := t.options
	cmd := []string{t.cliPath, "--output-format", "stream-json", "--verbose"}

	switch {
	case opts.SystemPrompt != nil:
		cmd = append(cmd, "--system-prompt", *opts.SystemPrompt)
	case opts.AppendSystemPrompt != "":
		cmd = append(cmd, "--append-system-prompt", opts.AppendSystemPrompt)
	}

	if opts.Tools != nil {
		cmd = append(cmd, "--tools", strings.Join(opts.Tools, ","))
	}
	if len(opts.AllowedTools) > 0 {
		cmd = append(cmd, "--allowedTools", strings.Join(opts.AllowedTools, ","))
	}
	if len(opts.DisallowedTools) > 0 {
		cmd = append(cmd, "--disallowedTools", strings.Join(opts.DisallowedTools, ","))
	}
	if opts.MaxTurns > 0 {
		cmd = append(cmd, "--max-turns", strconv.Itoa(opts.MaxTurns))
	}
	if opts.MaxBudgetUSD != nil {
		cmd = append(cmd, "--max-budget-usd", strconv.FormatFloat(*opts.MaxBudgetUSD, 'g', -1, 64))
	}
	if opts.MaxThinkingTokens != nil {
		cmd = append(cmd, "--max-thinking-tokens", strconv.Itoa(*opts.MaxThinkingTokens))
	}
	if opts.Model != "" {
		cmd = append(cmd, "--model", opts.Model)
	}
	if opts.FallbackModel != "" {
		cmd = append(cmd, "--fallback-model", opts.FallbackModel)
	}
	if opts.PermissionPromptToolName != "" {
		cmd = append(cmd, "--permission-prompt-tool", opts.PermissionPromptToolName)
	}
	if opts.PermissionMode != "" {
		cmd = append(cmd, "--permission-mode", string(opts.PermissionMode))
	}
	if opts.ContinueConversation {
		cmd = append(cmd, "--continue")
	}
	if opts.Resume != "" {
		cmd = append(cmd, "--resume", opts.Resume)
	}
	if opts.ForkSession {
		cmd = append(cmd, "--fork-session")
	}
	if opts.Settings != "" {
		cmd = append(cmd, "--settings", opts.Settings)
	}
	for _, dir := range opts.AddDirs {
		cmd = append(cmd, "--add-dir", dir)
	}
	if mcpConfig := mcpConfigForCLI(opts.McpServers); mcpConfig != "" {
		cmd = append(cmd, "--mcp-config", mcpConfig)
	}
	if opts.IncludePartialMessages {
		cmd = append(cmd, "--include-partial-messages")
	}

	sources := make([]string, len(opts.SettingSources))
	for i, s := range opts.SettingSources {
		sources[i] = string(s)
	}
	cmd = append(cmd, "--setting-sources", strings.Join(sources, ","))

	for flag, value := range opts.ExtraArgs {
		if !strings.HasPrefix(flag, "--") {
			flag = "--" + flag
		}
		if value == nil {
			cmd = append(cmd, flag)
		} else {
			cmd = append(cmd, flag, *value)
		}
	}

	return append(cmd, "--input-format", "stream-json")
}

// mcpConfigForCLI renders server configs for --mcp-config. SDK servers are
// reduced to their name; their tools are served in-process.
func mcpConfigForCLI(servers map[string]McpServerConfig) string {
	if len(servers) == 0 {
		return ""
	}
	forCLI := make(map[string]any, len(servers))
	for name, config := range servers {
		switch cfg := config.(type) {
		case *McpSdkServerConfig:
			forCLI[name] = map[string]any{"type": "sdk", "name": cfg.Name}
		case *McpStdioServerConfig, *McpSSEServerConfig, *McpHTTPServerConfig:
			forCLI[name] = cfg
		}
	}
	data, err := json.Marshal(map[string]any{"mcpServers": forCLI})
	if err != nil {
		return ""
	}
	return string(data)
}

func (t *subprocessTransport) environment() []string {
	env := os.Environ()
	for k, v := range t.options.Env {
		env = append(env, k+"="+v)
	}
	env = append(env,
		"CLAUDE_CODE_ENTRYPOINT=sdk-go",
		"CLAUDE_AGENT_SDK_VERSION="+Version,
	)
	if t.options.EnableFileCheckpointing {
		env = append(env, "CLAUDE_CODE_ENABLE_SDK_FILE_CHECKPOINTING=true")
	}
	if t.options.Cwd != "" {
		env = append(env, "PWD="+t.options.Cwd)
	}
	return env
}

func (t *subprocessTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.State() {
	case StateConnected:
		return nil
	case StateClosed:
		return newTransportClosedError(nil)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	args := t.buildCommand()
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = t.environment()
	cmd.Dir = t.options.Cwd
	cmd.WaitDelay = t.closeTimeout
	if err := setProcessUser(cmd, t.options.User); err != nil {
		return &CLIConnectionError{SDKError: SDKError{Message: "failed to configure process user", Cause: err}}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &CLIConnectionError{SDKError: SDKError{Message: "failed to create stdin pipe", Cause: err}}
	}
	// Stdout is a plain os.Pipe so that Wait never closes it under the reader.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return &CLIConnectionError{SDKError: SDKError{Message: "failed to create stdout pipe", Cause: err}}
	}
	cmd.Stdout = stdoutW
	t.stderr = newStderrSink(t.options.Stderr, t.logger)
	cmd.Stderr = t.stderr

	t.logger.Debug("starting CLI", zap.Strings("args", args))
	if err := cmd.Start(); err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return &CLINotFoundError{
				CLIConnectionError: CLIConnectionError{SDKError: SDKError{Message: "Claude CLI not found at: " + t.cliPath, Cause: err}},
				CLIPath:            t.cliPath,
			}
		}
		return &CLIConnectionError{SDKError: SDKError{Message: "failed to start Claude CLI", Cause: err}}
	}
	_ = stdoutW.Close()

	t.cmd = cmd
	t.stdout = stdoutR
	t.reader = newLineReader(stdoutR, t.options.MaxBufferSize, &t.stats)
	t.writer = newFrameWriter(stdin)
	t.exited = make(chan struct{})
	go t.wait()

	t.state.Store(int32(StateConnected))
	return nil
}

// markReady is called once the initialize handshake succeeds.
func (t *subprocessTransport) markReady() {
	if t.State() == StateConnected {
		t.ready.Store(true)
	}
}

func (t *subprocessTransport) wait() {
	err := t.cmd.Wait()
	var exitErr *exec.ExitError
	switch {
	case err == nil || t.closing.Load():
	case errors.As(err, &exitErr):
		t.exitErr = NewProcessError("Claude CLI exited with an error", exitErr.ExitCode(), t.stderr.tail())
	default:
		t.exitErr = &ProcessError{SDKError: SDKError{Message: "Claude CLI process failed", Cause: err}}
	}
	t.ready.Store(false)
	close(t.exited)
}

func (t *subprocessTransport) Write(line string) error {
	switch t.State() {
	case StateUnconnected:
		return &WriteError{SDKError: SDKError{Message: "transport is not connected"}}
	case StateClosed:
		return newTransportClosedError(nil)
	}
	select {
	case <-t.exited:
		return &WriteError{SDKError: SDKError{Message: "Claude CLI has exited", Cause: t.exitErr}}
	default:
	}
	if err := t.writer.writeLine(line); err != nil {
		t.ready.Store(false)
		return err
	}
	return nil
}

func (t *subprocessTransport) ReadMessages(ctx context.Context) iter.Seq2[map[string]any, error] {
	if t.reader == nil {
		return func(yield func(map[string]any, error) bool) {
			yield(nil, newTransportClosedError(errors.New("transport is not connected")))
		}
	}
	return readUntilDone(ctx, t.reader)
}

func (t *subprocessTransport) EndInput() error {
	if t.writer == nil {
		return nil
	}
	return t.writer.close()
}

// LastError reports the process failure once stdout has ended. It waits up
// to the close timeout for the process to be reaped.
func (t *subprocessTransport) LastError() error {
	if t.exited == nil {
		return nil
	}
	select {
	case <-t.exited:
		return t.exitErr
	case <-time.After(t.closeTimeout):
		return nil
	}
}

// Close closes stdin, gives the CLI the close timeout to exit on its own and
// kills it otherwise. Safe to call more than once.
func (t *subprocessTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := TransportState(t.state.Swap(int32(StateClosed)))
	if prev == StateClosed {
		return nil
	}
	t.ready.Store(false)
	t.closing.Store(true)
	if prev == StateUnconnected {
		return nil
	}

	_ = t.writer.close()
	select {
	case <-t.exited:
	case <-time.After(t.closeTimeout):
		t.logger.Debug("CLI did not exit after stdin closed, killing", zap.Int("pid", t.cmd.Process.Pid))
		_ = t.cmd.Process.Kill()
		<-t.exited
	}
	return t.stdout.Close()
}

func (t *subprocessTransport) IsReady() bool {
	if !t.ready.Load() {
		return false
	}
	select {
	case <-t.exited:
		return false
	default:
		return t.State() == StateConnected
	}
}

func (t *subprocessTransport) State() TransportState { return TransportState(t.state.Load()) }
func (t *subprocessTransport) Stats() FrameStats     { return t.stats.snapshot() }

// stderrSink splits CLI stderr into lines for the host callback or the
// logger, and keeps a short tail for process errors.
type stderrSink struct {
	fn      func(string)
	logger  *zap.Logger
	mu      sync.Mutex
	partial []byte
	last    []byte
}

func newStderrSink(fn func(string), logger *zap.Logger) *stderrSink {
	return &stderrSink{fn: fn, logger: logger}
}

func (s *stderrSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.last = append(s.last, p...)
	if len(s.last) > stderrTailSize {
		s.last = s.last[len(s.last)-stderrTailSize:]
	}

	s.partial = append(s.partial, p...)
	for {
		i := bytes.IndexByte(s.partial, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(s.partial[:i]), "\r")
		s.partial = s.partial[i+1:]
		s.emit(line)
	}
	if len(s.partial) > stderrMaxLineSize {
		s.emit(string(s.partial))
		s.partial = s.partial[:0]
	}
	return len(p), nil
}

func (s *stderrSink) emit(line string) {
	if line == "" {
		return
	}
	if s.fn != nil {
		s.fn(line)
		return
	}
	s.logger.Debug("CLI stderr", zap.String("line", line))
}

func (s *stderrSink) tail() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.TrimSpace(string(s.last))
}
