package toolrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"

	"lockwarden/internal/graph"
)

// DefaultTimeout applies when Runner.Timeout is zero.
const DefaultTimeout = 5 * time.Minute

// Command is one tool invocation.
type Command struct {
	Name string
	Args []string
	Dir  string

	// Env, when non-nil, is the complete environment of the tool. Nil
	// inherits the current process environment.
	Env map[string]string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Result is the captured outcome of a finished tool. A non-zero exit code is
// a result, not an error.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// TimeoutError reports a tool that did not finish in time.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tool %q did not finish within %s", e.Command, e.Timeout)
}

// Unwrap exposes the TOOL_TIMEOUT code to errors.Is and graph.CodeOf.
func (e *TimeoutError) Unwrap() error {
	return graph.Errorf(graph.ErrToolTimeout, graph.CodeToolTimeout,
		map[string]string{"command": e.Command, "timeout": e.Timeout.String()}, "tool timed out")
}

// Runner executes commands.
type Runner struct {
	Timeout time.Duration

	// Offline refuses commands whose arguments name remote resources and
	// sets CARGO_NET_OFFLINE for the tool.
	Offline bool

	Logger *log.Logger
}

func (r *Runner) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.New(io.Discard, "", 0)
}

// Run blocks until the tool exits, the timeout passes, or ctx is done.
func (r *Runner) Run(ctx context.Context, c Command) (*Result, error) {
	if strings.TrimSpace(c.Name) == "" {
		return nil, graph.Errorf(graph.ErrConfigInvalid, graph.CodeConfigurationInvalid, nil, "tool command is empty")
	}
	if r.Offline {
		if err := checkOffline(c); err != nil {
			return nil, err
		}
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command(c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = r.environ(c.Env)
	// Own process group so the whole tree is killed on timeout.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", c.Name, err)
	}
	r.logger().Printf("tool start cmd=%q timeout=%s", c.String(), timeout)

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var err error
	select {
	case <-runCtx.Done():
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		<-done
		if ctx.Err() != nil {
			return nil, fmt.Errorf("tool %q cancelled: %w", c.String(), ctx.Err())
		}
		r.logger().Printf("tool timeout cmd=%q after=%s", c.String(), timeout)
		return nil, &TimeoutError{Command: c.String(), Timeout: timeout}
	case err = <-done:
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("run %s: %w", c.Name, err)
		}
		exitCode = exitErr.ExitCode()
	}
	res := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: exitCode,
		Duration: time.Since(start),
	}
	r.logger().Printf("tool done cmd=%q exit=%d stdout=%dB stderr=%dB", c.String(), exitCode, len(res.Stdout), len(res.Stderr))
	return res, nil
}

// environ renders the tool environment in sorted order.
func (r *Runner) environ(env map[string]string) []string {
	var out []string
	if env == nil {
		out = os.Environ()
	} else {
		out = make([]string, 0, len(env)+1)
		for k, v := range env {
			out = append(out, k+"="+v)
		}
	}
	if r.Offline {
		out = append(out, "CARGO_NET_OFFLINE=true")
	}
	sort.Strings(out)
	return out
}

// checkOffline rejects arguments that reference network resources.
func checkOffline(c Command) error {
	for _, arg := range append([]string{c.Name}, c.Args...) {
		if remote(arg) {
			return graph.Errorf(graph.ErrOfflineViolation, graph.CodeOfflineViolation,
				map[string]string{"command": c.String(), "argument": arg}, "tool argument references a remote resource")
		}
	}
	return nil
}

func remote(arg string) bool {
	// "--db=https://..." style flags carry the URL after '='.
	if i := strings.IndexByte(arg, '='); i >= 0 && strings.HasPrefix(arg, "-") {
		arg = arg[i+1:]
	}
	if strings.HasPrefix(arg, "git@") {
		return true
	}
	if !strings.Contains(arg, "://") {
		return false
	}
	u, err := url.Parse(arg)
	if err != nil {
		return true
	}
	return u.Scheme != "file" || (u.Host != "" && u.Host != "localhost")
}
