// Package subprocess runs external tools (lsblk, lz4, tar, du, mount,
// umount, sort) as children wired into streaming pipelines, the way
// SubprocessPipeline is specified: A.stdout -> B.stdin -> C.stdin ..., any
// stage's failure aborts the rest, and each child's stderr is forwarded to
// the host's stderr only until the first real failure is observed (so a
// downstream "broken pipe" doesn't drown out the error that caused it).
package subprocess

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/artemis/snap2s3/internal/apperrors"
)

// Stage describes one external command in a pipeline.
type Stage struct {
	Name string
	Path string
	Args []string

	// Stdin, if set on the first stage, is wired as that stage's stdin.
	// It is ignored on later stages, which always read the previous
	// stage's stdout.
	Stdin io.Reader

	// Dir, if set, becomes the child's working directory — used by the
	// tar stage so archive entries get paths relative to the mounted
	// partition instead of absolute paths.
	Dir string

	// Stdout, if set on the last stage, receives that stage's stdout in
	// place of a pipe; the ReadCloser returned by Start then has nothing
	// to read, and the caller waits with Wait. It is ignored on earlier
	// stages, whose stdout always feeds the next stage.
	Stdout io.Writer
}

// Pipeline runs a chain of Stages with each stage's stdout feeding the
// next stage's stdin, started in a detached process group so an interrupt
// delivered to this process is not auto-forwarded to the children — the
// caller is responsible for calling Cancel to tear them down.
type Pipeline struct {
	stages  []Stage
	cmds    []*exec.Cmd
	failed  *int32
	mu      sync.Mutex
	started bool
}

// New builds a Pipeline from an ordered list of stages.
func New(stages ...Stage) *Pipeline {
	f := int32(0)
	return &Pipeline{stages: stages, failed: &f}
}

// Start launches every stage, wiring stdout->stdin between consecutive
// stages. The final stage's stdout is returned as a ReadCloser the caller
// must drain and close.
func (p *Pipeline) Start(ctx context.Context) (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil, apperrors.Internal("pipeline already started", nil)
	}
	p.started = true

	var upstream io.ReadCloser
	for i, stage := range p.stages {
		cmd := exec.CommandContext(ctx, stage.Path, stage.Args...)
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		cmd.Dir = stage.Dir

		switch {
		case i == 0 && stage.Stdin != nil:
			cmd.Stdin = stage.Stdin
		case upstream != nil:
			cmd.Stdin = upstream
		}

		cmd.Stderr = p.stderrWriter(stage.Name)

		isLast := i == len(p.stages)-1
		var out io.ReadCloser
		if !isLast || stage.Stdout == nil {
			pipeOut, err := cmd.StdoutPipe()
			if err != nil {
				p.killAll()
				return nil, apperrors.Pipeline(fmt.Sprintf("failed to open stdout pipe for %s", stage.Name), err)
			}
			out = pipeOut
		} else {
			cmd.Stdout = stage.Stdout
		}

		if err := cmd.Start(); err != nil {
			p.killAll()
			return nil, apperrors.Pipeline(fmt.Sprintf("failed to start %s", stage.Name), err)
		}

		p.cmds = append(p.cmds, cmd)
		upstream = out
	}

	return &pipelineOutput{p: p, r: upstream}, nil
}

// stderrWriter forwards to os.Stderr only while no upstream failure has
// been observed, suppressing cascading broken-pipe noise after the first
// real error.
func (p *Pipeline) stderrWriter(name string) io.Writer {
	return &gatedWriter{failed: p.failed, prefix: "[" + name + "] "}
}

type gatedWriter struct {
	failed *int32
	prefix string
}

func (w *gatedWriter) Write(b []byte) (int, error) {
	if loadFlag(w.failed) {
		return len(b), nil
	}
	os.Stderr.WriteString(w.prefix)
	return os.Stderr.Write(b)
}

// Wait blocks until every stage has exited, returning the first non-zero
// exit as a PipelineError. All stages are waited on regardless of earlier
// failures so no zombie processes are left behind.
func (p *Pipeline) Wait() error {
	var first error
	for _, cmd := range p.cmds {
		if err := cmd.Wait(); err != nil {
			setFlag(p.failed)
			if first == nil {
				first = apperrors.Pipeline(fmt.Sprintf("%s exited with error", cmd.Path), err)
			}
		}
	}
	return first
}

// Cancel terminates every started stage. Safe to call multiple times.
func (p *Pipeline) Cancel() {
	setFlag(p.failed)
	p.killAll()
}

func (p *Pipeline) killAll() {
	for _, cmd := range p.cmds {
		if cmd.Process == nil {
			continue
		}
		// Negative pid signals the whole process group, since each child
		// was started with Setpgid.
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
}

// pipelineOutput wraps the last stage's stdout so Close also calls Wait,
// surfacing any stage failure to the reader.
type pipelineOutput struct {
	p *Pipeline
	r io.ReadCloser
}

func (o *pipelineOutput) Read(b []byte) (int, error) {
	return o.r.Read(b)
}

func (o *pipelineOutput) Close() error {
	_ = o.r.Close()
	return o.p.Wait()
}

// Run is a convenience for a single external command whose stdout is
// fully drained into the returned bytes.
func Run(ctx context.Context, name, path string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return nil, apperrors.Pipeline(fmt.Sprintf("%s failed: %s", name, string(ee.Stderr)), err)
		}
		return nil, apperrors.Pipeline(fmt.Sprintf("%s failed to start", name), err)
	}
	return out, nil
}

// RequireOnPath fails with a PreflightError if any of the named executables
// are not found on PATH, per the "required external tools" contract.
func RequireOnPath(names ...string) error {
	var missing []string
	for _, n := range names {
		if _, err := exec.LookPath(n); err != nil {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return apperrors.Preflight(fmt.Sprintf("missing required tools on PATH: %v", missing), nil)
	}
	return nil
}
