package member

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/pi-runtime/agentteams/internal/config"
	"github.com/pi-runtime/agentteams/internal/outcome"
	"github.com/pi-runtime/agentteams/internal/util"
)

// stderrTailLimit bounds how much captured stderr is folded into dispatch
// errors. The tail is what carries provider error phrases.
const stderrTailLimit = 2000

// CommandExecutor dispatches a member by running a configured command with
// the prompt on stdin. Model and provider are passed as flags; stdout becomes
// the member output.
type CommandExecutor struct {
	command string
	args    []string
	now     func() time.Time
}

// NewCommandExecutor builds an executor from the configured command line.
func NewCommandExecutor(cfg config.ExecutorConfig) *CommandExecutor {
	return &CommandExecutor{
		command: cfg.Command,
		args:    append([]string(nil), cfg.Args...),
		now:     time.Now,
	}
}

// Execute runs one dispatch, streaming stdout and stderr chunks to the
// request callbacks. Timeouts and cancellation kill the subprocess.
func (e *CommandExecutor) Execute(ctx context.Context, req Request) (Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	args := append([]string(nil), e.args...)
	if req.Provider != "" {
		args = append(args, "--provider", req.Provider)
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}

	cmd := exec.CommandContext(ctx, e.command, args...)
	cmd.Stdin = strings.NewReader(req.Prompt)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Response{}, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Response{}, fmt.Errorf("create stderr pipe: %w", err)
	}

	started := e.now()
	if err := cmd.Start(); err != nil {
		return Response{}, fmt.Errorf("start %s: %w", e.command, err)
	}

	var wg sync.WaitGroup
	var outBuf, errBuf strings.Builder
	wg.Add(2)
	go func() {
		defer wg.Done()
		drainChunks(stdout, &outBuf, req.OnTextChunk)
	}()
	go func() {
		defer wg.Done()
		drainChunks(stderr, &errBuf, req.OnStderrChunk)
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	resp := Response{
		Output:    outBuf.String(),
		LatencyMs: e.now().Sub(started).Milliseconds(),
	}
	if waitErr == nil {
		return resp, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return resp, fmt.Errorf("%w after %dms", outcome.ErrTimeout, resp.LatencyMs)
		}
		return resp, outcome.ErrCancelled
	}

	// Fold the stderr tail into the error so status extraction can match
	// provider phrases ("rate limit", "overloaded", ...).
	tail := util.SingleLine(strings.TrimSpace(errBuf.String()))
	tail = util.TruncateString(tail, stderrTailLimit)
	if tail == "" {
		return resp, fmt.Errorf("%s exited: %w", e.command, waitErr)
	}
	return resp, fmt.Errorf("%s exited: %w: %s", e.command, waitErr, tail)
}

// drainChunks copies r into buf, forwarding each read to onChunk.
func drainChunks(r io.Reader, buf *strings.Builder, onChunk func(string)) {
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			s := string(chunk[:n])
			buf.WriteString(s)
			if onChunk != nil {
				onChunk(s)
			}
		}
		if err != nil {
			return
		}
	}
}
