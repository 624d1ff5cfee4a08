package invoker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/lyra-systems/convbus/internal/config"
	"github.com/lyra-systems/convbus/internal/observability"
)

// SubprocessProvider shells out to an external worker binary per call using
// an exec.CommandContext-with-captured-buffers pattern: stdout is the reply
// body, stderr is diagnostics, and a non-zero exit or context deadline is a
// transport failure. The prompt is piped in on stdin so arbitrarily long
// context never has to round-trip through argv.
type SubprocessProvider struct {
	command string
}

func NewSubprocessProvider(cfg config.InvokerConfig) *SubprocessProvider {
	return &SubprocessProvider{command: cfg.Command}
}

func (p *SubprocessProvider) Send(ctx context.Context, model, prompt string, timeout time.Duration) (string, Outcome, error) {
	if p.command == "" {
		return "", OutcomeTransportFailure, errors.New("invoker: subprocess provider has no command configured")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	parts := strings.Fields(p.command)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Stdin = strings.NewReader(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log := observability.LoggerWithTrace(ctx)
	start := time.Now()
	err := cmd.Run()
	dur := time.Since(start)

	out := stdout.String()
	diagnostics := stderr.String()

	if isPromptTooLong(out) || isPromptTooLong(diagnostics) {
		return "", OutcomePromptTooLong, nil
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			log.Warn().Str("command", p.command).Dur("duration", dur).Msg("subprocess invoker timeout")
			return "", OutcomeTransportFailure, fmt.Errorf("subprocess timed out: %w", ctx.Err())
		}
		var exitErr *exec.Error
		if errors.As(err, &exitErr) {
			log.Error().Err(err).Str("command", p.command).Msg("subprocess invoker missing binary")
		} else {
			log.Error().Err(err).Str("command", p.command).Str("stderr", diagnostics).Dur("duration", dur).Msg("subprocess invoker failed")
		}
		return "", OutcomeTransportFailure, fmt.Errorf("subprocess invoker: %w (stderr: %s)", err, strings.TrimSpace(diagnostics))
	}

	return strings.TrimRight(out, "\n"), OutcomeOK, nil
}
