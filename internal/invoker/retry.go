package invoker

import (
	"context"
	"errors"
	"fmt"

	"github.com/lyra-systems/convbus/internal/bus"
)

// Reducer shortens prompt on a prompt_too_long outcome; attempt is 1-based.
type Reducer func(prompt string, attempt int) string

// InvokeWithRetry implements the §4.6 invoke_with_retry contract: on
// prompt_too_long, call reduce up to maxAttempts times total. If reduce is
// nil, a single prompt_too_long outcome is terminal.
func (inv *Invoker) InvokeWithRetry(ctx context.Context, prompt string, opts Options, maxAttempts int, reduce Reducer) (string, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	current := prompt
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		text, err := inv.Invoke(ctx, current, opts)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !errors.Is(err, bus.ErrPromptTooLong) || reduce == nil {
			return "", err
		}
		current = reduce(current, attempt)
	}
	return "", fmt.Errorf("invoker: prompt still too long after %d attempts: %w", maxAttempts, lastErr)
}
