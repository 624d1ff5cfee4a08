package invoker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lyra-systems/convbus/internal/observability"
	"github.com/lyra-systems/convbus/internal/util"
)

// refusalPhrases is the well-known identity-failure heuristic from §4.6: a
// reply containing any of these substrings suggests the worker lost its
// assigned persona rather than actually answering.
var refusalPhrases = []string{
	"i cannot fulfill this request",
	"i can't assist with that",
	"as an ai language model",
	"i'm just an ai",
	"i do not have personal",
	"i'm not able to role-play",
}

// checkRefusal writes a diagnostic artefact to diagnosticsDir when text
// matches a refusal phrase, then returns unconditionally — deciding what to
// do with a flagged reply is left to the caller.
func checkRefusal(ctx context.Context, diagnosticsDir, sessionKey, text string) {
	lower := strings.ToLower(text)
	var matched string
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			matched = phrase
			break
		}
	}
	if matched == "" {
		return
	}

	log := observability.LoggerWithTrace(ctx)
	log.Warn().Str("session_key", sessionKey).Str("phrase", matched).Msg("invoker refusal heuristic matched")

	if diagnosticsDir == "" {
		return
	}
	if err := os.MkdirAll(diagnosticsDir, 0o700); err != nil {
		log.Error().Err(err).Msg("invoker: create diagnostics dir")
		return
	}
	name := fmt.Sprintf("refusal-%s-%d.txt", sanitizeForFilename(sessionKey), time.Now().UnixNano())
	path := filepath.Join(diagnosticsDir, name)
	artefact := fmt.Sprintf("session_key: %s\nmatched_phrase: %s\ntoken_count: %d\n\n%s\n", sessionKey, matched, util.CountTokens(text), text)
	if err := os.WriteFile(path, []byte(artefact), 0o600); err != nil {
		log.Error().Err(err).Msg("invoker: write refusal diagnostic artefact")
	}
}

func sanitizeForFilename(s string) string {
	if s == "" {
		return "adhoc"
	}
	replacer := strings.NewReplacer("/", "_", "\\", "_", " ", "_")
	return replacer.Replace(s)
}
