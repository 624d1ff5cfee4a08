// Package tokengate implements per-entity token authentication (spec
// component C9) guarding every privileged memory-layer operation.
package tokengate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/lyra-systems/convbus/internal/bus"
)

// Mode selects how a missing token is treated; an invalid token is always
// rejected regardless of mode.
type Mode int

const (
	// Strict rejects a missing token.
	Strict Mode = iota
	// Permissive passes a missing token but still rejects an invalid one.
	Permissive
)

// Gate validates the opaque token field every memory-layer call carries.
type Gate struct {
	mu          sync.RWMutex
	entityPath  string
	entityToken string
	masterToken string
	mode        Mode
}

// New loads the entity token from path, generating and persisting a UUIDv4
// if the file is absent, mirroring the "auto-generated and persisted to
// disk if missing" contract of §4.9.
func New(path, masterToken string, strict bool) (*Gate, error) {
	mode := Permissive
	if strict {
		mode = Strict
	}
	g := &Gate{entityPath: path, masterToken: masterToken, mode: mode}

	token, err := loadOrCreateToken(path)
	if err != nil {
		return nil, err
	}
	g.entityToken = token
	return g, nil
}

func loadOrCreateToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("tokengate: read entity token: %w", err)
	}

	token := uuid.NewString()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", fmt.Errorf("tokengate: create entity token dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(token), 0o600); err != nil {
		return "", fmt.Errorf("tokengate: write entity token: %w", err)
	}
	return token, nil
}

// Validate enforces: t == entity_token ⇒ pass; t == master_token (if set)
// ⇒ pass; else reject. A missing token passes under Permissive and is
// rejected under Strict.
func (g *Gate) Validate(token string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if token == "" {
		if g.mode == Permissive {
			return nil
		}
		return fmt.Errorf("%w: token required", bus.ErrAuthRejected)
	}
	if token == g.entityToken {
		return nil
	}
	if g.masterToken != "" && token == g.masterToken {
		return nil
	}
	return fmt.Errorf("%w: invalid token", bus.ErrAuthRejected)
}

// IsMaster reports whether token matches the configured master token,
// required to authorize RegenerateToken.
func (g *Gate) IsMaster(token string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.masterToken != "" && token == g.masterToken
}

// RegenerateToken atomically writes a new entity token and invalidates the
// old one. Callers must first confirm IsMaster(callerToken); this method
// does not itself re-check authority so it can also be used for
// unattended boot-time rotation.
func (g *Gate) RegenerateToken() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	token := uuid.NewString()
	if err := os.WriteFile(g.entityPath, []byte(token), 0o600); err != nil {
		return "", fmt.Errorf("tokengate: regenerate entity token: %w", err)
	}
	g.entityToken = token
	return token, nil
}

// exemptOps is the short list of operations that bypass authentication
// entirely: health checks and shared-read RAG.
var exemptOps = map[string]bool{
	"pps_health":     true,
	"raw_search":     true,
	"anchor_search":  true,
	"texture_search": true,
}

// IsExempt reports whether op is in the auth-exempt set.
func IsExempt(op string) bool {
	return exemptOps[op]
}
