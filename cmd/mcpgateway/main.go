// Command mcpgateway is the stdio RPC front end described in spec §4.10: a
// thin adapter between an external tool-call protocol (Model Context
// Protocol) and the daemon's HTTP API. It carries no business logic of its
// own — every tool call is a direct forward to the matching /tools/* route
// on cmd/daemon, with the entity token auto-injected whenever the caller
// didn't supply one.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	mcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"github.com/lyra-systems/convbus/internal/config"
	"github.com/lyra-systems/convbus/internal/observability"
	"github.com/lyra-systems/convbus/internal/version"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}
	observability.InitLogger("mcpgateway.log", "info")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	observability.InitLogger("mcpgateway.log", cfg.Obs.LogLevel)

	token, err := readEntityToken(cfg.TokenGate.EntityPath)
	if err != nil {
		log.Warn().Err(err).Msg("could not read entity token, forwarding without auto-injection")
	}

	g := &gateway{
		baseURL:    "http://127.0.0.1" + cfg.HTTPAddr,
		httpClient: observability.NewHTTPClient(nil),
		token:      token,
	}

	server := mcp.NewServer(&mcp.Implementation{Name: "convbus-gateway", Version: version.Version}, nil)
	g.registerTools(server)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		log.Fatal().Err(err).Msg("mcp server exited")
	}
}

func readEntityToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
