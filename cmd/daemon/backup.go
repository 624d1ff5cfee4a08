package main

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lyra-systems/convbus/internal/config"
	"github.com/lyra-systems/convbus/internal/ledger"
)

// startBackupTicker runs the optional periodic VACUUM INTO snapshot of the
// ledger file: off unless BACKUP_DIR is set, one timestamped file per tick,
// pruning down to the Keep most recent afterward.
func startBackupTicker(ctx context.Context, ledg *ledger.Ledger, cfg config.Config) {
	if cfg.Backup.Dir == "" {
		return
	}
	if err := os.MkdirAll(cfg.Backup.Dir, 0o700); err != nil {
		log.Error().Err(err).Msg("failed to create backup dir, skipping backup ticker")
		return
	}

	go func() {
		ticker := time.NewTicker(cfg.Backup.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runBackup(ctx, ledg, cfg.Backup.Dir, cfg.Backup.Keep)
			}
		}
	}()
}

func runBackup(ctx context.Context, ledg *ledger.Ledger, dir string, keep int) {
	dst := filepath.Join(dir, "ledger-"+time.Now().UTC().Format("20060102T150405Z")+".db")
	if err := ledg.Backup(ctx, dst); err != nil {
		log.Error().Err(err).Str("dst", dst).Msg("ledger backup failed")
		return
	}
	log.Info().Str("dst", dst).Msg("ledger backup written")
	pruneBackups(dir, keep)
}

// pruneBackups keeps only the keep most recent ledger-*.db snapshots,
// relying on the lexicographic filename timestamp to sort oldest-first.
func pruneBackups(dir string, keep int) {
	if keep <= 0 {
		return
	}
	matches, err := filepath.Glob(filepath.Join(dir, "ledger-*.db"))
	if err != nil || len(matches) <= keep {
		return
	}
	sort.Strings(matches)
	for _, old := range matches[:len(matches)-keep] {
		if err := os.Remove(old); err != nil {
			log.Warn().Err(err).Str("path", old).Msg("failed to prune old ledger backup")
		}
	}
}
