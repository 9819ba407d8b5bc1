package main

import (
	"context"
	"database/sql"

	"oddstrike/internal/ports/nakama"

	"github.com/heroiclabs/nakama-common/runtime"
)

// InitModule proxies Nakama initialization to the nakama adapter package.
func InitModule(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, initializer runtime.Initializer) error {
	return nakama.InitModule(ctx, logger, db, nk, initializer)
}

// main is required to compile as a main package; Nakama loads the module
// via the InitModule symbol when built with -buildmode=plugin.
func main() {}
