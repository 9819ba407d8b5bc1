package nakama

import (
	"context"
	"database/sql"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"

	"oddstrike/internal/app"
	"oddstrike/internal/config"
	"oddstrike/internal/domain"
	"oddstrike/internal/scheduler"
)

// InitModule wires the room engine into the Nakama runtime.
func InitModule(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, initializer runtime.Initializer) error {
	env, _ := ctx.Value(runtime.RUNTIME_CTX_ENV).(map[string]string)
	if path := env["ODDSTRIKE_CONFIG_PATH"]; path != "" {
		if err := config.LoadGameConfig(path); err != nil {
			return err
		}
	} else {
		config.SetGameConfig(config.FromEnv(env))
	}
	cfg := config.GetGameConfig()

	dice, err := domain.NewDiceTable(config.GetDiceWeights())
	if err != nil {
		logger.Warn("InitModule: invalid dice weights, using defaults: %v", err)
		dice = domain.DefaultDiceTable()
	}

	svc := app.NewService(
		dice,
		time.Duration(config.GetRollTimeoutSeconds())*time.Second,
		time.Duration(config.GetKillTimeoutSeconds())*time.Second,
		nil, nil,
	)
	store := NewNakamaRoomStore(nk, time.Duration(config.GetRoomTTLSeconds())*time.Second)
	bc := NewNakamaBroadcaster(nk)

	defaults := domain.Settings{
		AutoRollEnabled:        cfg.AutoRollEnabled,
		AutoRollTimeoutSec:     cfg.AutoRollTimeoutSec,
		AutoKillEnabled:        cfg.AutoKillEnabled,
		KillDecisionTimeoutSec: cfg.KillDecisionTimeoutSec,
	}
	engine := app.NewEngine(
		svc, store, bc, logger, defaults,
		time.Duration(config.GetTimeoutCheckThrottleMs())*time.Millisecond,
		nil, nil,
	)

	sched := scheduler.New(logger)
	sched.SetHandler(engine.HandleRoomTimeout)
	engine.SetScheduler(sched)

	if err := RegisterRPCs(initializer, engine, bc); err != nil {
		return err
	}
	if err := initializer.RegisterEventSessionEnd(sessionEndHandler(engine)); err != nil {
		return err
	}

	logger.Info("Oddstrike Go module loaded.")
	return nil
}
