package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
)

type GameConfig struct {
	// RollTimeoutSeconds bounds how long the current player may sit on a
	// pending roll before the turn resolves automatically.
	RollTimeoutSeconds int `json:"roll_timeout_seconds"`
	// KillTimeoutSeconds bounds the kill decision after a bullet roll.
	KillTimeoutSeconds int `json:"kill_timeout_seconds"`
	// RoomTTLSeconds is how long an untouched room record survives.
	RoomTTLSeconds int `json:"room_ttl_seconds"`
	// TimeoutCheckThrottleMs caps client-driven timeout checks per room
	// and session.
	TimeoutCheckThrottleMs int `json:"timeout_check_throttle_ms"`
	// DiceWeights overrides the relative draw weight per face
	// ("1".."5", "joker"); missing faces default to 1.
	DiceWeights map[string]int `json:"dice_weights"`

	AutoRollEnabled        bool `json:"auto_roll_enabled"`
	AutoRollTimeoutSec     int  `json:"auto_roll_timeout_sec"`
	AutoKillEnabled        bool `json:"auto_kill_enabled"`
	KillDecisionTimeoutSec int  `json:"kill_decision_timeout_sec"`
}

var (
	cfg      *GameConfig
	loadOnce sync.Once
	loadErr  error
)

// LoadGameConfig loads the game configuration from the given path.
func LoadGameConfig(path string) error {
	loadOnce.Do(func() {
		data, err := os.ReadFile(path)
		if err != nil {
			loadErr = fmt.Errorf("failed to read game config: %w", err)
			return
		}

		var c GameConfig
		if err := json.Unmarshal(data, &c); err != nil {
			loadErr = fmt.Errorf("failed to unmarshal game config: %w", err)
			return
		}
		cfg = &c
	})
	return loadErr
}

// SetGameConfig installs a configuration directly, bypassing the file
// load. Used when the runtime passes settings through its environment
// instead of a mounted config file.
func SetGameConfig(c *GameConfig) {
	cfg = c
}

// FromEnv builds a configuration from the runtime env map, taking the
// safe default for any missing or malformed entry.
func FromEnv(env map[string]string) *GameConfig {
	c := &GameConfig{
		RollTimeoutSeconds:     envInt(env, "ODDSTRIKE_ROLL_TIMEOUT_SECONDS", 60),
		KillTimeoutSeconds:     envInt(env, "ODDSTRIKE_KILL_TIMEOUT_SECONDS", 180),
		RoomTTLSeconds:         envInt(env, "ODDSTRIKE_ROOM_TTL_SECONDS", 86400),
		TimeoutCheckThrottleMs: envInt(env, "ODDSTRIKE_TIMEOUT_CHECK_THROTTLE_MS", 900),
		AutoRollEnabled:        envBool(env, "ODDSTRIKE_AUTO_ROLL_ENABLED", false),
		AutoRollTimeoutSec:     envInt(env, "ODDSTRIKE_AUTO_ROLL_TIMEOUT_SEC", 0),
		AutoKillEnabled:        envBool(env, "ODDSTRIKE_AUTO_KILL_ENABLED", false),
		KillDecisionTimeoutSec: envInt(env, "ODDSTRIKE_KILL_DECISION_TIMEOUT_SEC", 0),
	}
	if raw, ok := env["ODDSTRIKE_DICE_WEIGHTS"]; ok && raw != "" {
		var weights map[string]int
		if err := json.Unmarshal([]byte(raw), &weights); err == nil {
			c.DiceWeights = weights
		}
	}
	return c
}

// GetGameConfig returns the global game configuration.
func GetGameConfig() *GameConfig {
	return cfg
}

// GetRollTimeoutSeconds returns the roll-phase deadline in seconds.
func GetRollTimeoutSeconds() int {
	if cfg == nil || cfg.RollTimeoutSeconds <= 0 {
		return 60 // Safe default
	}
	return cfg.RollTimeoutSeconds
}

// GetKillTimeoutSeconds returns the kill-phase deadline in seconds.
func GetKillTimeoutSeconds() int {
	if cfg == nil || cfg.KillTimeoutSeconds <= 0 {
		return 180
	}
	return cfg.KillTimeoutSeconds
}

// GetRoomTTLSeconds returns the room record lifetime in seconds.
func GetRoomTTLSeconds() int {
	if cfg == nil || cfg.RoomTTLSeconds <= 0 {
		return 86400
	}
	return cfg.RoomTTLSeconds
}

// GetTimeoutCheckThrottleMs returns the timeout-check throttle window.
func GetTimeoutCheckThrottleMs() int {
	if cfg == nil || cfg.TimeoutCheckThrottleMs <= 0 {
		return 900
	}
	return cfg.TimeoutCheckThrottleMs
}

// GetDiceWeights returns the configured face weights, or nil for the
// built-in table.
func GetDiceWeights() map[string]int {
	if cfg == nil {
		return nil
	}
	return cfg.DiceWeights
}

func envInt(env map[string]string, key string, def int) int {
	raw, ok := env[key]
	if !ok || raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBool(env map[string]string, key string, def bool) bool {
	raw, ok := env[key]
	if !ok || raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}
