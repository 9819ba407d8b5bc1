package app

// MinPlayersToStart is the minimum player count required to start a game.
// Keep this centralized so tests or local runs can adjust the rule without
// touching multiple call sites.
const MinPlayersToStart = 2

// MaxPlayersPerRoom caps room membership; joins beyond this are rejected.
const MaxPlayersPerRoom = 6
