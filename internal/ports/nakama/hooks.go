package nakama

import (
	"context"

	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"

	"oddstrike/internal/app"
)

// sessionEndHandler removes the disconnecting session from whatever room
// it occupied. The session index resolves the room, so the event payload
// itself carries nothing we need.
func sessionEndHandler(engine *app.Engine) func(ctx context.Context, logger runtime.Logger, evt *api.Event) {
	return func(ctx context.Context, logger runtime.Logger, evt *api.Event) {
		sessionID, _ := ctx.Value(runtime.RUNTIME_CTX_SESSION_ID).(string)
		userID, _ := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)
		if sessionID == "" {
			return
		}
		sess := app.Session{ID: sessionID, UserID: userID}
		if err := engine.Disconnect(ctx, sess); err != nil {
			logger.Error("sessionEndHandler: session %s: %v", sessionID, err)
		}
	}
}
