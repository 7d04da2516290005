// Command wschat runs the group chat server.
//
// Settings are taken from WSCHAT_* environment variables and may be
// overridden by flags, see wschat -h.
package main

import (
	"go.uber.org/fx"

	"github.com/textws/ws/internal/chat"
)

func main() {
	fx.New(
		fx.Provide(ProvideConfig),
		fx.Provide(ProvideLogger),
		fx.Provide(ProvideHub),
		fx.Provide(ProvideServer),
		fx.WithLogger(ProvideFxLogger),
		// Invoke forces the server to be built and its hooks registered.
		fx.Invoke(func(*chat.Server) {}),
	).Run()
}
