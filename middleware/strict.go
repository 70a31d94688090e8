package middleware

import (
	"net/http"

	panelauth "github.com/MrEthical07/panelAuth"
)

// RequireSession authorizes route with the session cookie only.
func RequireSession(engine *panelauth.Engine, route string, opts Options) func(http.Handler) http.Handler {
	return guard(engine, route, opts, acceptSession)
}
