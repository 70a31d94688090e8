package middleware

import (
	"net/http"

	panelauth "github.com/MrEthical07/panelAuth"
)

// RequireBearer authorizes route with an API access token or API key. The
// session cookie is ignored, so CSRF does not apply.
func RequireBearer(engine *panelauth.Engine, route string, opts Options) func(http.Handler) http.Handler {
	return guard(engine, route, opts, acceptBearer)
}
