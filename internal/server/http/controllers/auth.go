package controllers

import (
	"net/http"

	"github.com/rzbill/mediaflo/internal/auth"
	"github.com/rzbill/mediaflo/internal/producer"
)

// identify resolves the caller of r. Browsers cannot set headers on
// websocket upgrades, so the access_token query parameter is accepted too.
func identify(a *auth.Authenticator, r *http.Request) (producer.Identity, bool) {
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("access_token")
	}
	return a.Lookup(token)
}
