package handlers

import (
	"net/http"

	"github.com/nkiryanov/schoolagenda/internal/handlers/render"
	"github.com/nkiryanov/schoolagenda/internal/handlers/userctx"
)

func handleUserMe() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())
		render.JSON(w, newUserResponse(user))
	})
}
