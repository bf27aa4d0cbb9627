package controller

import (
	"net/http"

	"github.com/sharetube/watchroom/pkg/rest"
)

func (c controller) healthz(w http.ResponseWriter, r *http.Request) {
	rest.WriteJSON(w, http.StatusOK, rest.Envelope{
		"status": "ok",
		"rooms":  c.roomService.RoomsCount(),
	})
}
