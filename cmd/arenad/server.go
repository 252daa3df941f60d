package main

import (
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/prepdeck/arena/internal/gateway"
	"github.com/prepdeck/arena/internal/httpapi"
)

func setupServer(cfg *Config, ws *gateway.WebSocketHandler, api *httpapi.Handler) *http.Server {
	router := httprouter.New()

	api.Register(router)
	router.HandlerFunc(http.MethodGet, "/ws", ws.HandleConnection)
	router.HandlerFunc(http.MethodGet, "/ws/stats", ws.HandleStats)
	router.HandlerFunc(http.MethodGet, "/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	handler := c.Handler(router)

	return &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}
}
