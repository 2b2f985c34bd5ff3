package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/feastlane/dispatch-system/config"
	"github.com/feastlane/dispatch-system/internal/adapter/http/handler"
	"github.com/feastlane/dispatch-system/internal/adapter/http/middleware"
	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/pkg/logger"
	wrap "github.com/feastlane/dispatch-system/pkg/logger/wrapper"
)

const serverIPAddress = "%s:%s"

type API struct {
	mode   types.ServiceMode
	mux    *http.ServeMux
	server *http.Server
	routes *handlers
	m      *middleware.Middleware

	addr string
	log  logger.Logger
}

type handlers struct {
	dispatch *handler.Dispatch
	zone     *handler.Zone
	driver   *handler.Driver
	ws       *handler.WS
	health   *handler.Health
}

func New(
	cfg config.Config,
	dispatch *handler.Dispatch,
	zone *handler.Zone,
	driver *handler.Driver,
	ws *handler.WS,
	log logger.Logger,
) *API {
	addr := fmt.Sprintf(serverIPAddress, "0.0.0.0", cfg.Server.Port)

	routes := &handlers{
		dispatch: dispatch,
		zone:     zone,
		driver:   driver,
		ws:       ws,
		health:   handler.NewHealth(string(cfg.Mode), log),
	}

	api := &API{
		mode:   cfg.Mode,
		mux:    http.NewServeMux(),
		routes: routes,
		m:      middleware.NewMiddleware(log),
		addr:   addr,
		log:    log,
	}

	api.server = &http.Server{
		Addr:    api.addr,
		Handler: api.withMiddleware(),
	}

	setupRoutes(api.mux, api.routes)

	return api
}

func (a *API) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ctx = wrap.WithAction(ctx, "http_server_stop")

	a.log.Debug(ctx, "shutting down HTTP server...", "address", a.addr)
	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down server: %w", err)
	}
	a.log.Debug(ctx, "shutting down HTTP server completed")

	return nil
}

func (a *API) Run(ctx context.Context, errCh chan<- error) {
	go func() {
		ctx = wrap.WithAction(ctx, "http_server_start")
		a.log.Info(ctx, "started http server", "address", a.addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to start HTTP server: %w", err)
			return
		}
	}()
}

// withMiddleware applies middlewares to the mux
func (a *API) withMiddleware() http.Handler {
	chain := a.m.Metrics(string(a.mode))(a.mux)
	chain = a.m.Logging(chain)
	chain = a.m.RequestID(chain)
	return a.m.Recover(chain)
}
