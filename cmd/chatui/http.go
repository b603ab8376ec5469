package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"goa.design/clue/debug"
	"goa.design/clue/health"
	"goa.design/clue/log"
	goahttp "goa.design/goa/v3/http"

	"goa.design/chatui/runtime/chatui/server"
)

// newHandler builds the HTTP handler serving the chat endpoints, the health
// check and, in debug mode, the pprof and log level endpoints.
func newHandler(ctx context.Context, srv *server.Server, checker health.Checker, dbg bool) http.Handler {
	mux := goahttp.NewMuxer()
	if dbg {
		debug.MountPprofHandlers(debug.Adapt(mux))
		debug.MountDebugLogEnabler(debug.Adapt(mux))
	}
	srv.Mount(mux)
	mux.Handle(http.MethodGet, "/healthz", health.Handler(checker))

	var handler http.Handler = mux
	if dbg {
		handler = debug.HTTP()(handler)
	}
	return log.HTTP(ctx)(handler)
}

func handleHTTPServer(ctx context.Context, addr string, srv *server.Server, checker health.Checker, wg *sync.WaitGroup, errc chan error, dbg bool) {
	// No WriteTimeout: chat responses stream for as long as the agent runs.
	httpSrv := &http.Server{Addr: addr, Handler: newHandler(ctx, srv, checker, dbg), ReadHeaderTimeout: 60 * time.Second}
	log.Printf(ctx, "HTTP POST mounted on %s", server.ChatPath)
	log.Printf(ctx, "HTTP GET mounted on %s", server.MessagesPath)

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			log.Printf(ctx, "HTTP server listening on %q", addr)
			errc <- httpSrv.ListenAndServe()
		}()

		<-ctx.Done()
		log.Printf(ctx, "shutting down HTTP server at %q", addr)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.Printf(ctx, "failed to shutdown: %v", err)
		}
	}()
}
