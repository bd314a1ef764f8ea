// Package httpserver runs an http.Handler with graceful shutdown on context
// cancellation or SIGINT/SIGTERM, and provides liveness and readiness
// handlers.
//
//	srv := httpserver.New(
//		httpserver.WithConfig(cfg),
//		httpserver.WithLogger(log),
//		httpserver.WithShutdownHook(dispatcher.Close),
//	)
//	if err := srv.Run(ctx, router); err != nil {
//		log.Error("server failed", logger.Error(err))
//	}
//
// Shutdown hooks run after in-flight requests complete and share the
// shutdown deadline, which lets background workers drain before exit.
package httpserver
