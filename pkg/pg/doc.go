// Package pg opens PostgreSQL connection pools with github.com/jackc/pgx/v5.
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
// Connect retries with a linearly growing delay so a freshly started database
// has time to accept connections. Healthcheck adapts the pool to readiness
// checks. IsNotFoundError and IsConnectionError classify driver errors for
// callers that map them onto their own sentinels.
package pg
