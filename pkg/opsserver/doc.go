// Package opsserver serves the operational endpoints of a long-running
// worker: Prometheus metrics on /metrics, liveness on /healthz and
// readiness on /readyz.
//
// Readiness runs every registered Check in order and answers 503 on the
// first failure. Run is driven by its context; cancel it to shut the
// server down gracefully.
//
//	srv := opsserver.New(cfg,
//		opsserver.WithGatherer(reg),
//		opsserver.WithCheck("postgres", pg.Healthcheck(pool)),
//	)
//	g.Go(func() error { return srv.Run(ctx) })
package opsserver
