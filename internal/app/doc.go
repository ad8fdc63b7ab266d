// Package app wires the extractor together: configuration, logging and
// telemetry, the job store, the browser session and extraction pipeline, the
// job manager, and the HTTP server with its status push hub.
//
// # Lifecycle
//
//	app, err := app.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return app.Run(ctx) // serves until ctx is cancelled, then shuts down
//
// New also marks jobs left active by a previous process as failed, so a
// crash never blocks admission.
//
// # Shutdown order
//
//  1. HTTP server stops accepting requests
//  2. Running job is cancelled and finalized
//  3. Status hub and broadcaster stop
//  4. Browser and job store close
//  5. Telemetry providers flush
//
// All errors are returned to the caller; the package never exits the
// process.
package app
