// Package server hosts the Fiber HTTP service and its middleware chain.
// NewApp attaches panic recovery and request IDs, reserves the /-/ prefix for
// diagnostic routes registered by internal/server/routes, and hands every
// other request to a ProxyHandler (see internal/proxy) that forwards it
// through the cache gateway. Keep exports narrow and accept explicit
// dependencies so main and tests can assemble the app the same way.
package server
