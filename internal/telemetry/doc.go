// Package telemetry samples metric sources on a fixed interval and hands the
// merged sample to a publisher.
//
// Sources are collected concurrently, each under its own deadline. A source
// that errors or overruns is skipped for that tick; the rest of the sample is
// still published. Publishing while the platform is unreachable is a logged
// no-op, so the loop never stalls on the network.
package telemetry
