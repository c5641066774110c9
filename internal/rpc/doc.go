// Package rpc maps remote procedure call method names to handlers and tracks
// requests that are still being served.
//
// Dispatch never lets a handler failure escape: a missing method, a returned
// error, a panic and an exceeded deadline each come back as an *Error whose
// Payload is sent to the remote caller.
package rpc
