// Package protocol owns the service-level exchanges muxctl layers on top of
// go-ios device connections.
//
// Ownership boundary:
// - go-ios: usbmuxd discovery, pair records, lockdown sessions, service TLS, AFC
// - instproxy: application lookup and installation requests
// - debugserver: GDB remote serial protocol packets
package protocol
