// Package debugserver speaks the GDB remote serial protocol to the device's
// debugserver: packet framing with checksums, escape and run-length
// decoding, and the handful of commands needed to launch a process under
// the debugger and detach from it.
package debugserver
