// Package runtime instantiates and destroys the circuit resources behind
// exit nodes.
//
// The pool depends only on the narrow Runtime contract (Start, Stop,
// Probe) plus the Rotator contract for the single control-channel
// command, "rotate identity". Two Runtime implementations ship:
//
//   - DockerRuntime runs one Tor container per circuit through the docker
//     CLI, mapping container SOCKS/control ports onto random free host
//     ports.
//   - EmbeddedRuntime runs one embedded Tor daemon per circuit through
//     tornago, with OS-assigned ports and per-process data directories.
//
// ControlRotator speaks the Tor control protocol directly (AUTHENTICATE,
// SIGNAL NEWNYM); rotation mutates the circuit's identity in place, which
// is far cheaper than tearing down and recreating the resource.
package runtime
