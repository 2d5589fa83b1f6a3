// Package ruida implements the Ruida command vocabulary: a bidirectional
// mapping between semantic laser operations and their wire byte encodings.
//
// The package is used in both directions of the protocol:
//
//   - [Program] assembles outgoing command sequences from semantic operations
//     (move, cut, set power, ...) for transmission to a physical controller.
//   - [Interpreter] decodes an incoming command stream into the same
//     operations, tracking cursor position and accumulating plot-cuts for a
//     motion driver. This is how the emulator reproduces, coordinate for
//     coordinate, what a real controller would execute.
//
// Coordinates are micrometres throughout. Power is percent (0-100), speed is
// mm/s, frequency is Hz; the wire encodings of each are defined in the codec
// package.
package ruida
