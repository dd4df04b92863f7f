// Package protocol defines the messages exchanged between the master and its
// workers and the newline-delimited JSON framing that carries them.
package protocol
