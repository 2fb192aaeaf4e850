// Package rf defines the shared vocabulary of the streaming control plane:
// channel handles, trigger sources, flow and transfer modes, frequency tune
// modes, timestamps, and the error taxonomy used across all controllers.
//
// Every other package in this module imports rf; rf imports nothing but the
// standard library.
package rf
