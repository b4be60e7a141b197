// Package bpf is the boundary with the kernel-side instrumentation.
//
// The instrumentation (attached fentry/fexit programs) is set up by an
// external attacher which pins its ring buffer. This package opens that ring
// buffer, or a file of previously captured events, and hands every raw event
// to an EventHandler. It also knows the binary layout of a captured call
// stack and converts it into a stack.Record.
//
// This package does not interpret events beyond decoding them.
package bpf
