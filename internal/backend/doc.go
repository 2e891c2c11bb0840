// Package backend defines the batch execution service the engine submits
// scenario jobs to, the machine-type capacity rules every submission must
// satisfy, and a registry that resolves the configured implementation.
package backend
