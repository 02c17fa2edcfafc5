// Package subprocess supervises locally spawned tool server processes.
//
// A Process owns the child's stdin, stdout and stderr pipes, tracks its
// lifecycle state and shuts it down by closing stdin, waiting a grace period
// and then killing the whole process tree.
package subprocess
