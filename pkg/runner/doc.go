// Package runner executes driver scripts as host processes.
//
// The Runner interface is the narrow contract the driver depends on:
// run an argument vector in a working directory and report the exit
// status. Exec is the host implementation. It inherits the caller's
// environment, optionally streams output to the terminal, and keeps a
// bounded tail of stdout and stderr for failure reports and evidence.
//
// Timeouts and cancellation are carried by the context passed to Run.
package runner
