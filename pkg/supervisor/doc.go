// Package supervisor implements the out-of-band health monitor that
// owns the server process lifecycle. On a fixed interval it probes the
// server's liveness endpoint and optionally backend connectivity
// through the server; enough consecutive failures trigger a process
// restart, with a capped exponential hold-off between restarts so a
// dead backend does not turn into a restart storm. The failure counter
// resets only on a subsequent successful probe, never on the restart
// itself, so a process that comes up sick keeps escalating.
//
// The monitor shares no state with request handling. Its observations
// go to structured logs, Prometheus metrics, and the health ledger.
package supervisor
