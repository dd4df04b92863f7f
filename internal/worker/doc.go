// Package worker implements the worker side of a cluster: it loads the
// cracking tool, joins the master, fetches the capture file and then reports
// its speed until the master or the operator ends the session.
//
// Bootstrap is a pipeline:
//
//	validate → tool (search, benchmark) → dictionary → join → fetch handshake
//
// Each step either advances the pipeline or fails it; the first failure ends
// the bootstrap with that error.
package worker
