// Package master implements the coordinating node of a cherry cluster: the
// join-port server with admission control, the node registry, the throughput
// aggregator and the file-distribution service.
package master
