// Package domain defines the values exchanged between the proxy host, the
// rewrite engine, and the capture classifier. Nothing in this package performs
// I/O; every type is safe to copy and owned by the exchange that produced it.
package domain
