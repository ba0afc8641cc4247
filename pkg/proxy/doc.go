// Package proxy hosts the rewrite engine inside a goproxy MITM proxy. Each
// request is classified on the way out and each response is handed to the
// engine before it reaches the client.
package proxy
