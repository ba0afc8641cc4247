// Package tls manages the certificate authority the proxy uses to sign
// leaf certificates for intercepted hosts.
package tls
