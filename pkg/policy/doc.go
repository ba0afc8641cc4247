// Package policy integrates the Open Policy Agent (OPA) engine with the ad
// rewrite path. A Rego module can decide, per matched exchange, to bypass the
// rewrite and leave the response untouched.
//
// The sub-packages hold the rewrite model itself: keyword taxonomy, URL
// routes, the structural sanitizer, and the capture classifier. They have no
// HTTP or OPA dependencies, so rules can be simulated and tested in isolation.
package policy
