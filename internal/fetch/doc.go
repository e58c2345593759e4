// Package fetch performs outbound HTTP requests through per-node SOCKS5
// proxies. Each request is routed through the proxy address of the node
// leased for it and carries a randomized desktop Firefox user agent, so
// traffic from one pool node does not present a stable fingerprint.
package fetch
