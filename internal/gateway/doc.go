// ABOUTME: Session Gateway (component A) — one duplex connection per client.
// ABOUTME: Authenticates on handshake, demultiplexes inbound frames, serializes outbound frames per session.

package gateway
