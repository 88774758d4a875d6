// Package v2 provides a minimal Hue V2 API (CLIP) transport.
//
// It only knows how to address the bridge, attach the application key and
// describe the wire shapes of the light resource. Decoding policy (which
// entries are usable, how errors are classified) lives in package hue.
//
// The V2 API uses HTTPS with self-signed certificates (requires TLS skip verify).
package v2
