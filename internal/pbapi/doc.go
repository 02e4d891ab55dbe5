// Package pbapi holds the wire shapes of the PocketBase-style records API
// shared by the HTTP backend and the sandbox server: list and error
// envelopes, realtime handshake payloads and the server-sent event codec.
package pbapi
