// Package adapter defines the normalized chat model shared by session
// sources, the change detector, and the transport layer.
package adapter
