// Package util holds small string helpers shared by the engine, the stores
// and the HTTP layer: credential prefixes for logs and scope parsing.
package util
