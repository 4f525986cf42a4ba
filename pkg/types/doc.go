// Package types defines the request types shared by the stream client and
// its callers, and their wire format.
package types
