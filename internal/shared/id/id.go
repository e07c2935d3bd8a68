// Package id provides centralized ID generation for the console
// surface.
//
// IDs are UUIDv4 with a type prefix (req_*, client_*, bundle_*) so a
// log line says what kind of thing it names. Separate string types
// keep the IDs from being mixed up at compile time.
package id

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RequestID identifies one console API request.
type RequestID string

// ClientID identifies a trace stream subscriber.
type ClientID string

// BundleID identifies an installed image bundle.
type BundleID string

const (
	RequestPrefix = "req"
	ClientPrefix  = "client"
	BundlePrefix  = "bundle"
)

func generate(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}

// NewRequestID generates a new request ID.
func NewRequestID() RequestID {
	return RequestID(generate(RequestPrefix))
}

// NewClientID generates a new subscriber ID.
func NewClientID() ClientID {
	return ClientID(generate(ClientPrefix))
}

// NewBundleID generates a new bundle ID.
func NewBundleID() BundleID {
	return BundleID(generate(BundlePrefix))
}

func (id RequestID) String() string { return string(id) }
func (id ClientID) String() string  { return string(id) }
func (id BundleID) String() string  { return string(id) }

// IsValid checks whether s is a prefixed id produced here.
func IsValid(s string) bool {
	_, rest, ok := strings.Cut(s, "_")
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}
