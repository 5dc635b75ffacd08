// Package rpc defines the JSON-RPC 2.0 envelope spoken by the request
// core: parsing inbound calls, the reply and notification messages sent
// back, and the mapping from handler failures to reply errors.
package rpc
