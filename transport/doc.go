// Package transport moves ACL envelopes between platforms over WebSocket.
//
// # Overview
//
// The wire protocol is JSON-RPC 2.0. A delivery is one request:
//
//	{"jsonrpc":"2.0","id":"1","method":"acl.deliver","params":<envelope>}
//
// answered once the message sits in the receiver's mailbox:
//
//	{"jsonrpc":"2.0","id":"1","result":{"id":"<envelope id>"}}
//
// or with an error ack ({"id":..., "error":{"code":"UNKNOWN_RECEIVER",...}})
// when the platform has no such agent. JSON-RPC errors are reserved for
// protocol problems (bad frames, unknown methods).
//
// # Components
//
//   - Frame: one decoded JSON-RPC call, notice or reply
//   - WSLink: one accepted connection, frames in on a channel and out via Send
//   - WSHandler: the "ws" transfer handler; an http.Handler for inbound
//     peers plus a pool of outbound connections, one per remote endpoint
//
// # Usage
//
//	h := transport.NewWSHandler(codec, transport.WSConfig{
//	    PublicHost: "plat1.example:7070",
//	    Path:       "/acl",
//	})
//	mux.Handle(h.Path(), h)
//	mtsys.InstallHandler(h)
//
// Agents bound through h get addresses ws://plat1.example:7070/<short>.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Each connection has a single
// writer goroutine; calls on an outbound connection are matched to
// responses by id.
package transport
