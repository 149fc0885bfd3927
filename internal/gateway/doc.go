// Package gateway routes WebSocket traffic to handler functions.
//
// A Gateway owns the live connections of the emulated API. The transport
// asks it to verify each upgrade request (VerifyClient), registers the
// connections it accepts (AddClient) and reports their frames and
// closures (OnMessage, OnClose). Every inbound frame is resolved to a
// route key and dispatched to the route's function; when the route does
// not exist the $default route handles it.
//
// Dispatches of one connection run one at a time in arrival order on a
// dedicated worker, while different connections are served in parallel.
// A failing handler only affects its own connection, which receives an
// internal error frame.
//
// Connections are closed with 1001 when their idle or hard timeout
// fires. Closing a connection runs its $disconnect handler and then
// drops the authorization context cached by the $connect authorizer.
package gateway
