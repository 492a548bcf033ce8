// Package websocket provides real-time trace streaming via WebSocket.
//
// Clients can connect to /api/v1/stream to receive every trace event the
// hub ingests plus the derived alert notifications.
package websocket
