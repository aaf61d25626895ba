// Package ws streams terminal sessions over websockets.
//
// GET /ws/sessions/:id upgrades the connection and attaches it to the
// session. Frames are JSON (types.WSMessage):
//
//	client -> server: input{data}, key{key}, resize{rows,cols}, ping
//	server -> client: output{data,dropped}, exit{exit_code,reason}, error{code,message}, pong
//
// The server sends exit and closes the socket once the session ends.
package ws
