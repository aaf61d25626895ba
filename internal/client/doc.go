// Package client is a Go client for the ptyd REST and websocket API.
//
// Failed requests return *APIError, which matches the terminal error kinds:
//
//	c := client.New(client.DefaultConfig())
//	_, err := c.Read(ctx, "build", time.Second, 0)
//	if errors.Is(err, terminal.ErrSessionTerminated) {
//	    // inspect err.(*client.APIError).ExitCode
//	}
//
// Lookups are retried with retryablehttp's policy. Writes, keys and reads
// are sent exactly once, since repeating them would type twice or lose
// output.
package client
