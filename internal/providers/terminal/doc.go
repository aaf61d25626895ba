// Package terminal drives interactive programs through pseudo-terminals.
//
// A caller types text, sends control and navigation keys, resizes the
// viewport and reads back output, exactly as a person at a terminal would.
// Output is read back reliably across partial UTF-8 sequences, embedded
// escape codes, process death and idle timeouts.
//
// Architecture:
//   - Registry maps caller-chosen ids to Sessions and runs the reaper
//   - Session owns one Handle (PTY + child) and one Buffer
//   - A reader goroutine per session copies PTY output into the Buffer
//   - Buffer is bounded (oldest bytes dropped) and never returns split
//     code points or escape sequences
//   - Terminate is the single release path: explicit kill, idle timeout,
//     observed exit and shutdown all converge on it
//
// Example Usage:
//
//	reg := terminal.NewRegistry(terminal.DefaultOptions())
//	reg.Start()
//	defer reg.Shutdown(context.Background())
//
//	s, err := reg.GetOrCreate(ctx, "build", terminal.Command{Path: "bash"}, terminal.DefaultSize())
//	s.Write("make test\n")
//	s.SendKey("ctrl_c")
//	res, err := s.Read(terminal.ReadOptions{Timeout: time.Second, MaxBytes: 64 << 10})
//
// Tools:
//   - terminal.create_session: Start a program in a new session
//   - terminal.write: Type text (creates the session on demand)
//   - terminal.send_key: Send a named key
//   - terminal.read: Read accumulated output
//   - terminal.resize: Resize terminal dimensions
//   - terminal.kill: Terminate session and cleanup
//   - terminal.list_sessions, terminal.get_session, terminal.list_keys
package terminal
