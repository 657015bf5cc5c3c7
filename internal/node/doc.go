// Package node runs the network side of one simulation worker.
//
// A Node owns the two coordinator links from package channel and a single
// cooperative loop that interleaves them with the simulation:
//
//	┌──────────────────────────── iteration ────────────────────────────┐
//	│ Poll event channel (non-blocking)                                 │
//	│   QUIT        → stop after this iteration, never answered         │
//	│   other event → Handler.OnEvent(name, payload, reversed route)    │
//	│ Handler.Step()                                                    │
//	│ TimerDispatcher.Dispatch()                                        │
//	└───────────────────────────────────────────────────────────────────┘
//
// Lifecycle:
//
//	Starting  open event and stream channels, register (the only blocking
//	          step; bounded by Config.RegisterTimeout)
//	Running   iterate until the running flag drops or ctx is cancelled
//	Stopping  send QUIT unless it was already sent or came from the
//	          coordinator, close both channels
//	Stopped   terminal
//
// Cancelling the context passed to Start is treated as a local quit, the same
// way an interrupt signal is. Cancellation and Quit are observed at the top of
// the next iteration, never in the middle of one; Step and Dispatch must
// return promptly for shutdown to be prompt.
//
// Example:
//
//	n, err := node.New(node.Config{
//		EventEndpoint:  "tcp://localhost:10000",
//		StreamEndpoint: "tcp://localhost:10001",
//	}, handler, node.WithLogger(log))
//	if err != nil {
//		log.Fatal("node identity", zap.Error(err))
//	}
//	if err := n.Start(ctx); err != nil {
//		log.Error("node failed", zap.Error(err))
//	}
package node
