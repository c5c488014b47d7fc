// Package realtime is the client side of the sitesync wire contract.
//
// A Client keeps one persistent connection to a hub, preferring a websocket and falling back
// to HTTP long-polling. It authenticates with a bearer token from a TokenSource, joins and
// leaves project rooms with acknowledged requests, and relays every server event to local
// subscribers through a Registry:
//
//	c, err := realtime.New(
//		realtime.WithURL("http://localhost:8080/realtime"),
//		realtime.WithTokenSource(realtime.StaticToken(token)),
//	)
//	if err != nil {
//		return err
//	}
//	realtime.Subscribe(c, protocol.EventTaskCreated, func(t Task) { ... })
//	if err := c.Initialize(ctx); err != nil {
//		return err
//	}
//	ok, err := c.JoinProject(ctx, "p1")
//
// Lost connections are re-dialed with exponential backoff until MaxReconnectAttempts
// consecutive failures, at which point socket:reconnect_failed is emitted once.
package realtime
