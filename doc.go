// Package chatsync coordinates the chatbot console's asynchronous REST calls:
//
//   - Request deduplication (merges concurrent identical in-flight requests)
//   - Short-TTL in-memory caching of read results, enough to absorb
//     re-entrant calls from rendering without user-visible staleness
//   - Bounded, cancellable polling sessions that await an assistant reply
//     computed out-of-band after a message is submitted
//   - Prometheus metrics and lightweight structured debug logging
//
// Design goals:
//   - Small surface area: functional options configure everything
//   - At most one transport call per distinct concurrent request key
//   - At most one active polling session per conversation; starting a new
//     one supersedes (cancels) the old, so stale loops can never deliver
//   - Every terminal session transition clears its timer; nothing keeps
//     firing after the caller has stopped caring
//
// Typical usage:
//
//	client := chatsync.New(
//	    chatsync.NewHTTPTransport("https://console.example.com", nil),
//	    chatsync.WithCacheTTL(time.Second),
//	    chatsync.WithPollInterval(2*time.Second),
//	    chatsync.WithAwaitTimeout(30*time.Second),
//	)
//	baseline, _ := client.ListMessages(ctx, chatID)
//	if err := client.SendMessage(ctx, chatID, "hello"); err != nil { ... }
//	session := client.AwaitReply(ctx, chatID, baseline)
//	outcome, ok := <-session.Done() // ok == false means cancelled
//
// The library never retries: transport and poll failures surface to the
// caller, and retry policy belongs to the collaborator or the transport.
// Provide a Logger (e.g. via WithSimpleLogger) and enable debug flags
// selectively (WithDebug / WithDebugConfig) for insight without noise.
package chatsync
