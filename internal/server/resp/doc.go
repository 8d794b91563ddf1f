// Package respserver exposes the embedded stream log over the Redis
// protocol, so redis-speaking producers and the redislog backend can run
// against a single mediaflo binary.
//
// Supported commands: PING, ECHO, AUTH, QUIT, XADD (auto ids, optional
// MAXLEN), XREAD (COUNT, STREAMS), XLEN, EXPIRE, PEXPIRE, DEL, LPUSH,
// RPOP, LLEN, PUBLISH and SUBSCRIBE. Payloads of PUBLISH are dropped:
// subscribers receive an empty message, which is all a ping needs.
//
//	s := respserver.New(backend, respserver.Options{Password: "secret"})
//	_ = s.ListenAndServe(ctx, ":6380")
package respserver
