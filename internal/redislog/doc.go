// Package redislog implements the stream log on Redis streams through a
// redigo connection pool.
//
//	XADD key MAXLEN ~ n * field value ...   Append
//	XREAD COUNT n STREAMS key id            ReadAfter
//	XLEN / PEXPIRE / DEL                    Len, Expire, Delete
//	PUBLISH / SUBSCRIBE                     part and queue pings
//	LPUSH / RPOP                            the discovery queue
//
// Subscriptions hold a dedicated connection each.
package redislog
