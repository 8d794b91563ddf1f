package respserver

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/redcon"

	"github.com/rzbill/mediaflo/internal/streamlog"
	"github.com/rzbill/mediaflo/pkg/log"
)

type handler func(ctx context.Context, s *Server, conn redcon.Conn, args [][]byte)

var commands = map[string]handler{
	"echo":      cmdEcho,
	"xadd":      cmdXAdd,
	"xread":     cmdXRead,
	"xlen":      cmdXLen,
	"expire":    cmdExpire,
	"pexpire":   cmdPExpire,
	"del":       cmdDel,
	"lpush":     cmdLPush,
	"rpop":      cmdRPop,
	"llen":      cmdLLen,
	"publish":   cmdPublish,
	"subscribe": cmdSubscribe,
}

func (s *Server) writeErr(conn redcon.Conn, cmd string, err error) {
	switch {
	case errors.Is(err, streamlog.ErrInvalidKey):
		conn.WriteError("ERR invalid key")
	case errors.Is(err, streamlog.ErrInvalidPosition):
		conn.WriteError("ERR Invalid stream ID specified as stream command argument")
	default:
		s.log.Warn("resp command failed", log.Str("cmd", cmd), log.Err(err))
		conn.WriteError("ERR " + err.Error())
	}
}

func cmdEcho(_ context.Context, _ *Server, conn redcon.Conn, args [][]byte) {
	if len(args) != 1 {
		conn.WriteError(errWrongArgs("echo"))
		return
	}
	conn.WriteBulk(args[0])
}

// XADD key [MAXLEN [~|=] n] * field value [field value ...]
func cmdXAdd(ctx context.Context, s *Server, conn redcon.Conn, args [][]byte) {
	if len(args) < 4 {
		conn.WriteError(errWrongArgs("xadd"))
		return
	}
	key := string(args[0])
	rest := args[1:]
	maxLen := 0
	if strings.EqualFold(string(rest[0]), "maxlen") {
		rest = rest[1:]
		if len(rest) > 0 && (string(rest[0]) == "~" || string(rest[0]) == "=") {
			rest = rest[1:]
		}
		if len(rest) == 0 {
			conn.WriteError("ERR syntax error")
			return
		}
		n, err := strconv.Atoi(string(rest[0]))
		if err != nil || n < 0 {
			conn.WriteError("ERR The MAXLEN argument must be >= 0.")
			return
		}
		maxLen = n
		rest = rest[1:]
	}
	if len(rest) < 3 || len(rest[1:])%2 != 0 {
		conn.WriteError(errWrongArgs("xadd"))
		return
	}
	if string(rest[0]) != "*" {
		conn.WriteError("ERR only auto-generated stream ids are supported")
		return
	}
	fields := make(streamlog.Fields, len(rest[1:])/2)
	for i := 1; i < len(rest); i += 2 {
		fields[string(rest[i])] = append([]byte(nil), rest[i+1]...)
	}
	pos, err := s.backend.Append(ctx, key, fields, maxLen)
	if err != nil {
		s.writeErr(conn, "xadd", err)
		return
	}
	conn.WriteBulkString(pos.String())
}

// XREAD [COUNT n] STREAMS key [key ...] id [id ...]
func cmdXRead(ctx context.Context, s *Server, conn redcon.Conn, args [][]byte) {
	count := 0
	i := 0
	for ; i < len(args); i++ {
		switch strings.ToLower(string(args[i])) {
		case "count":
			if i+1 >= len(args) {
				conn.WriteError("ERR syntax error")
				return
			}
			n, err := strconv.Atoi(string(args[i+1]))
			if err != nil {
				conn.WriteError("ERR value is not an integer or out of range")
				return
			}
			count = n
			i++
			continue
		case "block":
			conn.WriteError("ERR BLOCK is not supported, poll instead")
			return
		case "streams":
		default:
			conn.WriteError("ERR syntax error")
			return
		}
		break
	}
	streams := args[min(i+1, len(args)):]
	if i >= len(args) || len(streams) == 0 || len(streams)%2 != 0 {
		conn.WriteError("ERR Unbalanced 'xread' list of streams: for each stream key an ID or '$' must be specified.")
		return
	}
	half := len(streams) / 2
	type result struct {
		key     string
		entries []streamlog.Entry
	}
	var results []result
	for k := 0; k < half; k++ {
		key := string(streams[k])
		after, err := streamlog.ParsePosition(string(streams[half+k]))
		if err != nil {
			s.writeErr(conn, "xread", err)
			return
		}
		entries, err := s.backend.ReadAfter(ctx, key, after, count)
		if err != nil {
			s.writeErr(conn, "xread", err)
			return
		}
		if len(entries) > 0 {
			results = append(results, result{key: key, entries: entries})
		}
	}
	if len(results) == 0 {
		conn.WriteNull()
		return
	}
	conn.WriteArray(len(results))
	for _, r := range results {
		conn.WriteArray(2)
		conn.WriteBulkString(r.key)
		conn.WriteArray(len(r.entries))
		for _, e := range r.entries {
			writeEntry(conn, e)
		}
	}
}

func writeEntry(conn redcon.Conn, e streamlog.Entry) {
	conn.WriteArray(2)
	conn.WriteBulkString(e.Position.String())
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	conn.WriteArray(2 * len(names))
	for _, name := range names {
		conn.WriteBulkString(name)
		conn.WriteBulk(e.Fields[name])
	}
}

func cmdXLen(ctx context.Context, s *Server, conn redcon.Conn, args [][]byte) {
	if len(args) != 1 {
		conn.WriteError(errWrongArgs("xlen"))
		return
	}
	n, err := s.backend.Len(ctx, string(args[0]))
	if err != nil {
		s.writeErr(conn, "xlen", err)
		return
	}
	conn.WriteInt(n)
}

// EXPIRE key seconds
func cmdExpire(ctx context.Context, s *Server, conn redcon.Conn, args [][]byte) {
	expireWithUnit(ctx, s, conn, args, time.Second)
}

// PEXPIRE key milliseconds
func cmdPExpire(ctx context.Context, s *Server, conn redcon.Conn, args [][]byte) {
	expireWithUnit(ctx, s, conn, args, time.Millisecond)
}

func expireWithUnit(ctx context.Context, s *Server, conn redcon.Conn, args [][]byte, unit time.Duration) {
	if len(args) != 2 {
		conn.WriteError(errWrongArgs("expire"))
		return
	}
	n, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		conn.WriteError("ERR value is not an integer or out of range")
		return
	}
	key := string(args[0])
	length, err := s.backend.Len(ctx, key)
	if err != nil {
		s.writeErr(conn, "expire", err)
		return
	}
	if length == 0 {
		conn.WriteInt(0)
		return
	}
	if err := s.backend.Expire(ctx, key, time.Duration(n)*unit); err != nil {
		s.writeErr(conn, "expire", err)
		return
	}
	conn.WriteInt(1)
}

func cmdDel(ctx context.Context, s *Server, conn redcon.Conn, args [][]byte) {
	if len(args) == 0 {
		conn.WriteError(errWrongArgs("del"))
		return
	}
	removed := 0
	for _, k := range args {
		key := string(k)
		n, err := s.backend.Len(ctx, key)
		if err != nil {
			s.writeErr(conn, "del", err)
			return
		}
		if err := s.backend.Delete(ctx, key); err != nil {
			s.writeErr(conn, "del", err)
			return
		}
		if n > 0 {
			removed++
		}
	}
	conn.WriteInt(removed)
}

// LPUSH and RPOP together form the FIFO announcement queue.
func cmdLPush(ctx context.Context, s *Server, conn redcon.Conn, args [][]byte) {
	if len(args) < 2 {
		conn.WriteError(errWrongArgs("lpush"))
		return
	}
	queue := string(args[0])
	for _, v := range args[1:] {
		if err := s.backend.Push(ctx, queue, append([]byte(nil), v...)); err != nil {
			s.writeErr(conn, "lpush", err)
			return
		}
	}
	n, err := s.backend.QueueLen(ctx, queue)
	if err != nil {
		s.writeErr(conn, "lpush", err)
		return
	}
	conn.WriteInt(n)
}

func cmdRPop(ctx context.Context, s *Server, conn redcon.Conn, args [][]byte) {
	if len(args) != 1 {
		conn.WriteError(errWrongArgs("rpop"))
		return
	}
	payload, ok, err := s.backend.Pop(ctx, string(args[0]))
	if err != nil {
		s.writeErr(conn, "rpop", err)
		return
	}
	if !ok {
		conn.WriteNull()
		return
	}
	conn.WriteBulk(payload)
}

func cmdLLen(ctx context.Context, s *Server, conn redcon.Conn, args [][]byte) {
	if len(args) != 1 {
		conn.WriteError(errWrongArgs("llen"))
		return
	}
	n, err := s.backend.QueueLen(ctx, string(args[0]))
	if err != nil {
		s.writeErr(conn, "llen", err)
		return
	}
	conn.WriteInt(n)
}

// PUBLISH channel message. The backend tap forwards the ping to protocol
// subscribers; the reply does not count them.
func cmdPublish(ctx context.Context, s *Server, conn redcon.Conn, args [][]byte) {
	if len(args) != 2 {
		conn.WriteError(errWrongArgs("publish"))
		return
	}
	if err := s.backend.Publish(ctx, string(args[0])); err != nil {
		s.writeErr(conn, "publish", err)
		return
	}
	conn.WriteInt(0)
}

func cmdSubscribe(_ context.Context, s *Server, conn redcon.Conn, args [][]byte) {
	if len(args) == 0 {
		conn.WriteError(errWrongArgs("subscribe"))
		return
	}
	for _, ch := range args {
		s.ps.Subscribe(conn, string(ch))
	}
}
