// Package client contains Cobra CLI commands for mediaflo.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	transports "github.com/rzbill/mediaflo/internal/cmd/client/transports"
	"github.com/rzbill/mediaflo/internal/media"
	streamsvc "github.com/rzbill/mediaflo/internal/services/streams"
	"github.com/rzbill/mediaflo/internal/streamlog"
	"github.com/rzbill/mediaflo/pkg/id"
)

// errLimitReached stops a read once --limit parts were printed.
var errLimitReached = errors.New("limit reached")

// NewStreamCommand constructs the `stream` command group and subcommands.
func NewStreamCommand() *cobra.Command {
	streamCmd := &cobra.Command{Use: "stream", Short: "Stream operations"}
	streamCmd.PersistentFlags().String("transport", "grpc", "Transport: grpc|http")
	streamCmd.PersistentFlags().String("token", "", "Bearer token (default $MEDIAFLO_TOKEN)")

	streamCmd.AddCommand(
		newStreamPublishCommand(),
		newStreamReadCommand(),
		newStreamNextCommand(),
		newStreamInfoCommand(),
	)
	return streamCmd
}

func transportFromFlags(cmd *cobra.Command) (transports.StreamsTransport, error) {
	name, _ := cmd.Flags().GetString("transport")
	token, _ := cmd.Flags().GetString("token")
	return getTransport(name, token)
}

// newStreamPublishCommand constructs the `stream publish` subcommand.
func newStreamPublishCommand() *cobra.Command {
	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "Ingest one stream from --data items or a file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			kindStr, _ := cmd.Flags().GetString("kind")
			format, _ := cmd.Flags().GetString("format")
			idStr, _ := cmd.Flags().GetString("id")
			data, _ := cmd.Flags().GetStringArray("data")
			file, _ := cmd.Flags().GetString("file")
			chunk, _ := cmd.Flags().GetInt("chunk-size")
			lines, _ := cmd.Flags().GetBool("lines")

			kind, err := media.ParseKind(kindStr)
			if err != nil {
				return err
			}
			rec := media.Record{Kind: kind, Format: format}
			if idStr != "" {
				if rec.ID, err = id.Parse(idStr); err != nil {
					return fmt.Errorf("invalid --id: %w", err)
				}
			}
			if len(data) > 0 && file != "" {
				return errors.New("use either --data or --file")
			}
			if chunk <= 0 {
				return errors.New("--chunk-size must be positive")
			}
			if file != "" && file != "-" {
				if _, err := os.Stat(file); err != nil {
					return err
				}
			}
			t, err := transportFromFlags(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			items := make(chan []byte)
			srcErr := make(chan error, 1)
			go func() {
				defer close(items)
				srcErr <- produceItems(ctx, cmd.InOrStdin(), data, file, chunk, lines, items)
			}()

			res, err := t.Ingest(ctx, rec, items, func(sid id.ID) {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "stream:", sid)
			})
			cancel()
			if err != nil {
				return err
			}
			if err := <-srcErr; err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{"id": res.ID.String(), "items": res.Items})
		},
	}
	publishCmd.Flags().String("kind", "generic", "Stream kind: generic|audio|transcript")
	publishCmd.Flags().String("format", "", "Media format, e.g. webm")
	publishCmd.Flags().String("id", "", "Preset stream id (hex)")
	publishCmd.Flags().StringArray("data", nil, "Item payload (repeatable)")
	publishCmd.Flags().String("file", "", "Read items from a file; - for stdin")
	publishCmd.Flags().Int("chunk-size", 32*1024, "Bytes per item when reading a file")
	publishCmd.Flags().Bool("lines", false, "One item per line when reading a file")
	return publishCmd
}

// produceItems feeds items from data, or from file split into chunks or
// lines.
func produceItems(ctx context.Context, stdin io.Reader, data []string, file string, chunk int, lines bool, items chan<- []byte) error {
	send := func(b []byte) error {
		select {
		case items <- b:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if file == "" {
		for _, d := range data {
			if err := send([]byte(d)); err != nil {
				return err
			}
		}
		return nil
	}
	var r io.Reader = stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	if lines {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), 1<<20)
		for sc.Scan() {
			if err := send(append([]byte(nil), sc.Bytes()...)); err != nil {
				return err
			}
		}
		return sc.Err()
	}
	br := bufio.NewReaderSize(r, chunk)
	for {
		buf := make([]byte, chunk)
		n, err := io.ReadFull(br, buf)
		if n > 0 {
			if serr := send(buf[:n]); serr != nil {
				return serr
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// newStreamReadCommand constructs the `stream read` subcommand.
func newStreamReadCommand() *cobra.Command {
	readCmd := &cobra.Command{
		Use:   "read <stream-id>",
		Short: "Read a stream from its first part until it completes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sid, err := id.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid stream id: %w", err)
			}
			skip, _ := cmd.Flags().GetInt("skip")
			filter, _ := cmd.Flags().GetString("filter")
			start, _ := cmd.Flags().GetString("start")
			consumer, _ := cmd.Flags().GetString("consumer")
			durable, _ := cmd.Flags().GetBool("durable")
			limit, _ := cmd.Flags().GetInt("limit")
			raw, _ := cmd.Flags().GetBool("raw")

			opts := streamsvc.ReadOptions{Skip: skip, Filter: filter, Consumer: consumer, Durable: durable}
			if start != "" {
				if opts.Start, err = streamlog.ParsePosition(start); err != nil {
					return fmt.Errorf("invalid --start: %w", err)
				}
			}
			t, err := transportFromFlags(cmd)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			var n int64
			err = t.Read(cmd.Context(), sid, opts, func(data []byte) error {
				if raw {
					if _, err := out.Write(data); err != nil {
						return err
					}
				} else if err := enc.Encode(decodedPart(n, data)); err != nil {
					return err
				}
				n++
				if limit > 0 && n >= int64(limit) {
					return errLimitReached
				}
				return nil
			})
			if errors.Is(err, errLimitReached) {
				return nil
			}
			return err
		},
	}
	readCmd.Flags().Int("skip", 0, "Skip the first N parts")
	readCmd.Flags().String("filter", "", "CEL filter over index, size, data, text, json")
	readCmd.Flags().String("start", "", "Resume after a log position (ms-seq)")
	readCmd.Flags().String("consumer", "", "Checkpoint progress under this consumer name")
	readCmd.Flags().Bool("durable", false, "Always read from the durable log")
	readCmd.Flags().Int("limit", 0, "Stop after N parts (0 = until the stream ends)")
	readCmd.Flags().Bool("raw", false, "Write part bytes to stdout instead of JSON lines")
	return readCmd
}

// newStreamNextCommand constructs the `stream next` subcommand.
func newStreamNextCommand() *cobra.Command {
	nextCmd := &cobra.Command{
		Use:   "next",
		Short: "Wait for the next announced stream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			timeout, _ := cmd.Flags().GetDuration("timeout")
			t, err := transportFromFlags(cmd)
			if err != nil {
				return err
			}
			wait := timeout
			if ht, ok := t.(*transports.HTTPTransport); ok {
				// The server ends the long poll; leave room for the reply.
				ht.NextWait = timeout
				wait = timeout + 5*time.Second
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()
			rec, err := t.Next(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}
	nextCmd.Flags().Duration("timeout", 30*time.Second, "How long to wait")
	return nextCmd
}

// newStreamInfoCommand constructs the `stream info` subcommand.
func newStreamInfoCommand() *cobra.Command {
	infoCmd := &cobra.Command{
		Use:   "info <stream-id>",
		Short: "Show how many log entries a stream has",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sid, err := id.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid stream id: %w", err)
			}
			t, err := transportFromFlags(cmd)
			if err != nil {
				return err
			}
			info, err := t.Info(cmd.Context(), sid)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}
	return infoCmd
}
