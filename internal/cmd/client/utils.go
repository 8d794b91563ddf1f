package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"unicode/utf8"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	transports "github.com/rzbill/mediaflo/internal/cmd/client/transports"
)

// grpcAddrFromEnv returns the gRPC server address from MEDIAFLO_GRPC or a default.
func grpcAddrFromEnv() string {
	if addr := os.Getenv("MEDIAFLO_GRPC"); addr != "" {
		return addr
	}
	return "127.0.0.1:50051"
}

// httpURLFromEnv returns the HTTP gateway URL from MEDIAFLO_HTTP or a default.
func httpURLFromEnv() string {
	if v := os.Getenv("MEDIAFLO_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}

// dialGRPCContext dials the gRPC endpoint with insecure transport for local/dev.
func dialGRPCContext(ctx context.Context) (*grpc.ClientConn, error) {
	return grpc.NewClient(grpcAddrFromEnv(), grpc.WithTransportCredentials(insecure.NewCredentials()))
}

// getTransport picks the transport named by --transport. The token falls
// back to MEDIAFLO_TOKEN.
func getTransport(name, token string) (transports.StreamsTransport, error) {
	if token == "" {
		token = os.Getenv("MEDIAFLO_TOKEN")
	}
	switch name {
	case "", "grpc":
		return transports.NewGrpcTransport(dialGRPCContext, token), nil
	case "http", "ws":
		return transports.NewHTTPTransport(httpURLFromEnv(), token), nil
	default:
		return nil, fmt.Errorf("unknown --transport %q; use grpc|http", name)
	}
}

// decodedPart returns a map with index and one of data_json, data_text, or data_b64.
func decodedPart(index int64, data []byte) map[string]any {
	out := map[string]any{"index": index}
	// Try JSON first if it looks like JSON
	if len(data) > 0 && (data[0] == '{' || data[0] == '[') {
		var v any
		if json.Unmarshal(data, &v) == nil {
			out["data_json"] = v
			return out
		}
	}
	if utf8.Valid(data) {
		out["data_text"] = string(data)
		return out
	}
	out["data_b64"] = base64.StdEncoding.EncodeToString(data)
	return out
}
