// Command testclient drives a running gateway from the command line.
//
//	testclient health
//	testclient calls
//	testclient listen -call <id> [-max 10s] [-silence 1s]
//	testclient utterances [-call <id>]
//	testclient utterance -id <id>
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	grpcapi "github.com/voicebridge/call-gateway/internal/api/grpc"
)

type client struct {
	base string
	http *http.Client
}

func main() {
	server := flag.String("server", "http://localhost:3000", "Gateway HTTP base URL")
	grpcAddr := flag.String("grpc", "localhost:50051", "Gateway gRPC address")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: testclient [flags] health|calls|listen|utterances|utterance [args]")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	c := &client{base: *server, http: &http.Client{Timeout: 10 * time.Second}}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	args := flag.Args()[1:]
	switch flag.Arg(0) {
	case "health":
		err = checkHealth(ctx, *grpcAddr)
	case "calls":
		err = c.get(ctx, "/v1/calls")
	case "listen":
		err = c.listen(ctx, args)
	case "utterances":
		fs := flag.NewFlagSet("utterances", flag.ExitOnError)
		callId := fs.String("call", "", "Only utterances for this call")
		_ = fs.Parse(args)
		path := "/v1/utterances"
		if *callId != "" {
			path += "?callId=" + url.QueryEscape(*callId)
		}
		err = c.get(ctx, path)
	case "utterance":
		fs := flag.NewFlagSet("utterance", flag.ExitOnError)
		id := fs.String("id", "", "Utterance ID")
		_ = fs.Parse(args)
		if *id == "" {
			err = fmt.Errorf("-id is required")
			break
		}
		err = c.get(ctx, "/v1/utterances/"+url.PathEscape(*id))
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func checkHealth(ctx context.Context, addr string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: grpcapi.ServiceName})
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	fmt.Println(resp.GetStatus().String())
	return nil
}

func (c *client) listen(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("listen", flag.ExitOnError)
	callId := fs.String("call", "", "Call ID")
	maxDuration := fs.Duration("max", 0, "Maximum window duration (0 for the gateway default)")
	maxSilence := fs.Duration("silence", 0, "Silence that ends the window (0 for the gateway default)")
	_ = fs.Parse(args)
	if *callId == "" {
		return fmt.Errorf("-call is required")
	}

	body, err := json.Marshal(map[string]int64{
		"timeoutMs":    maxDuration.Milliseconds(),
		"maxSilenceMs": maxSilence.Milliseconds(),
	})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/v1/calls/"+url.PathEscape(*callId)+"/listen", bytes.NewReader(body))
}

func (c *client) get(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *client) do(ctx context.Context, method, path string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, out, "", "  ") == nil {
		out = pretty.Bytes()
	}
	fmt.Println(string(out))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	return nil
}
