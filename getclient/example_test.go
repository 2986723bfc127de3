package getclient_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kroma-labs/streamget-go/decompress"
	"github.com/kroma-labs/streamget-go/getclient"
)

func Example() {
	ctx := context.Background()

	// Package-level Get uses a shared default agent. The stream comes back
	// before the network round-trip completes; failures surface from Read.
	stream := getclient.Get(ctx, "https://example.com/export.csv.gz")
	defer stream.Close()

	data, err := io.ReadAll(stream) // decompressed bytes
	if err != nil {
		panic(err)
	}
	fmt.Println(len(data))
}

func Example_tunedAgent() {
	cfg := getclient.DefaultAgentConfig()
	cfg.Connections = 32
	cfg.HeadersTimeout = 5 * time.Second

	agent := getclient.NewAgent(
		getclient.WithAgentConfig(cfg),
		getclient.WithServiceName("feed-fetcher"),
	)
	defer agent.Close()

	stream := agent.Get(context.Background(), "https://example.com/feed.json")
	defer stream.Close()

	var feed struct {
		Items []string `json:"items"`
	}
	if err := stream.JSON(&feed); err != nil {
		panic(err)
	}
}

func Example_errorHandling() {
	stream := getclient.Get(context.Background(), "https://example.com/data")
	defer stream.Close()

	_, err := io.ReadAll(stream)

	var transportErr *getclient.TransportError
	var decodeErr *decompress.DecodeError
	switch {
	case errors.As(err, &transportErr):
		fmt.Println("network failed:", transportErr.URL)
	case errors.As(err, &decodeErr):
		fmt.Println("payload corrupt:", decodeErr.Format)
	}
}

func ExampleStream_Status() {
	stream := getclient.Get(context.Background(), "https://example.com/missing")
	defer stream.Close()

	// Non-2xx is not an error; the body streams and decompresses normally.
	if stream.Status() == http.StatusNotFound {
		body, _ := stream.String()
		fmt.Println(body)
	}
}
