// Command rpcclient is a tiny demo client: it dials a host, connects to
// the "Echo" service, and invokes one operation — exercising
// internal/client end to end. It is explicitly NOT the interactive
// shell described in spec.md §1/§6 (screen buffer, table/tree
// rendering, key-handler), which remains an external collaborator out
// of scope for this repo.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/veloxdb/rpc/examples/echo"
	"github.com/veloxdb/rpc/internal/client"
	protoerr "github.com/veloxdb/rpc/internal/errors"
	"github.com/veloxdb/rpc/internal/transport/conn"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9443", "rpchost address")
	message := flag.String("message", "hello from rpcclient", "argument to Echo")
	timeout := flag.Duration("timeout", 5*time.Second, "overall call timeout")
	flag.Parse()

	c, err := client.Dial(*addr, conn.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	proxy, err := client.Connect(ctx, c, echo.ServiceName, echo.New(), reflect.TypeOf(protoerr.OperationError{}))
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}

	result, err := proxy.Invoke(ctx, "Echo", *message)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invoke: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(result)
}
