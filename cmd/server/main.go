// Command server wires the chat pipeline, the duplex session handler, and
// their supporting runtimes (cluster, rate limiting, tool registry, MCP
// gateways) into one HTTP process.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/log"

	"github.com/fleetserve/servingplane/runtime/chat"
	"github.com/fleetserve/servingplane/runtime/cluster"
	"github.com/fleetserve/servingplane/runtime/duplex"
	"github.com/fleetserve/servingplane/runtime/ratelimit"
	"github.com/fleetserve/servingplane/runtime/telemetry"
	"github.com/fleetserve/servingplane/runtime/toolregistry"
	"github.com/fleetserve/servingplane/store/contract"
	"github.com/fleetserve/servingplane/store/memstore"
	"github.com/fleetserve/servingplane/store/mongostore"

	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		httpAddrF   = flag.String("http-addr", ":8080", "HTTP listen address")
		dbgF        = flag.Bool("debug", false, "log request and response detail")
		mongoURIF   = flag.String("mongo-uri", "", "MongoDB connection URI (falls back to an in-memory store when empty)")
		mongoDBF    = flag.String("mongo-db", "fleetserve", "MongoDB database name")
		redisAddrF  = flag.String("redis-addr", "", "Redis address for the rate-limit durable store (falls back to cache-only when empty)")
		nodesF      = flag.String("nodes", "", "comma-separated node specs, each name=provider@host:port")
		mcpServersF = flag.String("mcp-servers", "", "comma-separated MCP server specs, each name=http://endpoint")
		heartbeatF  = flag.Duration("heartbeat", 30*time.Second, "duplex session heartbeat interval")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}
	logger := telemetry.NewClueLogger()

	store, closeStore, err := buildStore(ctx, *mongoURIF, *mongoDBF)
	if err != nil {
		log.Fatal(ctx, err)
	}
	defer closeStore()

	limiter := ratelimit.New(buildRateLimitStore(*redisAddrF), ratelimit.WithLogger(logger))

	clusterMgr := cluster.New(
		cluster.WithDialer(dialNode),
		cluster.WithLogger(logger),
	)
	clusterMgr.Start(ctx)
	defer clusterMgr.Stop()

	for _, spec := range splitNonEmpty(*nodesF) {
		name, provider, host, port, err := parseNodeSpec(spec)
		if err != nil {
			log.Fatal(ctx, fmt.Errorf("invalid -nodes entry %q: %w", spec, err))
		}
		if _, err := clusterMgr.AddNode(ctx, host, port, fmt.Sprintf("%s:%s", provider, name)); err != nil {
			log.Fatal(ctx, fmt.Errorf("add node %q: %w", spec, err))
		}
	}

	registry := toolregistry.New(toolregistry.WithLogger(logger))
	registerBuiltinTools(registry, clusterMgr)

	var mcpClients []*mcpClient
	for _, spec := range splitNonEmpty(*mcpServersF) {
		name, endpoint, ok := strings.Cut(spec, "=")
		if !ok {
			log.Fatal(ctx, fmt.Errorf("invalid -mcp-servers entry %q (want name=endpoint)", spec))
		}
		mc, err := connectMCPServer(ctx, name, endpoint, registry, logger)
		if err != nil {
			log.Fatal(ctx, fmt.Errorf("connect mcp server %q: %w", name, err))
		}
		mcpClients = append(mcpClients, mc)
	}
	defer func() {
		for _, mc := range mcpClients {
			_ = mc.client.Disconnect()
		}
	}()

	pipeline := chat.New(limiter, clusterMgr, store, chat.WithLogger(logger))

	handler := duplex.New(pipeline, clusterMgr, registry,
		duplex.WithLogger(logger),
		duplex.WithHeartbeatInterval(*heartbeatF),
	)
	handler.Start(ctx)
	defer handler.Stop()

	mux := http.NewServeMux()
	mux.Handle("/ws", handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	srv := &http.Server{Addr: *httpAddrF, Handler: mux}

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Print(ctx, log.KV{K: "http-addr", V: *httpAddrF})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	log.Printf(ctx, "exiting (%v)", <-errc)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	wg.Wait()
	log.Printf(ctx, "exited")
}

func buildStore(ctx context.Context, uri, dbName string) (contract.ConversationStore, func(), error) {
	if uri == "" {
		return memstore.New(), func() {}, nil
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}
	closeFn := func() { _ = client.Disconnect(context.Background()) }
	return mongostore.New(client.Database(dbName)), closeFn, nil
}

func buildRateLimitStore(redisAddr string) ratelimit.DurableStore {
	if redisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	return ratelimit.NewRedisStore(client)
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
