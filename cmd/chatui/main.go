package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/health"
	"goa.design/clue/log"
	"goa.design/pulse/rmap"

	historymongo "goa.design/chatui/features/history/mongo"
	clientsmongo "goa.design/chatui/features/history/mongo/clients/mongo"
	"goa.design/chatui/features/model/anthropic"
	"goa.design/chatui/features/model/middleware"
	"goa.design/chatui/features/model/openai"
	chatpulse "goa.design/chatui/features/stream/pulse"
	clientspulse "goa.design/chatui/features/stream/pulse/clients/pulse"
	"goa.design/chatui/runtime/agent/loop"
	"goa.design/chatui/runtime/agent/model"
	"goa.design/chatui/runtime/agent/telemetry"
	"goa.design/chatui/runtime/chatui/history"
	"goa.design/chatui/runtime/chatui/history/inmem"
	"goa.design/chatui/runtime/chatui/server"
	"goa.design/chatui/runtime/chatui/stream"
)

// rateLimitMapName is the Pulse replicated map sharing model budgets.
const rateLimitMapName = "chatui-ratelimit"

func main() {
	var (
		configF = flag.String("config", "", "Path to the YAML configuration file")
		addrF   = flag.String("addr", "", "HTTP listen address (overrides the configuration file)")
		dbgF    = flag.Bool("debug", false, "Enable debug logs and mount debug endpoints")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	cfg, err := loadConfig(*configF)
	if err != nil {
		log.Fatalf(ctx, err, "invalid configuration")
	}
	if *addrF != "" {
		cfg.Addr = *addrF
	}
	log.Print(ctx, log.KV{K: "addr", V: cfg.Addr}, log.KV{K: "provider", V: cfg.Model.Provider}, log.KV{K: "model", V: cfg.Model.ID})

	var (
		logger  = telemetry.NewClueLogger()
		metrics = telemetry.NewClueMetrics()
		tracer  = telemetry.NewClueTracer()
		closers []func(context.Context) error
		pingers []health.Pinger
	)

	var rdb *redis.Client
	if cfg.Pulse.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Pulse.RedisAddr})
		pingers = append(pingers, redisPinger{rdb})
		closers = append(closers, func(context.Context) error { return rdb.Close() })
	}

	store, err := newHistoryStore(ctx, cfg.History, &closers, &pingers)
	if err != nil {
		log.Fatalf(ctx, err, "failed to create history store")
	}

	client, err := newModelClient(ctx, cfg.Model, rdb, logger, metrics)
	if err != nil {
		log.Fatalf(ctx, err, "failed to create model client")
	}

	agentOpts := loop.Options{
		Client:      client,
		Model:       cfg.Model.ID,
		System:      cfg.Model.System,
		Tools:       builtinTools(time.Now),
		MaxTokens:   cfg.Model.MaxTokens,
		Temperature: cfg.Model.Temperature,
		MaxSteps:    cfg.Model.MaxSteps,
		Logger:      logger,
	}
	if cfg.Artifacts {
		agentOpts.Output = codeOutputTool()
	}
	agent, err := loop.New(agentOpts)
	if err != nil {
		log.Fatalf(ctx, err, "failed to create agent")
	}

	srvOpts := server.Options{
		Agent:        agent,
		History:      store,
		ToolMessages: cfg.ToolMessages,
		Logger:       logger,
		Metrics:      metrics,
		Tracer:       tracer,
	}
	if rdb != nil {
		pc, err := clientspulse.New(clientspulse.Options{
			Redis:            rdb,
			StreamMaxLen:     cfg.Pulse.StreamMaxLen,
			OperationTimeout: 5 * time.Second,
		})
		if err != nil {
			log.Fatalf(ctx, err, "failed to create pulse client")
		}
		streams, err := chatpulse.NewChatStreams(chatpulse.ChatStreamsOptions{Client: pc})
		if err != nil {
			log.Fatalf(ctx, err, "failed to create chat streams")
		}
		srvOpts.Mirror = func(_ context.Context, chatID string) (stream.Sink, error) {
			return streams.Sink(chatID)
		}
		// Closers run in reverse order: Pulse before Redis.
		closers = append(closers, streams.Close)
	}
	srv, err := server.New(srvOpts)
	if err != nil {
		log.Fatalf(ctx, err, "failed to create chat server")
	}

	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)

	handleHTTPServer(ctx, cfg.Addr, srv, health.NewChecker(pingers...), &wg, errc, *dbgF)

	log.Printf(ctx, "exiting (%v)", <-errc)
	cancel()
	wg.Wait()

	shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer done()
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](shutdownCtx); err != nil {
			log.Errorf(ctx, err, "failed to release resource")
		}
	}
	log.Printf(ctx, "exited")
}

// newHistoryStore returns the configured chat history store. Resources it
// opens are registered in closers and pingers.
func newHistoryStore(ctx context.Context, cfg historyConfig, closers *[]func(context.Context) error, pingers *[]health.Pinger) (history.Store, error) {
	if cfg.Backend != backendMongo {
		return inmem.New(), nil
	}
	mc, err := mongodriver.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	*closers = append(*closers, mc.Disconnect)
	store, err := historymongo.NewStoreFromMongo(clientsmongo.Options{
		Client:     mc,
		Database:   cfg.Database,
		Collection: cfg.Collection,
		Timeout:    cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	*pingers = append(*pingers, store)
	log.Print(ctx, log.KV{K: "history", V: "mongo"}, log.KV{K: "database", V: cfg.Database})
	return store, nil
}

// newModelClient builds the provider client and wraps it with the adaptive
// rate limiter when a budget is configured. With Redis available the budget
// is shared by every process serving the same model.
func newModelClient(ctx context.Context, cfg modelConfig, rdb *redis.Client, logger telemetry.Logger, metrics telemetry.Metrics) (model.Client, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("environment variable %s is not set", cfg.APIKeyEnv)
	}
	var (
		client model.Client
		err    error
	)
	switch cfg.Provider {
	case providerAnthropic:
		client, err = anthropic.NewFromAPIKey(apiKey, cfg.ID)
	case providerOpenAI:
		client, err = openai.NewFromAPIKey(apiKey, cfg.ID)
	default:
		err = fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.TokensPerMinute <= 0 {
		return client, nil
	}
	opts := middleware.RateLimitOptions{
		InitialTPM: cfg.TokensPerMinute,
		MaxTPM:     cfg.TokensPerMinute,
		Key:        cfg.Provider + ":" + cfg.ID,
		Logger:     logger,
		Metrics:    metrics,
	}
	if rdb != nil {
		m, err := rmap.Join(ctx, rateLimitMapName, rdb)
		if err != nil {
			return nil, fmt.Errorf("join rate limit map: %w", err)
		}
		opts.Map = m
	}
	return middleware.NewAdaptiveRateLimiter(ctx, opts).Middleware()(client), nil
}

// redisPinger reports the Redis connection health.
type redisPinger struct {
	rdb *redis.Client
}

func (p redisPinger) Name() string { return "redis" }

func (p redisPinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }
