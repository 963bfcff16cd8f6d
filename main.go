package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/IliaW/page-renderer/config"
	"github.com/IliaW/page-renderer/internal/api"
	"github.com/IliaW/page-renderer/internal/aws_s3"
	"github.com/IliaW/page-renderer/internal/broker"
	"github.com/IliaW/page-renderer/internal/browser"
	cacheClient "github.com/IliaW/page-renderer/internal/cache"
	"github.com/IliaW/page-renderer/internal/handler"
	"github.com/IliaW/page-renderer/internal/model"
	"github.com/IliaW/page-renderer/internal/persistence"
	"github.com/IliaW/page-renderer/internal/renderer"
	"github.com/IliaW/page-renderer/internal/telemetry"
	"github.com/IliaW/page-renderer/internal/worker"
	_ "github.com/lib/pq"
	"github.com/lmittmann/tint"
)

var (
	cfg          *config.Config
	db           *sql.DB
	s3           aws_s3.BucketClient
	cache        cacheClient.CachedClient
	metadataRepo persistence.MetadataStorage
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg = config.MustLoad()
	setupLogger()
	metrics := telemetry.SetupMetrics(context.Background(), cfg)
	defer metrics.Close()

	if cfg.DbSettings.Enabled {
		db = setupDatabase()
		defer closeDatabase()
		metadataRepo = persistence.NewMetadataRepository(db)
	}
	if cfg.S3Settings.Enabled {
		s3 = aws_s3.NewS3BucketClient(cfg)
	}
	if cfg.CacheSettings.Enabled {
		mc := cacheClient.NewMemcachedClient(cfg.CacheSettings)
		defer mc.Close()
		cache = mc
	}

	supervisor := browser.NewSupervisor(cfg.BrowserSettings)
	service := renderer.NewService(func(ctx context.Context) (renderer.Page, error) {
		session, err := supervisor.Launch(ctx)
		if err != nil {
			return nil, err
		}
		return session, nil
	}, cfg.RenderSettings, metrics.RenderMetrics)

	archiver := &worker.Archiver{
		S3:      s3,
		Bucket:  cfg.S3Settings.BucketName,
		Db:      metadataRepo,
		Cache:   cache,
		Version: cfg.Version,
	}
	slog.Info("starting application.", slog.String("env", cfg.Env), slog.String("transport", cfg.Transport),
		slog.String("version", cfg.Version))

	switch strings.ToLower(cfg.Transport) {
	case "lambda":
		handler.NewLambdaHandler(service, archiver).Start()
	case "http":
		serveHttp(ctx, api.NewRouter(service, archiver, cfg))
	case "kafka":
		consumeKafka(ctx, service, archiver, metrics)
	default:
		slog.Error("unknown transport.", slog.String("transport", cfg.Transport))
		os.Exit(1)
	}
}

func serveHttp(ctx context.Context, h http.Handler) {
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: h,
	}
	go func() {
		slog.Info("starting http server on port " + cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error.", slog.String("err", err.Error()))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("stopping server...")
	// In-flight renders are bounded by the render deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.RenderSettings.Timeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown http server.", slog.String("err", err.Error()))
	}
	slog.Info("server stopped.")
}

func consumeKafka(ctx context.Context, service *renderer.Service, archiver *worker.Archiver,
	metrics *telemetry.MetricsProvider) {
	kafkaDLQ := broker.NewKafkaDLQ(cfg.ServiceName, cfg.KafkaSettings.Producer)
	defer kafkaDLQ.Close()

	threadNum := parallelWorkers()
	requestChan := make(chan []byte, threadNum*2)
	noticeChan := make(chan *model.RenderNotice, threadNum*2)

	kafkaWg := &sync.WaitGroup{}
	kafkaWg.Add(1)
	kafkaConsumer := broker.NewKafkaConsumer(requestChan, metrics.KafkaConsumerMetrics,
		cfg.KafkaSettings.Consumer, kafkaWg)
	go kafkaConsumer.Run(ctx)

	workerWg := &sync.WaitGroup{}
	renderWorker := &worker.RenderWorker{
		RequestChan: requestChan,
		NoticeChan:  noticeChan,
		Renderer:    service,
		Archiver:    archiver,
		DLQ:         kafkaDLQ,
		Wg:          workerWg,
	}
	for i := 0; i < threadNum; i++ {
		workerWg.Add(1)
		go renderWorker.Run()
	}

	kafkaWg.Add(1)
	kafkaProducer := broker.NewKafkaProducer(noticeChan, metrics.KafkaProducerMetrics,
		cfg.KafkaSettings.Producer, kafkaWg)
	go kafkaProducer.Run()

	go healthCheckHandler()

	// Graceful shutdown.
	// 1. Stop Kafka Consumer by system call. Close requestChan
	// 2. Wait till all Workers rendered all messages from requestChan. Close noticeChan
	// 3. Wait till Producer process all messages from noticeChan and write to Kafka. Stop Kafka Producer
	// 4. Close DLQ, database and memcached connections
	<-ctx.Done()
	slog.Info("stopping server...")
	workerWg.Wait()
	close(noticeChan)
	slog.Info("close noticeChan.")
	kafkaWg.Wait()
	slog.Info("server stopped.")
}

func setupLogger() *slog.Logger {
	envLogLevel := strings.ToLower(cfg.LogLevel)
	var slogLevel slog.Level
	err := slogLevel.UnmarshalText([]byte(envLogLevel))
	if err != nil {
		log.Printf("encountenred log level: '%s'. The package does not support custom log levels", envLogLevel)
		slogLevel = slog.LevelDebug
	}
	log.Printf("slog level overwritten to '%v'", slogLevel)
	slog.SetLogLoggerLevel(slogLevel)

	replaceAttrs := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source := a.Value.Any().(*slog.Source)
			source.File = filepath.Base(source.File)
		}
		return a
	}

	var logger *slog.Logger
	if strings.ToLower(cfg.LogType) == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			AddSource:   true,
			Level:       slogLevel,
			ReplaceAttr: replaceAttrs}))
	} else {
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			AddSource:   true,
			Level:       slogLevel,
			ReplaceAttr: replaceAttrs,
			NoColor:     cfg.Env != "local"}))
	}

	slog.SetDefault(logger)
	logger.Debug("debug messages are enabled.")

	return logger
}

func setupDatabase() *sql.DB {
	slog.Info("connecting to the database...")
	connStr := fmt.Sprintf("user=%s password=%s host=%s port=%s dbname=%s sslmode=disable",
		cfg.DbSettings.User,
		cfg.DbSettings.Password,
		cfg.DbSettings.Host,
		cfg.DbSettings.Port,
		cfg.DbSettings.Name,
	)
	database, err := sql.Open("postgres", connStr)
	if err != nil {
		slog.Error("failed to establish database connection.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	database.SetConnMaxLifetime(cfg.DbSettings.ConnMaxLifetime)
	database.SetMaxOpenConns(cfg.DbSettings.MaxOpenConns)
	database.SetMaxIdleConns(cfg.DbSettings.MaxIdleConns)

	maxRetry := 6
	for i := 1; i <= maxRetry; i++ {
		slog.Info("ping the database.", slog.String("attempt", fmt.Sprintf("%d/%d", i, maxRetry)))
		pingErr := database.Ping()
		if pingErr == nil {
			break
		}
		slog.Error("not responding.", slog.String("err", pingErr.Error()))
		if i == maxRetry {
			slog.Error("failed to establish database connection.")
			os.Exit(1)
		}
		slog.Info(fmt.Sprintf("wait %d seconds", 5*i))
		time.Sleep(time.Duration(5*i) * time.Second)
	}
	slog.Info("connected to the database!")

	return database
}

func closeDatabase() {
	slog.Info("closing database connection.")
	err := db.Close()
	if err != nil {
		slog.Error("failed to close database connection.", slog.String("err", err.Error()))
	}
}

// Set -1 to use all available CPUs. Every worker runs its own browser.
func parallelWorkers() int {
	customNumCPU := cfg.WorkerSettings.WorkersNum
	if customNumCPU == -1 {
		return runtime.NumCPU()
	}
	if customNumCPU <= 0 {
		slog.Error("workers number is 0 or less than -1")
		os.Exit(1)
	}

	return customNumCPU
}

func healthCheckHandler() {
	http.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	})
	if err := http.ListenAndServe(":"+cfg.Port, nil); err != nil {
		slog.Error("http server error", slog.String("err", err.Error()))
	}
}
