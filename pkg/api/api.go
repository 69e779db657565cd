package api

import (
	"context"
	"github.com/andreikom/ac-observator/pkg/broker"
	"github.com/andreikom/ac-observator/pkg/metrics"
	"github.com/andreikom/ac-observator/pkg/observation"
	"github.com/andreikom/ac-observator/pkg/storage"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
)

// Start runs the sensor server until ctx is done.
func Start(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	driver, err := storage.InitStorage(storage.Kind(cfg.Storage.Kind), cfg.Storage.Path, logger)
	if err != nil {
		return err
	}
	defer driver.Close()

	queue, err := openQueue(cfg, logger)
	if err != nil {
		return err
	}
	defer queue.Close()

	m := metrics.NewMetrics()
	live := broker.NewBroker()
	go live.Start()
	defer live.Stop()

	opts := []observation.Option{
		observation.WithRetention(cfg.Retention.Keep),
		observation.WithCleanupInterval(cfg.Retention.CleanupInterval),
		observation.WithPublisher(live),
		observation.WithMetrics(m),
		observation.WithLogger(logger),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		sink := observation.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer sink.Close()
		opts = append(opts, observation.WithSink(sink))
		logger.Info("forwarding observed values to kafka", "topic", cfg.Kafka.Topic)
	}
	service, err := observation.NewService(driver, queue, opts...)
	if err != nil {
		return errors.Wrap(err, "init observation service")
	}

	if cfg.Mqtt.Broker != "" {
		client, err := observation.ConnectMQTT(cfg.Mqtt.Broker, cfg.Mqtt.ClientId)
		if err != nil {
			return err
		}
		source := observation.NewMQTTSource(client, cfg.Mqtt.TopicPrefix, service, logger)
		if err := source.Start(ctx); err != nil {
			client.Disconnect(250)
			return err
		}
		defer source.Stop()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 3)
	wg := new(sync.WaitGroup)
	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := service.Run(ctx); err != nil {
			errCh <- err
		}
	}()
	go func() {
		defer wg.Done()
		if err := startHttpServer(ctx, cfg, NewRouter(cfg, service, live, m, logger), logger); err != nil {
			errCh <- err
		}
	}()
	go func() {
		defer wg.Done()
		if err := startGrpcServer(ctx, cfg, service, logger); err != nil {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		cancel()
	}
	wg.Wait()
	logger.Info("sensor server stopped")
	return runErr
}

func openQueue(cfg *Config, logger *slog.Logger) (observation.Queue, error) {
	if cfg.Amqp.Url == "" {
		logger.Info("no amqp url configured, using in-process queue")
		return observation.NewLocalQueue(1024), nil
	}
	conn, ch, err := observation.DialAMQP(cfg.Amqp.Url)
	if err != nil {
		return nil, err
	}
	queue, err := observation.NewAMQPQueue(ch, cfg.Amqp.Queue)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	logger.Info("connected to rabbitmq", "queue", cfg.Amqp.Queue)
	return &amqpConnQueue{AMQPQueue: queue, closeConn: conn.Close}, nil
}

// amqpConnQueue also closes the connection the channel lives on.
type amqpConnQueue struct {
	*observation.AMQPQueue
	closeConn func() error
}

func (q *amqpConnQueue) Close() error {
	err := q.AMQPQueue.Close()
	if cerr := q.closeConn(); err == nil {
		err = cerr
	}
	return err
}

func startHttpServer(ctx context.Context, cfg *Config, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: readTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", "err", err)
		}
	}()
	logger.Info("starting sensor server", "port", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server")
	}
	return nil
}

func startGrpcServer(ctx context.Context, cfg *Config, service observationService, logger *slog.Logger) error {
	grpcListener, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Server.GrpcPort))
	if err != nil {
		return errors.Wrap(err, "listen for grpc server")
	}
	grpcServer := grpc.NewServer()
	RegisterObservatorServer(grpcServer, &observatorGrpc{service: service})
	go func() {
		<-ctx.Done()
		grpcServer.GracefulStop()
	}()
	logger.Info("starting grpc server", "port", cfg.Server.GrpcPort)
	if err := grpcServer.Serve(grpcListener); err != nil {
		return errors.Wrap(err, "grpc server")
	}
	return nil
}

// Seed creates the default sensor types in the configured storage.
func Seed(cfg *Config, logger *slog.Logger) ([]string, error) {
	driver, err := storage.InitStorage(storage.Kind(cfg.Storage.Kind), cfg.Storage.Path, logger)
	if err != nil {
		return nil, err
	}
	defer driver.Close()
	service, err := observation.NewService(driver, observation.NewLocalQueue(1), observation.WithLogger(logger))
	if err != nil {
		return nil, errors.Wrap(err, "seed sensor types")
	}
	types := service.SensorTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t.Name) + " (" + t.Unit + ")"
	}
	return names, nil
}
