package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/corpus-router/internal/infrastructure/resilience"
)

const workerQueueGroup = "corpus-workers"

// Notifier carries corpus rebuild requests to workers and persisted
// notifications to every API replica.
type Notifier struct {
	conn             *nats.Conn
	rebuildSubject   string
	persistedSubject string
	executor         *resilience.Executor
	logger           *slog.Logger
}

type Options struct {
	RebuildSubject       string
	PersistedSubject     string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

type rebuildRequested struct {
	DataPath    string    `json:"data_path"`
	RequestedAt time.Time `json:"requested_at"`
}

type corpusPersisted struct {
	BuiltAt time.Time `json:"built_at"`
}

func New(url string, options Options) (*Notifier, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rebuildSubject := options.RebuildSubject
	if rebuildSubject == "" {
		rebuildSubject = "corpus.rebuild"
	}
	persistedSubject := options.PersistedSubject
	if persistedSubject == "" {
		persistedSubject = "corpus.persisted"
	}

	conn, err := nats.Connect(
		url,
		nats.Name("corpus-router"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Notifier{
		conn:             conn,
		rebuildSubject:   rebuildSubject,
		persistedSubject: persistedSubject,
		executor:         options.ResilienceExecutor,
		logger:           logger,
	}, nil
}

func (n *Notifier) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}

func (n *Notifier) PublishRebuildRequested(ctx context.Context, dataPath string) error {
	return n.publish(ctx, n.rebuildSubject, rebuildRequested{DataPath: dataPath, RequestedAt: time.Now().UTC()})
}

func (n *Notifier) PublishCorpusPersisted(ctx context.Context, builtAt time.Time) error {
	return n.publish(ctx, n.persistedSubject, corpusPersisted{BuiltAt: builtAt.UTC()})
}

// SubscribeRebuildRequested load-balances requests across workers and blocks until ctx ends.
func (n *Notifier) SubscribeRebuildRequested(ctx context.Context, handler func(context.Context, string) error) error {
	return n.subscribe(ctx, n.rebuildSubject, workerQueueGroup, func(ctx context.Context, data []byte) error {
		var msg rebuildRequested
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("decode rebuild request: %w", err)
		}
		return handler(ctx, msg.DataPath)
	})
}

// SubscribeCorpusPersisted delivers every notification to this process and blocks until ctx ends.
func (n *Notifier) SubscribeCorpusPersisted(ctx context.Context, handler func(context.Context, time.Time) error) error {
	return n.subscribe(ctx, n.persistedSubject, "", func(ctx context.Context, data []byte) error {
		var msg corpusPersisted
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("decode persisted notification: %w", err)
		}
		return handler(ctx, msg.BuiltAt)
	})
}

func (n *Notifier) publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	err = n.executor.Execute(ctx, "nats.publish", func(_ context.Context) error {
		if err := n.conn.Publish(subject, data); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}, classifyNATSError)
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

func (n *Notifier) subscribe(ctx context.Context, subject, queue string, handle func(context.Context, []byte) error) error {
	callback := func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handle(handlerCtx, msg.Data); err != nil {
			n.logger.Error("notification_handler_failed", "subject", subject, "error", err)
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if queue != "" {
		sub, err = n.conn.QueueSubscribe(subject, queue, callback)
	} else {
		sub, err = n.conn.Subscribe(subject, callback)
	}
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	if err := n.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := n.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
