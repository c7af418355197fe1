package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	algoapp "github.com/wyfcoding/tradingengine/internal/algotrading/application"
	algodomain "github.com/wyfcoding/tradingengine/internal/algotrading/domain"
	engineapp "github.com/wyfcoding/tradingengine/internal/engine/application"
	enginedomain "github.com/wyfcoding/tradingengine/internal/engine/domain"
	enginemq "github.com/wyfcoding/tradingengine/internal/engine/infrastructure/mq"
	enginemysql "github.com/wyfcoding/tradingengine/internal/engine/infrastructure/persistence/mysql"
	engineredis "github.com/wyfcoding/tradingengine/internal/engine/infrastructure/persistence/redis"
	enginehttp "github.com/wyfcoding/tradingengine/internal/engine/interfaces/http"
	"github.com/wyfcoding/tradingengine/pkg/mq"

	"github.com/wyfcoding/pkg/app"
	"github.com/wyfcoding/pkg/cache"
	"github.com/wyfcoding/pkg/config"
	"github.com/wyfcoding/pkg/databases"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/pkg/metrics"
	"github.com/wyfcoding/pkg/middleware"
)

// BootstrapName 服务唯一标识
const BootstrapName = "tradingengine"

// Config 服务扩展配置
type Config struct {
	config.Config `mapstructure:",squash"`
	Trading       struct {
		Symbols             []string `mapstructure:"symbols" toml:"symbols"`
		QueueCapacity       uint64   `mapstructure:"queue_capacity" toml:"queue_capacity"`
		SnapshotDepth       int      `mapstructure:"snapshot_depth" toml:"snapshot_depth"`
		MakerFeeRate        string   `mapstructure:"maker_fee_rate" toml:"maker_fee_rate"`
		TakerFeeRate        string   `mapstructure:"taker_fee_rate" toml:"taker_fee_rate"`
		SelfTradePrevention bool     `mapstructure:"self_trade_prevention" toml:"self_trade_prevention"`
		MaxNotional         string   `mapstructure:"max_notional" toml:"max_notional"`
		MaxPositionSize     string   `mapstructure:"max_position_size" toml:"max_position_size"`
		MaxOpenOrders       int      `mapstructure:"max_open_orders" toml:"max_open_orders"`
		TickIntervalMS      int      `mapstructure:"tick_interval_ms" toml:"tick_interval_ms"`
		SnapshotTTLMS       int      `mapstructure:"snapshot_ttl_ms" toml:"snapshot_ttl_ms"`
		KafkaBrokers        []string `mapstructure:"kafka_brokers" toml:"kafka_brokers"`
	} `mapstructure:"trading" toml:"trading"`
}

// AppContext 应用上下文
type AppContext struct {
	Config      *Config
	Trading     *engineapp.TradingService
	Host        *algoapp.StrategyHost
	HTTPHandler *enginehttp.TradingHandler
	Metrics     *metrics.Metrics
}

func main() {
	if err := app.NewBuilder(BootstrapName).
		WithConfig(&Config{}).
		WithService(func(cfg any, m *metrics.Metrics) (any, func(), error) {
			return initService(cfg.(*Config), m)
		}).
		WithGin(func(e *gin.Engine, svc any) {
			registerGin(e, svc.(*AppContext))
		}).
		WithGinMiddleware(
			middleware.CORS(),
			middleware.TimeoutMiddleware(30*time.Second),
		).
		Build().
		Run(); err != nil {
		slog.Error("service bootstrap failed", "error", err)
	}
}

func registerGin(e *gin.Engine, ctx *AppContext) {
	if ctx.Config.Server.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	ctx.HTTPHandler.RegisterRoutes(e.Group(""))
}

func initService(cfg *Config, m *metrics.Metrics) (*AppContext, func(), error) {
	bootLog := slog.With("module", "bootstrap")
	logger := logging.Default()

	// 1. 数据库
	db, err := databases.NewDB(cfg.Data.Database, cfg.CircuitBreaker, logger, m)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init db: %w", err)
	}
	gormDB := db.RawDB()

	if err := gormDB.AutoMigrate(&enginemysql.OrderModel{}, &enginemysql.TradeModel{}); err != nil {
		return nil, nil, fmt.Errorf("failed to migrate tables: %w", err)
	}

	// 2. Redis 快照缓存
	redisCache, err := cache.NewRedisCache(cfg.Data.Redis, cfg.CircuitBreaker, logger, m)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init redis: %w", err)
	}
	snapshotRepo := engineredis.NewSnapshotRepository(redisCache.GetClient(),
		time.Duration(cfg.Trading.SnapshotTTLMS)*time.Millisecond)

	// 3. Kafka 事件总线
	producer, err := mq.NewProducer(mq.KafkaConfig{Brokers: cfg.Trading.KafkaBrokers})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init kafka producer: %w", err)
	}
	publisher := enginemq.NewKafkaPublisher(producer)

	// 4. 仓储与扇出
	orderRepo := enginemysql.NewOrderRepository(gormDB)
	tradeRepo := enginemysql.NewTradeRepository(gormDB)
	txManager := enginemysql.NewTxManager(gormDB)

	fanout, err := engineapp.NewFanout(cfg.Trading.QueueCapacity, orderRepo, tradeRepo, publisher, txManager, logger.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init fanout: %w", err)
	}

	// 5. 交易服务
	svcCfg, err := buildServiceConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	ledger := enginedomain.NewLedger()
	trading, err := engineapp.NewTradingService(svcCfg, ledger, fanout, orderRepo, tradeRepo, snapshotRepo, logger.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init trading service: %w", err)
	}
	if err := trading.Start(context.Background()); err != nil {
		return nil, nil, fmt.Errorf("failed to start trading service: %w", err)
	}

	// 6. 策略宿主
	host := algoapp.NewStrategyHost(trading, logger.Logger)
	host.Start()

	httpHandler := enginehttp.NewTradingHandler(trading)

	cleanup := func() {
		bootLog.Info("shutting down...")
		host.Stop()
		trading.Stop()
		if err := producer.Close(); err != nil {
			bootLog.Error("failed to close kafka producer", "error", err)
		}
		if err := db.Close(); err != nil {
			bootLog.Error("failed to close db", "error", err)
		}
	}

	return &AppContext{
		Config:      cfg,
		Trading:     trading,
		Host:        host,
		HTTPHandler: httpHandler,
		Metrics:     m,
	}, cleanup, nil
}

// buildServiceConfig 解析交易配置中的精确小数字段
func buildServiceConfig(cfg *Config) (engineapp.ServiceConfig, error) {
	parse := func(raw string) (decimal.Decimal, error) {
		if raw == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(raw)
	}

	makerFee, err := parse(cfg.Trading.MakerFeeRate)
	if err != nil {
		return engineapp.ServiceConfig{}, fmt.Errorf("invalid maker_fee_rate: %w", err)
	}
	takerFee, err := parse(cfg.Trading.TakerFeeRate)
	if err != nil {
		return engineapp.ServiceConfig{}, fmt.Errorf("invalid taker_fee_rate: %w", err)
	}
	maxNotional, err := parse(cfg.Trading.MaxNotional)
	if err != nil {
		return engineapp.ServiceConfig{}, fmt.Errorf("invalid max_notional: %w", err)
	}
	maxPosition, err := parse(cfg.Trading.MaxPositionSize)
	if err != nil {
		return engineapp.ServiceConfig{}, fmt.Errorf("invalid max_position_size: %w", err)
	}

	symbols := cfg.Trading.Symbols
	if len(symbols) == 0 {
		symbols = []string{"BTC-USDT"}
	}

	return engineapp.ServiceConfig{
		Symbols: symbols,
		Engine: enginedomain.EngineConfig{
			QueueCapacity: cfg.Trading.QueueCapacity,
			SnapshotDepth: cfg.Trading.SnapshotDepth,
			Matcher: enginedomain.MatcherConfig{
				MakerFeeRate:        makerFee,
				TakerFeeRate:        takerFee,
				SelfTradePrevention: cfg.Trading.SelfTradePrevention,
			},
		},
		Limits: enginedomain.RiskLimits{
			MaxNotional:     maxNotional,
			MaxPositionSize: maxPosition,
			MaxOpenOrders:   cfg.Trading.MaxOpenOrders,
		},
		TickInterval:  time.Duration(cfg.Trading.TickIntervalMS) * time.Millisecond,
		SnapshotDepth: cfg.Trading.SnapshotDepth,
	}, nil
}

// 预留：示例网格策略注册入口，生产环境经管理面配置下发。
var _ = registerDemoStrategies

func registerDemoStrategies(host *algoapp.StrategyHost, symbols []string) {
	for _, symbol := range symbols {
		host.Register(algodomain.NewDCAStrategy(symbol, decimal.NewFromInt(100), time.Hour), "dca-fund")
	}
}
