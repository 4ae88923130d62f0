package main

import (
	"fmt"
	"log"
	"time"

	"context"
	"database/sql"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"planoraCollab/backend/internal/cache"
	"planoraCollab/backend/internal/collab"
	"planoraCollab/backend/internal/httpapi/handlers"
	"planoraCollab/backend/internal/httpapi/middleware"
	"planoraCollab/backend/internal/store"
	"planoraCollab/backend/internal/ws"
)

type CollabConfig struct {
	Running struct {
		Port int `mapstructure:"Port"`
	} `mapstructure:"Running"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"Mysql"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"Redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"Kafka"`
	Auth struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"Auth"`
	Session struct {
		// 最后一个参与者离开后，会话在内存里保留的秒数
		GraceSeconds int `mapstructure:"graceSeconds"`
	} `mapstructure:"Session"`
}

func initConfig() (*CollabConfig, error) {
	cfg := &CollabConfig{}
	v := viper.New()
	v.SetConfigName("collabConfig")
	v.SetConfigType("yaml")
	// 兼容从项目根目录或 backend 目录启动
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	cfg, err := initConfig()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	log.Printf("config: %+v", cfg)

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
	})
	if err = rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	dsn := cfg.Mysql.DSN
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	gormDB, err := store.InitMySQL(dsn)
	if err != nil {
		log.Fatalf("Failed to init gorm: %v", err)
	}

	// === 初始化 Kafka Producer ===
	kafkaCfg := sarama.NewConfig()
	// SyncProducer 必须开启 Return.Successes
	kafkaCfg.Producer.Return.Successes = true
	kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
	if err != nil {
		log.Fatalf("Failed to connect kafka: %v", err)
	}
	defer producer.Close()

	presenceCache := cache.NewRedisPresence(rdb)
	hub := ws.NewHub(presenceCache)
	snapshotStore := store.NewSnapshotStore(db)
	tripStore := store.NewTripStore(gormDB)

	kafkaSem := collab.NewSemaphoreControl(100)
	wsSem := collab.NewSemaphoreControl(100)

	// Kafka 本地队列 + worker 重试发送
	dispatcher := collab.NewEventDispatcher(
		producer,
		cfg.Kafka.Topic,
		kafkaSem,
		collab.DispatcherOptions{
			QueueSize:   10_000,
			Workers:     4,
			MaxRetry:    3,
			BaseBackoff: 50 * time.Millisecond,
			MaxBackoff:  1 * time.Second,
		},
	)

	grace := 30 * time.Second
	if cfg.Session.GraceSeconds > 0 {
		grace = time.Duration(cfg.Session.GraceSeconds) * time.Second
	}
	// hub 作为 Broadcaster 接给 Coordinator：广播在会话锁内入队，
	// 房间里每个连接收到的操作顺序与版本号一致
	coord := collab.NewCoordinator(snapshotStore, tripStore, dispatcher, hub, collab.CoordinatorOptions{
		GraceDelay: grace,
	})
	manager := ws.NewManager(hub, coord, wsSem)
	tripHandler := handlers.NewTripHandler(tripStore)

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// 路由
	collabGroup := r.Group("/collab")
	// 鉴权中间件：从 Authorization 或 ?token= 提取 token，调用 /v1/auth/verify，写入 userId/username
	collabGroup.Use(middleware.AuthMiddleware(cfg.Auth.Path))
	collabGroup.GET("/ws", manager.WebSocketConnect)
	collabGroup.POST("/trips", tripHandler.CreateTrip)
	collabGroup.GET("/trips/:tripID", tripHandler.GetTrip)
	collabGroup.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "ok",
		})
	})

	port := cfg.Running.Port
	_ = r.Run(fmt.Sprintf(":%d", port))
}
