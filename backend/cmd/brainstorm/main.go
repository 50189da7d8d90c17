package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/cd-con/brainstorm/backend/config"
	"github.com/cd-con/brainstorm/backend/internal/authservice"
	"github.com/cd-con/brainstorm/backend/internal/blob"
	"github.com/cd-con/brainstorm/backend/internal/cache"
	"github.com/cd-con/brainstorm/backend/internal/collab"
	"github.com/cd-con/brainstorm/backend/internal/httpapi/handlers"
	"github.com/cd-con/brainstorm/backend/internal/httpapi/middleware"
	"github.com/cd-con/brainstorm/backend/internal/room"
	"github.com/cd-con/brainstorm/backend/internal/user"
	"github.com/cd-con/brainstorm/backend/internal/ws"
)

func initConfig() (*config.Config, error) {
	cfg := &config.Config{}
	v := viper.New()
	v.SetConfigName("config")
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

	// === MySQL（用户账号）===
	db, err := user.InitMySQL(cfg.Mysql.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	users := user.NewStore(db)

	// === Redis（在线名单）===
	// redis 不可用时降级为 Noop：协作主链路不依赖在线名单
	var presence cache.PresenceCache = cache.NoopPresence{}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Printf("redis unavailable, presence disabled: %v", err)
	} else {
		presence = cache.NewRedisPresence(rdb)
		defer rdb.Close()
	}

	// === Kafka Producer（变更事件流）===
	// SyncProducer 必须开启 Return.Successes
	kafkaCfg := sarama.NewConfig()
	kafkaCfg.Producer.Return.Successes = true
	kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	var producer sarama.SyncProducer
	producer, err = sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
	if err != nil {
		// 事件流是旁路，broker 不可用时照常服务
		log.Printf("kafka unavailable, mutation events disabled: %v", err)
		producer = nil
	} else {
		defer producer.Close()
	}

	// Kafka 本地队列 + worker 重试发送
	events := collab.NewEventDispatcher(producer, cfg.Kafka.Topic, collab.EventDispatcherOptions{
		//  Go 允许在数字里用下划线做分隔符，方便阅读
		QueueSize:   10_000,
		Workers:     4,
		MaxRetry:    3,
		BaseBackoff: 50 * time.Millisecond,
		MaxBackoff:  1 * time.Second,
	})

	// === 图片落盘 ===
	blobs, err := blob.NewFileStore(cfg.Static.Dir, cfg.Static.BaseURL)
	if err != nil {
		log.Fatalf("Failed to init image store: %v", err)
	}

	// === 协作核心 ===
	registry := room.NewRegistry()
	hub := collab.NewHub()
	co := collab.NewCoordinator(registry, hub, presence, events, blobs)
	manager := ws.NewManager(co)

	auth := authservice.NewHandlers(users)
	roomAPI := handlers.NewRooms(registry, co, presence)
	imageAPI := handlers.NewImages(blobs)
	userAPI := handlers.NewUsers(registry)

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// 全局 CORS
	r.Use(cors.New(cors.Config{
		// 允许任意来源（包含 file:// 场景的 Origin: null）；比 AllowOrigins:["*"] 更兼容
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	// 认证
	v1 := r.Group("/v1")
	v1.POST("/auth/register", auth.Register)
	v1.POST("/auth/login", auth.Login)
	v1.POST("/auth/refresh", auth.Refresh)
	v1.GET("/auth/verify", auth.Verify)
	v1.POST("/auth/logout", middleware.AuthMiddleware(), auth.Logout)

	// 房间/图片 REST，全部要求登录态
	api := r.Group("/api")
	api.Use(middleware.AuthMiddleware())
	api.POST("/rooms", roomAPI.Create)
	api.GET("/rooms", roomAPI.List)
	api.DELETE("/rooms/:roomID", roomAPI.Delete)
	api.POST("/rooms/:roomID/invite", roomAPI.Invite)
	api.GET("/rooms/:roomID/members", roomAPI.Members)
	api.POST("/images/:imageID", imageAPI.Upload)
	api.GET("/users/profile", userAPI.Profile)

	// 协作入口
	wsGroup := r.Group("/ws")
	wsGroup.Use(middleware.AuthMiddleware())
	wsGroup.GET("", manager.WebSocketConnect)

	// 上传后的图片走静态目录直出
	r.Static(cfg.Static.BaseURL, cfg.Static.Dir)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "ok"})
	})

	port := cfg.Running.Port
	_ = r.Run(fmt.Sprintf(":%d", port))
}
