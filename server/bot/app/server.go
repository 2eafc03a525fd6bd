package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"soundvault/server/bot/analytics"
	botapi "soundvault/server/bot/api"
	"soundvault/server/bot/discord"
	"soundvault/server/bot/events"
	"soundvault/server/bot/playback"
	"soundvault/server/bot/settings"
	"soundvault/server/bot/storage"
	commonauth "soundvault/server/common/auth"
	"soundvault/server/common/infra/cache"
	"soundvault/server/common/infra/db"
	"soundvault/server/common/infra/mq"
	"soundvault/server/common/infra/object"
	commonlog "soundvault/server/common/log"
)

type Config struct {
	Port              string
	JWTSecret         string
	JWTTTLMinutes     int
	AdminPasswordHash string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	BaseFolder     string

	PostgresDSN      string
	PostgresMaxConns int
	RedisAddr        string
	AMQPURL          string

	DiscordToken string
}

type Server struct {
	HTTPServer  *http.Server
	Discord     *discordgo.Session
	Coordinator *playback.Coordinator

	pool      *pgxpool.Pool
	rdb       *redis.Client
	amqpConn  *amqp.Connection
	publisher *analytics.Publisher
}

func NewServer(cfg Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	minioClient, err := object.NewClient(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL)
	if err != nil {
		return nil, fmt.Errorf("initialize minio: %w", err)
	}
	if err := object.EnsureBucket(ctx, minioClient, cfg.MinioBucket); err != nil {
		return nil, fmt.Errorf("ensure minio bucket: %w", err)
	}
	keys := storage.NewKeyScheme(cfg.BaseFolder)
	if err := object.EnsurePublicReadPolicy(ctx, minioClient, cfg.MinioBucket, keys.Base()); err != nil {
		// Some providers refuse policy writes; the stream path still
		// works, only the URL fallback loses anonymous reads.
		commonlog.Warnf("set public read policy on %s: %v", cfg.MinioBucket, err)
	}

	gateway := storage.NewGateway(storage.NewObjectAPI(minioClient), cfg.MinioBucket, keys)
	directory := storage.NewDirectory(gateway)

	pool, err := db.NewPool(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		return nil, fmt.Errorf("initialize postgres: %w", err)
	}
	if err := db.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = cache.NewClient(cfg.RedisAddr)
		if err := cache.Ping(ctx, rdb); err != nil {
			commonlog.Warnf("redis unavailable, settings cache disabled: %v", err)
			rdb = nil
		}
	}
	store := settings.NewCachedStore(settings.NewStore(pool), rdb)

	var amqpConn *amqp.Connection
	var publisher *analytics.Publisher
	if cfg.AMQPURL != "" {
		amqpConn, err = mq.NewConnection(cfg.AMQPURL)
		if err != nil {
			commonlog.Warnf("amqp unavailable, play-event fanout disabled: %v", err)
		} else if publisher, err = analytics.NewPublisher(amqpConn); err != nil {
			commonlog.Warnf("declare analytics exchange: %v", err)
			_ = amqpConn.Close()
			amqpConn = nil
		}
	}

	hub := events.NewHub()

	var session *discordgo.Session
	var dialer playback.Dialer
	if cfg.DiscordToken != "" {
		session, err = discordgo.New("Bot " + cfg.DiscordToken)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("initialize discord session: %w", err)
		}
		dialer = discord.NewDialer(session, nil)
	}

	coordinator := playback.NewCoordinator(dialer, gateway, store, hub, publisherOrNil(publisher))

	authSvc := commonauth.NewService(cfg.JWTSecret, cfg.JWTTTLMinutes)
	h := botapi.NewHandler(gateway, directory, store, coordinator, hub, authSvc, nil, cfg.AdminPasswordHash)
	r := gin.Default()
	h.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  20 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		HTTPServer:  httpServer,
		Discord:     session,
		Coordinator: coordinator,
		pool:        pool,
		rdb:         rdb,
		amqpConn:    amqpConn,
		publisher:   publisher,
	}, nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.Coordinator.Shutdown()
	if s.Discord != nil {
		_ = s.Discord.Close()
	}
	err := s.HTTPServer.Shutdown(ctx)
	s.publisher.Close()
	if s.amqpConn != nil {
		_ = s.amqpConn.Close()
	}
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
	s.pool.Close()
	return err
}

// publisherOrNil keeps a typed-nil *Publisher from leaking into the
// coordinator's interface field.
func publisherOrNil(p *analytics.Publisher) playback.PlayPublisher {
	if p == nil {
		return nil
	}
	return p
}
