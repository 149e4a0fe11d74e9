package data

import (
	"github.com/greentrace/carbon-backend/internal/conf"
	"github.com/greentrace/carbon-backend/internal/pkg/database"
	"github.com/greentrace/carbon-backend/internal/pkg/logger"
	"github.com/greentrace/carbon-backend/internal/pkg/minio"
	"github.com/greentrace/carbon-backend/internal/pkg/redis"
)

// Data 聚合全部外部存储连接
type Data struct {
	DB          *database.DB
	RedisClient *redis.Client
	MinIOClient *minio.Client
}

// NewData 初始化数据层，返回清理函数
func NewData(config *conf.Config, log *logger.Logger) (*Data, func(), error) {
	dbCfg := database.DefaultConfig()
	dbCfg.Host = config.Database.Host
	dbCfg.Port = config.Database.Port
	dbCfg.User = config.Database.User
	dbCfg.Password = config.Database.Password
	dbCfg.DBName = config.Database.DBName
	dbCfg.SSLMode = config.Database.SSLMode

	db, err := database.New(dbCfg, log)
	if err != nil {
		return nil, nil, err
	}

	redisCfg := redis.DefaultConfig()
	redisCfg.Host = config.Redis.Host
	redisCfg.Port = config.Redis.Port
	redisCfg.Password = config.Redis.Password
	redisCfg.DB = config.Redis.DB

	redisClient, err := redis.New(redisCfg, log)
	if err != nil {
		db.Close() //nolint:errcheck
		return nil, nil, err
	}

	minioClient, err := minio.New(&minio.Config{
		Endpoint:  config.MinIO.Endpoint,
		AccessKey: config.MinIO.AccessKey,
		SecretKey: config.MinIO.SecretKey,
		UseSSL:    config.MinIO.UseSSL,
		Bucket:    config.MinIO.Bucket,
	}, log)
	if err != nil {
		redisClient.Close() //nolint:errcheck
		db.Close()          //nolint:errcheck
		return nil, nil, err
	}

	cleanup := func() {
		log.Info("closing data layer connections")
		if err := redisClient.Close(); err != nil {
			log.Warn("failed to close redis client: " + err.Error())
		}
		if err := db.Close(); err != nil {
			log.Warn("failed to close database: " + err.Error())
		}
	}

	return &Data{
		DB:          db,
		RedisClient: redisClient,
		MinIOClient: minioClient,
	}, cleanup, nil
}
