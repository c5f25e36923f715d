package app

import (
	"time"

	"github.com/yungbote/jobstream-backend/internal/logger"
	"github.com/yungbote/jobstream-backend/internal/utils"
)

type Config struct {
	ServiceName string
	HTTPAddr    string

	KafkaBrokers    []string
	JobEventTopic   string
	JobCommandTopic string
	CommandGroup    string
	RestoreGroup    string

	MaxActivePerUser int
	RestoreMode      bool

	RelayInterval time.Duration
	RelayBatch    int

	RedisAddr    string
	RedisChannel string

	JWTSecretKey string
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		ServiceName: utils.GetEnv("SERVICE_NAME", "jobstream", log),
		HTTPAddr:    utils.GetEnv("HTTP_ADDR", ":8080", log),

		KafkaBrokers:    utils.GetEnvAsSlice("KAFKA_BROKERS", []string{"localhost:9092"}, log),
		JobEventTopic:   utils.GetEnv("JOB_EVENT_TOPIC", "jobstream.job.events", log),
		JobCommandTopic: utils.GetEnv("JOB_COMMAND_TOPIC", "jobstream.job.commands", log),
		CommandGroup:    utils.GetEnv("JOB_COMMAND_GROUP", "jobstream-commands", log),
		RestoreGroup:    utils.GetEnv("JOB_RESTORE_GROUP", "jobstream-restore", log),

		MaxActivePerUser: utils.GetEnvAsInt("JOB_MAX_ACTIVE_PER_USER", 3, log),
		RestoreMode:      utils.GetEnvAsBool("RESTORE_MODE", false, log),

		RelayInterval: time.Duration(utils.GetEnvAsInt("RELAY_INTERVAL_MS", 250, log)) * time.Millisecond,
		RelayBatch:    utils.GetEnvAsInt("RELAY_BATCH_SIZE", 100, log),

		RedisAddr:    utils.GetEnv("REDIS_ADDR", "", log),
		RedisChannel: utils.GetEnv("REDIS_CHANNEL", "job-updates", log),

		JWTSecretKey: utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log),
	}
}
