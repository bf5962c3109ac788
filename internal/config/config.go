package config

import (
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"os"
	"strconv"
	"time"
)

type (
	Config struct {
		// AccessKey is the master access key to the admin API. Must be kept safe and secure!
		AccessKey string

		// LogMode is either "production" or "development"
		LogMode string `validate:"oneof=production development test"`

		ListenAddr string `validate:"required"`

		// BackupDir is the artifact root. database/, system/ and temp/ live beneath it.
		BackupDir string `validate:"required"`

		// StateDBPath is the sqlite file holding backups, schedules, restores and updates.
		StateDBPath string `validate:"required"`

		// DatabaseURL is the connection string of the datastore being backed up
		DatabaseURL string

		// DumpContainer, when set, runs pg_dump/psql inside this container instead of on the host
		DumpContainer string

		// TenantSchemaPattern scopes tenant dumps to a schema, e.g. "tenant_%s"
		TenantSchemaPattern string

		AppDir    string `validate:"required"`
		ConfigDir string
		MediaDir  string
		LogDir    string

		UpdateStagingDir string `validate:"required"`
		AppVersion       string `validate:"required"`

		WebhookURL string `validate:"omitempty,url"`

		ObjectStorage ObjectStorage

		// OffsiteDir is a mounted volume receiving artifact copies when no object storage is configured
		OffsiteDir string

		// SchedulePollInterval is how often the schedule runner polls a triggered backup
		SchedulePollInterval time.Duration `validate:"gt=0"`
	}

	ObjectStorage struct {
		Endpoint    string
		AccessKeyID string
		SecretKey   string
		Region      string
		Bucket      string
		Secure      bool
	}
)

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, errors.Wrap(err, "failed to read .env")
	}

	cfg := Config{
		AccessKey:           os.Getenv("ACCESS_KEY"),
		LogMode:             getEnv("LIFEBOAT_LOG_MODE", "development"),
		ListenAddr:          getEnv("LIFEBOAT_LISTEN_ADDR", ":3646"),
		BackupDir:           getEnv("LIFEBOAT_BACKUP_DIR", "/var/lifeboat/backups"),
		StateDBPath:         getEnv("LIFEBOAT_STATE_DB", "/var/lifeboat/data/lifeboat.db"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		DumpContainer:       os.Getenv("LIFEBOAT_DUMP_CONTAINER"),
		TenantSchemaPattern: os.Getenv("TENANT_SCHEMA_PATTERN"),
		AppDir:              getEnv("LIFEBOAT_APP_DIR", "/opt/app"),
		ConfigDir:           getEnv("LIFEBOAT_CONFIG_DIR", "/etc/app"),
		MediaDir:            os.Getenv("LIFEBOAT_MEDIA_DIR"),
		LogDir:              os.Getenv("LIFEBOAT_LOG_DIR"),
		UpdateStagingDir:    getEnv("LIFEBOAT_UPDATE_STAGING_DIR", "/var/lifeboat/updates"),
		AppVersion:          getEnv("LIFEBOAT_APP_VERSION", "0.0.0"),
		WebhookURL:          os.Getenv("LIFEBOAT_WEBHOOK_URL"),
		ObjectStorage: ObjectStorage{
			Endpoint:    os.Getenv("S3_ENDPOINT"),
			AccessKeyID: os.Getenv("S3_ACCESS_KEY_ID"),
			SecretKey:   os.Getenv("S3_SECRET_KEY"),
			Region:      os.Getenv("S3_REGION"),
			Bucket:      getEnv("S3_BUCKET", "lifeboat-backups"),
			Secure:      getBool("S3_SECURE", true),
		},
		OffsiteDir:           os.Getenv("LIFEBOAT_OFFSITE_DIR"),
		SchedulePollInterval: getDuration("LIFEBOAT_SCHEDULE_POLL_INTERVAL", 10*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

func (c Config) HasObjectStorage() bool {
	return c.ObjectStorage.Endpoint != "" && c.ObjectStorage.AccessKeyID != "" && c.ObjectStorage.SecretKey != ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
