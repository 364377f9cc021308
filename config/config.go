package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"

	"github.com/danthegoodman1/etlpipe/partitioner"
	"github.com/danthegoodman1/etlpipe/utils"
	"github.com/go-playground/validator/v10"
	"github.com/go-sql-driver/mysql"
)

const DefaultSourceURL = "https://cf-courses-data.s3.us.cloud-object-storage.appdomain.cloud/IBMDeveloperSkillsNetwork-PY0221EN-SkillsNetwork/labs/module%206/Lab%20-%20Extract%20Transform%20Load/data/source.zip"

type Config struct {
	SourceURL   string `validate:"required,url"`
	WorkDir     string `validate:"required"`
	KeepWorkDir bool
	// OutputPath overrides where the transformed CSV is written locally
	OutputPath string

	S3Disabled     bool
	AWSRegion      string `validate:"required_without=S3Disabled"`
	S3Bucket       string `validate:"required_without=S3Disabled"`
	S3Endpoint     string `validate:"omitempty,url"`
	RawPrefix      string
	TransformedKey string `validate:"required"`
	// OutputPartitions is a comma separated list of partition functions like toYear,toMonth
	OutputPartitions string
	ParquetExport    bool

	DBDriver      string `validate:"omitempty,oneof=postgres cockroach mysql"`
	DBDSN         string
	DBHost        string
	DBPort        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBAutoMigrate bool
	TableName     string `validate:"required"`

	HTTPPort string `validate:"required,numeric"`
	LogFile  string
}

var validate = validator.New()

// Load reads the config from the environment and validates it.
func Load() (*Config, error) {
	var err error
	cfg := &Config{
		SourceURL:        utils.GetEnvOrDefault("SOURCE_URL", DefaultSourceURL),
		WorkDir:          utils.GetEnvOrDefault("WORK_DIR", filepath.Join(os.TempDir(), "etl")),
		OutputPath:       os.Getenv("OUTPUT_PATH"),
		AWSRegion:        utils.GetEnvOrDefault("AWS_DEFAULT_REGION", "us-east-1"),
		S3Bucket:         utils.GetEnvOrDefault("S3_BUCKET_NAME", "data-for-etl-project"),
		S3Endpoint:       os.Getenv("S3_ENDPOINT"),
		RawPrefix:        utils.GetEnvOrDefault("RAW_PREFIX", "datastore/"),
		TransformedKey:   utils.GetEnvOrDefault("TRANSFORMED_KEY", "transformed/transformed_data.csv"),
		OutputPartitions: os.Getenv("OUTPUT_PARTITIONS"),
		DBDriver:         os.Getenv("DB_DRIVER"),
		DBDSN:            os.Getenv("DB_DSN"),
		DBHost:           os.Getenv("DB_HOST"),
		DBPort:           os.Getenv("DB_PORT"),
		DBUser:           os.Getenv("DB_USER"),
		DBPassword:       os.Getenv("DB_PASSWORD"),
		DBName:           os.Getenv("DB_NAME"),
		TableName:        utils.GetEnvOrDefault("TABLE_NAME", "transformed_data"),
		HTTPPort:         utils.GetEnvOrDefault("HTTP_PORT", "8080"),
		LogFile:          os.Getenv("LOG_FILE"),
	}

	if cfg.KeepWorkDir, err = utils.GetEnvOrDefaultBool("KEEP_WORK_DIR", false); err != nil {
		return nil, err
	}
	if cfg.S3Disabled, err = utils.GetEnvOrDefaultBool("S3_DISABLED", false); err != nil {
		return nil, err
	}
	if cfg.ParquetExport, err = utils.GetEnvOrDefaultBool("PARQUET_EXPORT", false); err != nil {
		return nil, err
	}
	if cfg.DBAutoMigrate, err = utils.GetEnvOrDefaultBool("DB_AUTO_MIGRATE", true); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags and that OutputPartitions parses. Call again after overriding fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Partitions(); err != nil {
		return fmt.Errorf("invalid OUTPUT_PARTITIONS: %w", err)
	}
	return nil
}

func (c *Config) Partitions() ([]partitioner.PartitionPlan, error) {
	return partitioner.ParsePlans(c.OutputPartitions)
}

// LoadEnabled reports whether a database is configured.
func (c *Config) LoadEnabled() bool {
	return c.DBDriver != ""
}

// DSN returns DB_DSN if set, otherwise builds one for the driver from the DB_* parts.
func (c *Config) DSN() string {
	if c.DBDSN != "" {
		return c.DBDSN
	}
	switch c.DBDriver {
	case "mysql":
		port := c.DBPort
		if port == "" {
			port = "3306"
		}
		mc := mysql.NewConfig()
		mc.User = c.DBUser
		mc.Passwd = c.DBPassword
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.DBHost, port)
		mc.DBName = c.DBName
		mc.ParseTime = true
		return mc.FormatDSN()
	default:
		port := c.DBPort
		if port == "" {
			port = "5432"
			if c.DBDriver == "cockroach" {
				port = "26257"
			}
		}
		u := url.URL{
			Scheme: "postgresql",
			User:   url.UserPassword(c.DBUser, c.DBPassword),
			Host:   net.JoinHostPort(c.DBHost, port),
			Path:   "/" + c.DBName,
		}
		return u.String()
	}
}
