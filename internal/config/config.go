package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds every knob of a harness run. It is constructed once from
// the environment (and an optional config file) and passed by value into
// each component; nothing reads viper after Load returns.
type Config struct {
	// Ephemeral database container
	ContainerName    string
	ContainerImage   string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string

	// Credentials handed to the subject process
	RootUserEmail    string
	RootUserPassword string

	// Subject checkout and commands
	SubjectDir     string
	BuildCommand   []string
	SubjectCommand []string

	// Run artifacts (all removed on teardown)
	ArtifactDir string
	DataDir     string

	// Fixture seeding
	FixtureModule string
	FixtureCount  int

	// Timeouts and poll intervals
	ProvisionTimeout  time.Duration
	ProvisionInterval time.Duration
	StartupTimeout    time.Duration
	StartupInterval   time.Duration
	StopGrace         time.Duration

	LogLevel string
}

// Load builds a Config from the given viper instance, applying defaults
// and MIGVERIFY_* environment overrides.
func Load(v *viper.Viper) (Config, error) {
	v.SetEnvPrefix("MIGVERIFY")
	v.AutomaticEnv()

	v.SetDefault("container.name", "migverify-postgres")
	v.SetDefault("container.image", "postgres:15")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "postgres")
	v.SetDefault("postgres.db", "migverify")

	v.SetDefault("root_user.email", "root@example.com")
	v.SetDefault("root_user.password", "Complexpass#123")

	v.SetDefault("subject.dir", ".")
	v.SetDefault("subject.build_command", []string{"cargo", "build", "--release"})
	v.SetDefault("subject.command", []string{"./target/release/openobserve"})

	v.SetDefault("artifact_dir", ".migverify")
	v.SetDefault("data_dir", ".migverify/data")

	v.SetDefault("fixture.module", "user_sessions")
	v.SetDefault("fixture.count", 3)

	v.SetDefault("provision.timeout", 10*time.Second)
	v.SetDefault("provision.interval", 1*time.Second)
	v.SetDefault("startup.timeout", 60*time.Second)
	v.SetDefault("startup.interval", 1*time.Second)
	v.SetDefault("stop.grace", 10*time.Second)

	v.SetDefault("log_level", "info")

	v.BindEnv("container.name", "MIGVERIFY_CONTAINER_NAME")
	v.BindEnv("container.image", "MIGVERIFY_CONTAINER_IMAGE")
	v.BindEnv("postgres.port", "MIGVERIFY_POSTGRES_PORT")
	v.BindEnv("postgres.user", "MIGVERIFY_POSTGRES_USER")
	v.BindEnv("postgres.password", "MIGVERIFY_POSTGRES_PASSWORD")
	v.BindEnv("postgres.db", "MIGVERIFY_POSTGRES_DB")
	v.BindEnv("root_user.email", "MIGVERIFY_ROOT_USER_EMAIL")
	v.BindEnv("root_user.password", "MIGVERIFY_ROOT_USER_PASSWORD")
	v.BindEnv("subject.dir", "MIGVERIFY_SUBJECT_DIR")
	v.BindEnv("artifact_dir", "MIGVERIFY_ARTIFACT_DIR")
	v.BindEnv("data_dir", "MIGVERIFY_DATA_DIR")
	v.BindEnv("fixture.count", "MIGVERIFY_FIXTURE_COUNT")
	v.BindEnv("log_level", "MIGVERIFY_LOG_LEVEL")

	cfg := Config{
		ContainerName:    v.GetString("container.name"),
		ContainerImage:   v.GetString("container.image"),
		PostgresPort:     v.GetInt("postgres.port"),
		PostgresUser:     v.GetString("postgres.user"),
		PostgresPassword: v.GetString("postgres.password"),
		PostgresDB:       v.GetString("postgres.db"),

		RootUserEmail:    v.GetString("root_user.email"),
		RootUserPassword: v.GetString("root_user.password"),

		SubjectDir:     v.GetString("subject.dir"),
		BuildCommand:   v.GetStringSlice("subject.build_command"),
		SubjectCommand: v.GetStringSlice("subject.command"),

		ArtifactDir: v.GetString("artifact_dir"),
		DataDir:     v.GetString("data_dir"),

		FixtureModule: v.GetString("fixture.module"),
		FixtureCount:  v.GetInt("fixture.count"),

		ProvisionTimeout:  v.GetDuration("provision.timeout"),
		ProvisionInterval: v.GetDuration("provision.interval"),
		StartupTimeout:    v.GetDuration("startup.timeout"),
		StartupInterval:   v.GetDuration("startup.interval"),
		StopGrace:         v.GetDuration("stop.grace"),

		LogLevel: v.GetString("log_level"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks for values the pipeline cannot run without
func (c Config) Validate() error {
	if c.ContainerName == "" {
		return fmt.Errorf("container name is required")
	}
	if c.ContainerImage == "" {
		return fmt.Errorf("container image is required")
	}
	if c.PostgresPort <= 0 || c.PostgresPort > 65535 {
		return fmt.Errorf("invalid postgres port: %d", c.PostgresPort)
	}
	if len(c.BuildCommand) == 0 {
		return fmt.Errorf("subject build command is required")
	}
	if len(c.SubjectCommand) == 0 {
		return fmt.Errorf("subject command is required")
	}
	if c.FixtureCount <= 0 {
		return fmt.Errorf("fixture count must be positive, got %d", c.FixtureCount)
	}
	return nil
}

// DSN returns the lib/pq connection string for the ephemeral database
func (c Config) DSN() string {
	return fmt.Sprintf("host=localhost port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB)
}

// ContainerEnv returns the environment handed to the database container
func (c Config) ContainerEnv() map[string]string {
	return map[string]string{
		"POSTGRES_USER":     c.PostgresUser,
		"POSTGRES_PASSWORD": c.PostgresPassword,
		"POSTGRES_DB":       c.PostgresDB,
	}
}

// SubjectEnv returns the environment map written into the generated
// config artifact and injected into the subject process. Values are
// emitted as-is; masking secrets is not attempted for a local test tool.
func (c Config) SubjectEnv() map[string]string {
	return map[string]string{
		"ZO_ROOT_USER_EMAIL":    c.RootUserEmail,
		"ZO_ROOT_USER_PASSWORD": c.RootUserPassword,
		"ZO_META_STORE":         "postgres",
		"ZO_META_POSTGRES_DSN":  fmt.Sprintf("postgres://%s:%s@localhost:%d/%s?sslmode=disable", c.PostgresUser, c.PostgresPassword, c.PostgresPort, c.PostgresDB),
		"ZO_DATA_DIR":           c.DataDir,
		"ZO_LOCAL_MODE":         "true",
		"ZO_LOCAL_MODE_STORAGE": "disk",
		"RUST_LOG":              "info",
	}
}

// EnvFilePath returns the path of the generated config artifact
func (c Config) EnvFilePath() string {
	return filepath.Join(c.ArtifactDir, "subject.env")
}

// BuildLogPath returns the path of the build log artifact
func (c Config) BuildLogPath() string {
	return filepath.Join(c.ArtifactDir, "build.log")
}

// SubjectLogPath returns the path of the subject output log artifact
func (c Config) SubjectLogPath() string {
	return filepath.Join(c.ArtifactDir, "subject.log")
}
