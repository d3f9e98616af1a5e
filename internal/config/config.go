// Package config provides environment configuration for the demo server.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the demo server. Every value arrives
// via environment variables; the required ones are provisioned by the
// surrounding cluster tooling and their names are a fixed contract.
type Config struct {
	// Required cluster contract.
	NodeUser         string `mapstructure:"node_user" validate:"required"`
	RunDir           string `mapstructure:"run_dir" validate:"required"`
	DurableDir       string `mapstructure:"durable_dir" validate:"required"`
	ConfigFiles      string `mapstructure:"config_files" validate:"required"`
	MySQLHost        string `mapstructure:"mysqld_pri_1" validate:"required"`
	MySQLPassword    string `mapstructure:"demo_mysql_pw" validate:"required"`
	GrafanaHost      string `mapstructure:"grafana_pri_1" validate:"required"`
	GUISecret        string `mapstructure:"gui_secret" validate:"required"`
	RDRSMajorVersion string `mapstructure:"rdrs_major_version" validate:"required"`
	RDRSURI          string `mapstructure:"rdrs_uri" validate:"required"`
	NginxErrorLog    string `mapstructure:"nginx_error_log" validate:"required"`

	// Optional, with defaults.
	ListenAddr                 string `mapstructure:"listen_addr"`
	LoadgenWorkerCount         int    `mapstructure:"loadgen_worker_count" validate:"min=0"`
	SessionTTLSeconds          int    `mapstructure:"session_ttl_seconds" validate:"min=1"`
	MaxActiveDatabases         int    `mapstructure:"max_active_databases" validate:"min=1"`
	MaintenanceIntervalSeconds int    `mapstructure:"maintenance_interval_seconds" validate:"min=1"`
	LoadgenBin                 string `mapstructure:"loadgen_bin"`
	NginxBin                   string `mapstructure:"nginx_bin"`
	StaticDir                  string `mapstructure:"static_dir"`
	ScriptsDir                 string `mapstructure:"scripts_dir"`
	MySQLPort                  int    `mapstructure:"mysql_port"`
	MySQLUser                  string `mapstructure:"mysql_user"`
	CORSAllowedOrigins         string `mapstructure:"cors_allowed_origins"`
}

// envBindings maps viper keys to their environment variable names. The
// names are flat (no prefix) because they are shared with the cluster
// provisioning scripts.
var envBindings = map[string]string{
	"node_user":                    "NODE_USER",
	"run_dir":                      "RUN_DIR",
	"durable_dir":                  "DURABLE_DIR",
	"config_files":                 "CONFIG_FILES",
	"mysqld_pri_1":                 "MYSQLD_PRI_1",
	"demo_mysql_pw":                "DEMO_MYSQL_PW",
	"grafana_pri_1":                "GRAFANA_PRI_1",
	"gui_secret":                   "GUI_SECRET",
	"rdrs_major_version":           "RDRS_MAJOR_VERSION",
	"rdrs_uri":                     "RDRS_URI",
	"nginx_error_log":              "NGINX_ERROR_LOG",
	"listen_addr":                  "LISTEN_ADDR",
	"loadgen_worker_count":         "LOADGEN_WORKER_COUNT",
	"session_ttl_seconds":          "SESSION_TTL_SECONDS",
	"max_active_databases":         "MAX_ACTIVE_DATABASES",
	"maintenance_interval_seconds": "MAINTENANCE_INTERVAL_SECONDS",
	"loadgen_bin":                  "LOADGEN_BIN",
	"nginx_bin":                    "NGINX_BIN",
	"static_dir":                   "STATIC_DIR",
	"scripts_dir":                  "SCRIPTS_DIR",
	"mysql_port":                   "MYSQL_PORT",
	"mysql_user":                   "MYSQL_USER",
	"cors_allowed_origins":         "CORS_ALLOWED_ORIGINS",
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	v := viper.New()

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// ScriptsDir default depends on NODE_USER, so it cannot be a static
	// viper default.
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = filepath.Join("/home", cfg.NodeUser, "scripts")
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for the optional settings.
func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":13001")
	v.SetDefault("loadgen_worker_count", 2)
	v.SetDefault("session_ttl_seconds", 900)
	v.SetDefault("max_active_databases", 6)
	v.SetDefault("maintenance_interval_seconds", 10)
	v.SetDefault("loadgen_bin", "locust")
	v.SetDefault("nginx_bin", "nginx")
	v.SetDefault("static_dir", "demo_static")
	v.SetDefault("mysql_port", 3306)
	v.SetDefault("mysql_user", "db_create_user")
	v.SetDefault("cors_allowed_origins", "")
}

// MySQLDSN returns the connection string for the shared MySQL server.
// No database is selected; callers issue USE statements as needed.
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/", c.MySQLUser, c.MySQLPassword, c.MySQLHost, c.MySQLPort)
}

// GrafanaURL returns the base URL of the shared Grafana instance.
func (c *Config) GrafanaURL() string {
	return fmt.Sprintf("http://%s:3000", c.GrafanaHost)
}

// DefaultGrafanaDashboard returns the dashboard name shown to every
// session. It tracks the REST server's major version.
func (c *Config) DefaultGrafanaDashboard() string {
	return fmt.Sprintf("rdrs%s_overview", c.RDRSMajorVersion)
}

// StateFileIn returns the state document path under the given durable
// directory. The operator CLI resolves paths from a bare directory,
// without the full environment.
func StateFileIn(durableDir string) string {
	return filepath.Join(durableDir, "demo_state.json")
}

// EventLogIn returns the event log path under the given durable directory.
func EventLogIn(durableDir string) string {
	return filepath.Join(durableDir, "demo.log")
}

// StateFilePath returns the canonical path of the persisted state document.
func (c *Config) StateFilePath() string {
	return StateFileIn(c.DurableDir)
}

// EventLogPath returns the path of the durable JSON-lines event log.
func (c *Config) EventLogPath() string {
	return EventLogIn(c.DurableDir)
}

// LoadgenLogDir returns the directory where load generator processes
// append their stdout and stderr.
func (c *Config) LoadgenLogDir() string {
	return filepath.Join(c.RunDir, "loadgen")
}

// LoadgenScript returns the path of the load generator launcher script.
func (c *Config) LoadgenScript() string {
	return filepath.Join(c.ScriptsDir, "loadgen_batch_read.py")
}

// NginxDynamicConfPath returns the path of the generated proxy fragment.
func (c *Config) NginxDynamicConfPath() string {
	return filepath.Join(c.ConfigFiles, "nginx-dynamic.conf")
}

// NginxMainConfPath returns the path of the main nginx configuration.
func (c *Config) NginxMainConfPath() string {
	return filepath.Join(c.ConfigFiles, "nginx.conf")
}

// SessionTTL returns the per-session database lifetime.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

// MaintenanceInterval returns the sleep between maintenance sweeps.
func (c *Config) MaintenanceInterval() time.Duration {
	return time.Duration(c.MaintenanceIntervalSeconds) * time.Second
}
