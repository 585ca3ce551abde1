package core

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host            string
		DebugHost       string
		ShutdownTimeout time.Duration
		AllowOrigins    []string
		TrustedProxies  []string
		PublicDir       string

		// login surface rate limit, per client IP
		LoginRate  float64
		LoginBurst int
	}

	UpstreamConfig struct {
		BaseURL      string
		Version      string
		UserAgent    string
		Timeout      time.Duration
		LoginTimeout time.Duration
		InsecureTLS  bool
	}

	DatabaseConfig struct {
		Engine        string // postgres | sqlite | memory
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		Path          string // sqlite file
	}

	RedisConfig struct {
		Addr     string
		Password string
		DB       int
	}

	Config struct {
		Debug        bool
		TestMode     bool
		Env          string
		AppName      string
		Build        string
		RollbarToken string

		Server   ServerConfig
		Upstream UpstreamConfig
		Database DatabaseConfig
		Redis    RedisConfig

		ChallengeTTL  time.Duration
		CacheTimeout  time.Duration
		DoneDebounce  time.Duration
		SyncKeepAlive time.Duration
	}
)

func (c DatabaseConfig) Address() string {
	if c.Port == "" {
		return c.Host
	}
	return c.Host + ":" + c.Port
}

// NewConfig loads the configuration from the environment, with defaults.
// Variables are prefixed by the environment name, e.g. DEV_SERVER_HOST or PROD_DATABASE_ENGINE.
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "edmm")
	v.SetDefault("build", "develop")
	v.SetDefault("rollbarToken", "")

	v.SetDefault("server.host", "127.0.0.1:3000")
	v.SetDefault("server.debugHost", "127.0.0.1:4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.allowOrigins", []string{})
	v.SetDefault("server.trustedProxies", []string{})
	v.SetDefault("server.publicDir", "")
	v.SetDefault("server.loginRate", 0.2)
	v.SetDefault("server.loginBurst", 5)

	v.SetDefault("upstream.baseURL", "https://api.ecoledirecte.com/v3")
	v.SetDefault("upstream.version", "4.75.0")
	v.SetDefault("upstream.userAgent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	v.SetDefault("upstream.timeout", 15*time.Second)
	v.SetDefault("upstream.loginTimeout", 10*time.Second)
	v.SetDefault("upstream.insecureTLS", false)

	v.SetDefault("database.engine", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "edmm")
	v.SetDefault("database.user", "edmm")
	v.SetDefault("database.password", "")
	v.SetDefault("database.adminUser", "")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", true)
	v.SetDefault("database.path", "edmm.db")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("challengeTTL", 10*time.Minute)
	v.SetDefault("cacheTimeout", 5*time.Second)
	v.SetDefault("doneDebounce", 500*time.Millisecond)
	v.SetDefault("syncKeepAlive", 15*time.Second)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	case "QA", "PROD":
		v.SetDefault("debug", false)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	if root, err := Getwd(); err == nil {
		dotEnvPath := filepath.Join(root, "config", ".env."+strings.ToLower(env))
		if _, err := os.Stat(dotEnvPath); err == nil {
			if err := godotenv.Load(dotEnvPath); err != nil {
				log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
			}
		} else if !os.IsNotExist(err) {
			log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
		}
	}
	v.AutomaticEnv()

	return &Config{
		Debug:        v.GetBool("debug"),
		TestMode:     v.GetBool("testMode"),
		Env:          env,
		AppName:      v.GetString("appName"),
		Build:        v.GetString("build"),
		RollbarToken: v.GetString("rollbarToken"),
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			DebugHost:       v.GetString("server.debugHost"),
			ShutdownTimeout: v.GetDuration("server.shutdownTimeout"),
			AllowOrigins:    v.GetStringSlice("server.allowOrigins"),
			TrustedProxies:  v.GetStringSlice("server.trustedProxies"),
			PublicDir:       v.GetString("server.publicDir"),
			LoginRate:       v.GetFloat64("server.loginRate"),
			LoginBurst:      v.GetInt("server.loginBurst"),
		},
		Upstream: UpstreamConfig{
			BaseURL:      strings.TrimRight(v.GetString("upstream.baseURL"), "/"),
			Version:      v.GetString("upstream.version"),
			UserAgent:    v.GetString("upstream.userAgent"),
			Timeout:      v.GetDuration("upstream.timeout"),
			LoginTimeout: v.GetDuration("upstream.loginTimeout"),
			InsecureTLS:  v.GetBool("upstream.insecureTLS"),
		},
		Database: DatabaseConfig{
			Engine:        strings.ToLower(v.GetString("database.engine")),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
			Path:          v.GetString("database.path"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		ChallengeTTL:  v.GetDuration("challengeTTL"),
		CacheTimeout:  v.GetDuration("cacheTimeout"),
		DoneDebounce:  v.GetDuration("doneDebounce"),
		SyncKeepAlive: v.GetDuration("syncKeepAlive"),
	}
}
