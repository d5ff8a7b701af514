package core

import (
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Debug    bool
	TestMode bool
	Env      string // DEV (local; default), TEST, QA, PROD
	Build    string
	AppName  string

	// all ledger timestamps are rendered in this location
	Timezone *time.Location

	DefaultFromEmail mail.Address
	OperatorEmail    mail.Address
	SendgridApiKey   string
	RollbarToken     string

	// attendance engine
	TokenValidity    time.Duration
	MaxWriteAttempts int

	Server struct {
		Host            string
		DebugHost       string
		ShutdownTimeout time.Duration
	}

	Store struct {
		BaseURL        string
		Token          string
		DataOwner      string
		DataRepo       string
		ArchiveOwner   string
		ArchiveRepo    string
		RequestTimeout time.Duration
	}
}

func NewConfig() *Config {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("debug", true)
	conf.SetDefault("appName", "ULAS")
	conf.SetDefault("build", "dev")
	conf.SetDefault("timezone", "Africa/Lagos")
	conf.SetDefault("defaultFromEmail", "noreply@localhost")
	conf.SetDefault("operatorEmail", "ops@localhost")
	conf.SetDefault("tokenValidity", 5*time.Minute)
	conf.SetDefault("maxWriteAttempts", 3)
	conf.SetDefault("serverHost", "0.0.0.0:8000")
	conf.SetDefault("serverDebugHost", "0.0.0.0:9000")
	conf.SetDefault("serverShutdownTimeout", 5*time.Second)
	conf.SetDefault("storeBaseURL", "https://api.github.com")
	conf.SetDefault("storeRequestTimeout", 15*time.Second)

	env := os.Getenv("ENV")
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		conf.SetDefault("testMode", true)
	}
	conf.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(Getwd(), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	tz, err := time.LoadLocation(conf.GetString("timezone"))
	if err != nil {
		log.Printf("config: unknown timezone %q, falling back to UTC", conf.GetString("timezone"))
		tz = time.UTC
	}

	c := &Config{
		Debug:            conf.GetBool("debug"),
		TestMode:         conf.GetBool("testMode"),
		Env:              env,
		Build:            conf.GetString("build"),
		AppName:          conf.GetString("appName"),
		Timezone:         tz,
		DefaultFromEmail: mail.Address{Name: conf.GetString("appName"), Address: conf.GetString("defaultFromEmail")},
		OperatorEmail:    mail.Address{Address: conf.GetString("operatorEmail")},
		SendgridApiKey:   conf.GetString("sendgridApiKey"),
		RollbarToken:     conf.GetString("rollbarToken"),
		TokenValidity:    conf.GetDuration("tokenValidity"),
		MaxWriteAttempts: conf.GetInt("maxWriteAttempts"),
	}
	c.Server.Host = conf.GetString("serverHost")
	c.Server.DebugHost = conf.GetString("serverDebugHost")
	c.Server.ShutdownTimeout = conf.GetDuration("serverShutdownTimeout")
	c.Store.BaseURL = conf.GetString("storeBaseURL")
	c.Store.Token = conf.GetString("storeToken")
	c.Store.DataOwner = conf.GetString("storeDataOwner")
	c.Store.DataRepo = conf.GetString("storeDataRepo")
	c.Store.ArchiveOwner = conf.GetString("storeArchiveOwner")
	c.Store.ArchiveRepo = conf.GetString("storeArchiveRepo")
	c.Store.RequestTimeout = conf.GetDuration("storeRequestTimeout")
	return c
}
