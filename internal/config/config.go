// Package config loads the gateway's configuration from CLI flags,
// environment variables, and an optional YAML file, merging them with CLI
// flag > env var > file > built-in default precedence — the same layering
// as the reference implementation's config.rs, re-expressed as idiomatic Go.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

// TLSConfig holds the certificate/key pair for serving WebSocket connections
// over TLS. Both fields must be set together or not at all.
type TLSConfig struct {
	Cert string
	Key  string
}

// Config is the gateway's fully resolved, validated configuration.
type Config struct {
	DatabaseURL       string
	DatabasePrefix    string
	RedisURL          string
	NextcloudURL      string
	Bind              Bind
	MetricsBind       *Bind
	LogLevel          string
	AllowSelfSigned   bool
	NoANSI            bool
	TLS               *TLSConfig
	MaxDebounceTime   int
	MaxConnectionTime int
	GlobConfig        bool
	DumpConfig        bool
	Version           bool
}

// partial mirrors Config but with every field optional, so CLI/env/file
// layers can be merged by "first non-zero value wins".
type partial struct {
	databaseURL        *string
	databasePrefix     *string
	redisURL           *string
	nextcloudURL       *string
	port               *int
	bindHost           *string
	socketPath         *string
	socketPermissions  *string
	metricsPort        *int
	metricsSocketPath  *string
	logLevel           *string
	allowSelfSigned    *bool
	noANSI             *bool
	tlsCert            *string
	tlsKey             *string
	maxDebounceTime    *int
	maxConnectionTime  *int
	globConfig         *bool
	dumpConfig         *bool
	version            *bool
}

const (
	defaultPort           = 7867
	defaultDatabasePrefix = "oc_"
	defaultLogLevel       = "warn"
	defaultMaxDebounce    = 15
	defaultMaxConnection  = 0
)

// Load resolves configuration from args (CLI flags, typically os.Args[1:]),
// the process environment, and an optional YAML config file named as the
// first non-flag CLI argument, in that precedence order.
func Load(args []string) (*Config, error) {
	fromOpt, configFile, err := fromFlags(args)
	if err != nil {
		return nil, err
	}

	fromEnv, err := fromEnv()
	if err != nil {
		return nil, err
	}

	fromFile := partial{}
	if configFile != "" {
		fromFile, err = fromYAMLFile(configFile, fromOpt.globConfig != nil && *fromOpt.globConfig)
		if err != nil {
			return nil, err
		}
	}

	return fromOpt.merge(fromEnv).merge(fromFile).resolve()
}

func fromFlags(args []string) (partial, string, error) {
	fs := flag.NewFlagSet("notify-push", flag.ContinueOnError)

	databaseURL := fs.String("database-url", "", "the database connect url")
	redisURL := fs.String("redis-url", "", "the redis connect url")
	databasePrefix := fs.String("database-prefix", "", "the table prefix for Nextcloud's database tables")
	nextcloudURL := fs.String("nextcloud-url", "", "the url the push server can access the nextcloud instance on")
	port := fs.Int("port", 0, "the port to serve the push server on")
	metricsPort := fs.Int("metrics-port", 0, "the port to serve metrics on")
	bindHost := fs.String("bind", "", "the ip address to bind to")
	socketPath := fs.String("socket-path", "", "listen to a unix socket instead of TCP")
	socketPermissions := fs.String("socket-permissions", "", "file permissions for the unix socket")
	metricsSocketPath := fs.String("metrics-socket-path", "", "listen to a unix socket instead of TCP for serving metrics")
	allowSelfSigned := fs.Bool("allow-self-signed", false, "disable validating certificates when connecting to the nextcloud instance")
	logLevel := fs.String("log-level", "", "the log level")
	dumpConfig := fs.Bool("dump-config", false, "print the parsed config and exit")
	noANSI := fs.Bool("no-ansi", false, "disable ansi escape sequences in logging output")
	globConfig := fs.Bool("glob-config", false, "accepted for compatibility; no other config files are loaded")
	tlsCert := fs.String("tls-cert", "", "tls certificate")
	tlsKey := fs.String("tls-key", "", "tls key")
	maxDebounceTime := fs.Int("max-debounce-time", 0, "the maximum debounce time between messages, in seconds")
	maxConnectionTime := fs.Int("max-connection-time", 0, "the maximum connection time, in seconds; zero means unlimited")
	version := fs.Bool("version", false, "print the binary version and exit")

	if err := fs.Parse(args); err != nil {
		return partial{}, "", err
	}

	p := partial{}
	setIfNonZero(&p.databaseURL, *databaseURL)
	setIfNonZero(&p.redisURL, *redisURL)
	setIfNonZero(&p.databasePrefix, *databasePrefix)
	setIfNonZero(&p.nextcloudURL, *nextcloudURL)
	setIfPositive(&p.port, *port)
	setIfPositive(&p.metricsPort, *metricsPort)
	setIfNonZero(&p.bindHost, *bindHost)
	setIfNonZero(&p.socketPath, *socketPath)
	setIfNonZero(&p.socketPermissions, *socketPermissions)
	setIfNonZero(&p.metricsSocketPath, *metricsSocketPath)
	setIfNonZero(&p.logLevel, *logLevel)
	setIfNonZero(&p.tlsCert, *tlsCert)
	setIfNonZero(&p.tlsKey, *tlsKey)
	setIfPositive(&p.maxDebounceTime, *maxDebounceTime)
	setIfPositive(&p.maxConnectionTime, *maxConnectionTime)
	if *allowSelfSigned {
		p.allowSelfSigned = allowSelfSigned
	}
	if *noANSI {
		p.noANSI = noANSI
	}
	if *globConfig {
		p.globConfig = globConfig
	}
	if *dumpConfig {
		p.dumpConfig = dumpConfig
	}
	if *version {
		p.version = version
	}

	configFile := ""
	if fs.NArg() > 0 {
		configFile = fs.Arg(0)
	}

	return p, configFile, nil
}

func fromEnv() (partial, error) {
	p := partial{}
	setIfNonZero(&p.databaseURL, os.Getenv("DATABASE_URL"))
	setIfNonZero(&p.redisURL, os.Getenv("REDIS_URL"))
	setIfNonZero(&p.databasePrefix, os.Getenv("DATABASE_PREFIX"))
	setIfNonZero(&p.nextcloudURL, os.Getenv("NEXTCLOUD_URL"))
	setIfNonZero(&p.bindHost, os.Getenv("BIND"))
	setIfNonZero(&p.socketPath, os.Getenv("SOCKET_PATH"))
	setIfNonZero(&p.socketPermissions, os.Getenv("SOCKET_PERMISSIONS"))
	setIfNonZero(&p.metricsSocketPath, os.Getenv("METRICS_SOCKET_PATH"))
	setIfNonZero(&p.logLevel, os.Getenv("LOG"))
	setIfNonZero(&p.tlsCert, os.Getenv("TLS_CERT"))
	setIfNonZero(&p.tlsKey, os.Getenv("TLS_KEY"))

	if v, err := envInt("PORT"); err != nil {
		return partial{}, err
	} else if v != nil {
		p.port = v
	}
	if v, err := envInt("METRICS_PORT"); err != nil {
		return partial{}, err
	} else if v != nil {
		p.metricsPort = v
	}
	if v, err := envInt("MAX_DEBOUNCE_TIME"); err != nil {
		return partial{}, err
	} else if v != nil {
		p.maxDebounceTime = v
	}
	if v, err := envInt("MAX_CONNECTION_TIME"); err != nil {
		return partial{}, err
	} else if v != nil {
		p.maxConnectionTime = v
	}

	if v, ok := os.LookupEnv("ALLOW_SELF_SIGNED"); ok {
		b := v == "true"
		p.allowSelfSigned = &b
	}
	if v, ok := os.LookupEnv("NO_ANSI"); ok {
		b := v == "true"
		p.noANSI = &b
	}

	return p, nil
}

// yamlFile mirrors the fields a config file may set. Field names match the
// reference's PHP-style Nextcloud config keys, lower-cased with underscores.
type yamlFile struct {
	DatabaseURL       string `yaml:"database_url"`
	DatabasePrefix    string `yaml:"database_prefix"`
	RedisURL          string `yaml:"redis_url"`
	NextcloudURL      string `yaml:"nextcloud_url"`
	Port              int    `yaml:"port"`
	MetricsPort       int    `yaml:"metrics_port"`
	Bind              string `yaml:"bind"`
	SocketPath        string `yaml:"socket_path"`
	SocketPermissions string `yaml:"socket_permissions"`
	MetricsSocketPath string `yaml:"metrics_socket_path"`
	LogLevel          string `yaml:"log_level"`
	AllowSelfSigned   bool   `yaml:"allow_self_signed"`
	TLSCert           string `yaml:"tls_cert"`
	TLSKey            string `yaml:"tls_key"`
	MaxDebounceTime   int    `yaml:"max_debounce_time"`
	MaxConnectionTime int    `yaml:"max_connection_time"`
}

// fromYAMLFile reads the single YAML file at path. glob is accepted but has
// no effect: no sibling files are loaded (see the "glob_config" Open
// Question in DESIGN.md).
func fromYAMLFile(path string, glob bool) (partial, error) {
	f, err := os.Open(path)
	if err != nil {
		return partial{}, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	var y yamlFile
	if err := yaml.NewDecoder(f).Decode(&y); err != nil {
		return partial{}, fmt.Errorf("parse config file: %w", err)
	}

	p := partial{}
	setIfNonZero(&p.databaseURL, y.DatabaseURL)
	setIfNonZero(&p.databasePrefix, y.DatabasePrefix)
	setIfNonZero(&p.redisURL, y.RedisURL)
	setIfNonZero(&p.nextcloudURL, y.NextcloudURL)
	setIfPositive(&p.port, y.Port)
	setIfPositive(&p.metricsPort, y.MetricsPort)
	setIfNonZero(&p.bindHost, y.Bind)
	setIfNonZero(&p.socketPath, y.SocketPath)
	setIfNonZero(&p.socketPermissions, y.SocketPermissions)
	setIfNonZero(&p.metricsSocketPath, y.MetricsSocketPath)
	setIfNonZero(&p.logLevel, y.LogLevel)
	setIfNonZero(&p.tlsCert, y.TLSCert)
	setIfNonZero(&p.tlsKey, y.TLSKey)
	setIfPositive(&p.maxDebounceTime, y.MaxDebounceTime)
	setIfPositive(&p.maxConnectionTime, y.MaxConnectionTime)
	if y.AllowSelfSigned {
		p.allowSelfSigned = &y.AllowSelfSigned
	}

	_ = glob // reserved: see DESIGN.md Open Question on glob_config scope.
	return p, nil
}

// merge returns a partial containing every field of p, falling back to
// fallback's value when p leaves it unset. Matches PartialConfig::merge in
// the reference, where the higher-precedence side is always the receiver.
func (p partial) merge(fallback partial) partial {
	return partial{
		databaseURL:       firstOf(p.databaseURL, fallback.databaseURL),
		databasePrefix:    firstOf(p.databasePrefix, fallback.databasePrefix),
		redisURL:          firstOf(p.redisURL, fallback.redisURL),
		nextcloudURL:      firstOf(p.nextcloudURL, fallback.nextcloudURL),
		port:              firstOf(p.port, fallback.port),
		bindHost:          firstOf(p.bindHost, fallback.bindHost),
		socketPath:        firstOf(p.socketPath, fallback.socketPath),
		socketPermissions: firstOf(p.socketPermissions, fallback.socketPermissions),
		metricsPort:       firstOf(p.metricsPort, fallback.metricsPort),
		metricsSocketPath: firstOf(p.metricsSocketPath, fallback.metricsSocketPath),
		logLevel:          firstOf(p.logLevel, fallback.logLevel),
		allowSelfSigned:   firstOf(p.allowSelfSigned, fallback.allowSelfSigned),
		noANSI:            firstOf(p.noANSI, fallback.noANSI),
		tlsCert:           firstOf(p.tlsCert, fallback.tlsCert),
		tlsKey:            firstOf(p.tlsKey, fallback.tlsKey),
		maxDebounceTime:   firstOf(p.maxDebounceTime, fallback.maxDebounceTime),
		maxConnectionTime: firstOf(p.maxConnectionTime, fallback.maxConnectionTime),
		globConfig:        firstOf(p.globConfig, fallback.globConfig),
		dumpConfig:        firstOf(p.dumpConfig, fallback.dumpConfig),
		version:           firstOf(p.version, fallback.version),
	}
}

// resolve validates the merged partial and fills in built-in defaults,
// producing a ready-to-use Config.
func (p partial) resolve() (*Config, error) {
	if p.databaseURL == nil {
		return nil, fmt.Errorf("database connect url is required")
	}
	if p.nextcloudURL == nil {
		return nil, fmt.Errorf("nextcloud url is required")
	}

	permission, err := parseSocketPermission(valueOf(p.socketPermissions, ""))
	if err != nil {
		return nil, err
	}

	bind, err := resolveBind(valueOf(p.socketPath, ""), valueOf(p.bindHost, ""), valueOf(p.port, defaultPort), permission)
	if err != nil {
		return nil, err
	}

	var metricsBind *Bind
	switch {
	case valueOf(p.metricsSocketPath, "") != "":
		b := Bind{UnixPath: *p.metricsSocketPath, UnixPermission: permission}
		metricsBind = &b
	case valueOf(p.metricsPort, 0) > 0:
		b := tcpBind(valueOf(p.bindHost, ""), *p.metricsPort)
		metricsBind = &b
	}

	var tls *TLSConfig
	if p.tlsCert != nil && p.tlsKey != nil {
		tls = &TLSConfig{Cert: *p.tlsCert, Key: *p.tlsKey}
	}

	nextcloudURL := *p.nextcloudURL
	if nextcloudURL[len(nextcloudURL)-1] != '/' {
		nextcloudURL += "/"
	}

	return &Config{
		DatabaseURL:       *p.databaseURL,
		DatabasePrefix:    valueOf(p.databasePrefix, defaultDatabasePrefix),
		RedisURL:          valueOf(p.redisURL, ""),
		NextcloudURL:      nextcloudURL,
		Bind:              bind,
		MetricsBind:       metricsBind,
		LogLevel:          valueOf(p.logLevel, defaultLogLevel),
		AllowSelfSigned:   valueOf(p.allowSelfSigned, false),
		NoANSI:            valueOf(p.noANSI, false),
		TLS:               tls,
		MaxDebounceTime:   valueOf(p.maxDebounceTime, defaultMaxDebounce),
		MaxConnectionTime: valueOf(p.maxConnectionTime, defaultMaxConnection),
		GlobConfig:        valueOf(p.globConfig, false),
		DumpConfig:        valueOf(p.dumpConfig, false),
		Version:           valueOf(p.version, false),
	}, nil
}

func resolveBind(socketPath, host string, port int, permission uint32) (Bind, error) {
	if socketPath != "" {
		return Bind{UnixPath: socketPath, UnixPermission: permission}, nil
	}
	return tcpBind(host, port), nil
}

func envInt(name string) (*int, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("env %s: %w", name, err)
	}
	return &n, nil
}

func setIfNonZero(dst **string, v string) {
	if v != "" {
		*dst = &v
	}
}

func setIfPositive(dst **int, v int) {
	if v > 0 {
		*dst = &v
	}
}

func firstOf[T any](primary, fallback *T) *T {
	if primary != nil {
		return primary
	}
	return fallback
}

func valueOf[T any](v *T, def T) T {
	if v == nil {
		return def
	}
	return *v
}
