// Package config is the settings store: it decodes the gateway's TOML
// configuration file (local or s3://), applies built-in defaults, and
// optionally watches the local file and re-reads it when it changes.
package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/jinzhu/copier"
	"gopkg.in/amz.v1/aws"
	"gopkg.in/amz.v1/s3"
)

type TLSConfig struct {
	KeystoreFile   string `toml:"keystoreFile"`
	KeystoreType   string `toml:"keystoreType"`
	KeystorePass   string `toml:"keystorePass"`
	KeyPass        string `toml:"keyPass"`
	TruststoreFile string `toml:"truststoreFile"`
	TruststoreType string `toml:"truststoreType"`
	TruststorePass string `toml:"truststorePass"`
	NeedClientAuth bool   `toml:"needClientAuth"`
}

type ProxyConfig struct {
	Enabled  bool   `toml:"enableProxy"`
	Host     string `toml:"proxyHost"`
	Port     int    `toml:"proxyPort"`
	User     string `toml:"proxyUser"`
	Password string `toml:"proxyPassword"`
}

type StatusConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
	TLS     bool   `toml:"tls"`
	Cert    string `toml:"cert"`
	Key     string `toml:"key"`
}

// Config is the top-level settings struct, flattened into TOML tables.
type Config struct {
	URL             string `toml:"url"`
	Backend         string `toml:"backend"` // "webdav" or "graph"
	UseGraphAPI     bool   `toml:"useGraphApi"`
	BindAddress     string `toml:"bindAddress"`
	LdapPort        int    `toml:"ldapPort"`
	AllowRemote     bool   `toml:"allowRemote"`
	ClientSoTimeout int    `toml:"clientSoTimeout"`
	Debug           bool   `toml:"debug"`
	Syslog          bool   `toml:"syslog"`
	WatchConfig     bool   `toml:"watchConfig"`

	SSL    TLSConfig    `toml:"ssl"`
	Proxy  ProxyConfig  `toml:"proxy"`
	Status StatusConfig `toml:"status"`

	AwsAccessKeyID     string `toml:"awsAccessKeyId"`
	AwsSecretAccessKey string `toml:"awsSecretAccessKey"`
	AwsRegion          string `toml:"awsRegion"`

	path string // local file path; empty when loaded from s3:// (Watch cannot follow it)
}

// Defaults returns the built-in values applied before a TOML decode
// overwrites them with whatever the file actually sets.
func Defaults() Config {
	return Config{
		Backend:         "webdav",
		LdapPort:        389,
		ClientSoTimeout: 300,
		AwsRegion:       "us-east-1",
	}
}

// Load reads cfg from a local file path or an s3:// URL, starting from
// Defaults() (copied in via copier) and letting the decoded file override
// them field by field.
func Load(location, awsKeyID, awsSecretKey, awsRegion string) (*Config, error) {
	defaults := Defaults()
	cfg := &Config{}
	if err := copier.Copy(cfg, &defaults); err != nil {
		return nil, fmt.Errorf("config: applying defaults: %w", err)
	}

	if strings.HasPrefix(location, "s3://") {
		if err := loadFromS3(cfg, location, awsKeyID, awsSecretKey, awsRegion); err != nil {
			return nil, err
		}
	} else {
		if _, err := toml.DecodeFile(location, cfg); err != nil {
			return nil, fmt.Errorf("config: decoding %s: %w", location, err)
		}
		cfg.path = location
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromS3(cfg *Config, location, awsKeyID, awsSecretKey, awsRegion string) error {
	region, present := aws.Regions[awsRegion]
	if !present {
		return fmt.Errorf("config: invalid AWS region: %s", awsRegion)
	}

	auth, err := aws.EnvAuth()
	if err != nil {
		if awsKeyID == "" || awsSecretKey == "" {
			return fmt.Errorf("config: AWS credentials not found: supply -K/-S flags or AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY")
		}
		auth = aws.Auth{AccessKey: awsKeyID, SecretKey: awsSecretKey}
	}

	s3url := strings.TrimPrefix(location, "s3://")
	parts := strings.SplitN(s3url, "/", 2)
	if len(parts) != 2 {
		return fmt.Errorf("config: invalid S3 URL: %s", s3url)
	}
	bucket := s3.New(auth, region).Bucket(parts[0])
	data, err := bucket.Get(parts[1])
	if err != nil {
		return fmt.Errorf("config: fetching %s: %w", location, err)
	}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return fmt.Errorf("config: decoding s3 object: %w", err)
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.URL == "" {
		return fmt.Errorf("config: davmail.url is required")
	}
	switch cfg.Backend {
	case "webdav", "graph":
	case "":
		cfg.Backend = "webdav"
	default:
		return fmt.Errorf("config: invalid backend %q - must be 'webdav' or 'graph'", cfg.Backend)
	}
	if cfg.Backend == "graph" {
		cfg.UseGraphAPI = true
	}
	if cfg.ClientSoTimeout <= 0 {
		cfg.ClientSoTimeout = 300
	}
	if cfg.LdapPort == 0 {
		cfg.LdapPort = 389
	}
	return nil
}

// Path reports the local file path Load read from, or "" when the
// config was loaded from s3:// (which Watch cannot follow).
func (c *Config) Path() string { return c.path }
