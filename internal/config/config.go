package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// Names of the configuration values. The same names are used as process
// environment variables, dotenv keys and (lower-cased) YAML keys.
const (
	KeyUploadURL     = "HTTP_URL"
	KeyDelay         = "DELAY_SECONDS"
	KeyLongDelay     = "LONG_DELAY_SECONDS"
	KeyFingerprint   = "FINGERPRINT"
	KeyToken         = "TOKEN"
	KeySnapshotURL   = "SNAPSHOT_URL"
	KeyRTSPURL       = "RTSP_URL"
	KeyPingHost      = "PING_HOST"
	KeyMaxRetries    = "MAX_RETRIES"
	KeyTimeout       = "TIMEOUT"
	KeyRTSPTimeout   = "RTSP_TIMEOUT"
	KeyCaptureMethod = "CAPTURE_METHOD"
	KeyArtifactPath  = "ARTIFACT_PATH"
	KeyLogLevel      = "LOG_LEVEL"
	KeyLogFormat     = "LOG_FORMAT"
	KeyUserAgent     = "USER_AGENT"
	KeyStatusAddr    = "STATUS_ADDR"
	KeyDatabaseURL   = "DATABASE_URL"
	KeyTelegramToken = "TELEGRAM_BOT_TOKEN"
	KeyTelegramChat  = "TELEGRAM_CHAT_ID"
)

// Placeholder credentials shipped in templates. They count as "not set".
const (
	PlaceholderFingerprint = "<fingerprint>"
	PlaceholderToken       = "<token>"
)

// DefaultEnvFile is the dotenv file consulted when no explicit path is given.
const DefaultEnvFile = ".env"

// Upper bounds for numeric values.
const (
	MaxSeconds    = 7 * 24 * 60 * 60
	MaxRetryCount = 10
)

var keys = []string{
	KeyUploadURL, KeyDelay, KeyLongDelay, KeyFingerprint, KeyToken,
	KeySnapshotURL, KeyRTSPURL, KeyPingHost, KeyMaxRetries, KeyTimeout,
	KeyRTSPTimeout, KeyCaptureMethod, KeyArtifactPath, KeyLogLevel,
	KeyLogFormat, KeyUserAgent, KeyStatusAddr, KeyDatabaseURL,
	KeyTelegramToken, KeyTelegramChat,
}

// CaptureMethod selects the image acquisition backend.
type CaptureMethod string

const (
	CaptureHTTP CaptureMethod = "http"
	CaptureRTSP CaptureMethod = "rtsp"
)

// Config is the validated, immutable runtime configuration.
type Config struct {
	UploadURL   string
	Fingerprint string
	Token       string

	CaptureMethod CaptureMethod
	SnapshotURL   string
	RTSPURL       string
	PingHost      string

	Delay       time.Duration // normal delay between cycles
	LongDelay   time.Duration // penalty delay after a failed cycle
	MaxRetries  int
	Timeout     time.Duration // HTTP capture/upload timeout
	RTSPTimeout time.Duration // video-stream frame acquisition timeout

	ArtifactPath string
	UserAgent    string

	Logging  LoggingConfig
	Status   StatusConfig
	Journal  JournalConfig
	Telegram TelegramConfig

	// Sources lists the files that contributed values, lowest precedence first.
	Sources []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type StatusConfig struct {
	Addr string // empty disables the status server
}

type JournalConfig struct {
	DatabaseURL string // empty disables the journal
}

type TelegramConfig struct {
	Token  string // empty disables notifications
	ChatID int64
}

// Options tells Load where to look for values.
type Options struct {
	// FilePath is an optional YAML file. A missing explicit file is an error.
	FilePath string
	// EnvFile is the dotenv file. Empty means ./.env, which may be absent.
	EnvFile string
	// Lookup reads the process environment. Defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

// Default returns the raw named values used when nothing overrides them.
func Default() map[string]string {
	return map[string]string{
		KeyUploadURL:     "https://webcam.connect.prusa3d.com/c/snapshot",
		KeyDelay:         "10",
		KeyLongDelay:     "60",
		KeyFingerprint:   PlaceholderFingerprint,
		KeyToken:         PlaceholderToken,
		KeySnapshotURL:   "http://localhost:8080/?action=snapshot",
		KeyRTSPURL:       "",
		KeyPingHost:      "prusa",
		KeyMaxRetries:    "3",
		KeyTimeout:       "30",
		KeyRTSPTimeout:   "10",
		KeyCaptureMethod: string(CaptureHTTP),
		KeyArtifactPath:  "/tmp/prusa_output.jpg",
		KeyLogLevel:      "info",
		KeyLogFormat:     "text",
		KeyUserAgent:     "webcam-uploader/1.0",
		KeyStatusAddr:    "",
		KeyDatabaseURL:   "",
		KeyTelegramToken: "",
		KeyTelegramChat:  "0",
	}
}

// Load merges defaults, the optional YAML file, the dotenv file and the
// process environment (highest precedence), then validates the result.
func Load(opts Options) (Config, error) {
	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	values := Default()
	var sources []string

	if path := strings.TrimSpace(opts.FilePath); path != "" {
		fileValues, err := readYAML(path)
		if err != nil {
			return Config{}, err
		}
		merge(values, fileValues)
		sources = append(sources, path)
	}

	envFile := strings.TrimSpace(opts.EnvFile)
	explicitEnv := envFile != ""
	if !explicitEnv {
		envFile = DefaultEnvFile
	}
	dotenv, err := godotenv.Read(envFile)
	switch {
	case err == nil:
		merge(values, dotenv)
		sources = append(sources, envFile)
	case errors.Is(err, fs.ErrNotExist) && !explicitEnv:
		// optional
	default:
		return Config{}, &Error{Field: "env-file", Reason: fmt.Sprintf("read %s: %v", envFile, err)}
	}

	for _, key := range keys {
		if v, ok := lookup(key); ok {
			values[key] = v
		}
	}

	cfg, err := parse(values)
	if err != nil {
		return Config{}, err
	}
	cfg.Sources = sources
	return cfg, nil
}

func readYAML(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Field: "config", Reason: fmt.Sprintf("read config: %v", err)}
	}

	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, &Error{Field: "config", Reason: fmt.Sprintf("parse yaml: %v", err)}
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		key := strings.ToUpper(strings.TrimSpace(k))
		if !known(key) {
			return nil, &Error{Field: k, Reason: "unknown configuration key"}
		}
		if v == nil {
			out[key] = ""
			continue
		}
		out[key] = fmt.Sprint(v)
	}
	return out, nil
}

func known(key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// merge copies recognised keys from src into dst. Unknown dotenv keys are
// ignored because .env files commonly carry unrelated variables.
func merge(dst, src map[string]string) {
	for k, v := range src {
		if known(k) {
			dst[k] = v
		}
	}
}

func parse(values map[string]string) (Config, error) {
	cfg := Config{
		UploadURL:     strings.TrimSpace(values[KeyUploadURL]),
		Fingerprint:   strings.TrimSpace(values[KeyFingerprint]),
		Token:         strings.TrimSpace(values[KeyToken]),
		CaptureMethod: CaptureMethod(strings.ToLower(strings.TrimSpace(values[KeyCaptureMethod]))),
		SnapshotURL:   strings.TrimSpace(values[KeySnapshotURL]),
		RTSPURL:       strings.TrimSpace(values[KeyRTSPURL]),
		PingHost:      strings.TrimSpace(values[KeyPingHost]),
		ArtifactPath:  strings.TrimSpace(values[KeyArtifactPath]),
		UserAgent:     strings.TrimSpace(values[KeyUserAgent]),
		Logging: LoggingConfig{
			Level:  values[KeyLogLevel],
			Format: values[KeyLogFormat],
		},
		Status:   StatusConfig{Addr: strings.TrimSpace(values[KeyStatusAddr])},
		Journal:  JournalConfig{DatabaseURL: strings.TrimSpace(values[KeyDatabaseURL])},
		Telegram: TelegramConfig{Token: strings.TrimSpace(values[KeyTelegramToken])},
	}

	var err error
	if cfg.Delay, err = seconds(values, KeyDelay); err != nil {
		return Config{}, err
	}
	if cfg.LongDelay, err = seconds(values, KeyLongDelay); err != nil {
		return Config{}, err
	}
	if cfg.Timeout, err = seconds(values, KeyTimeout); err != nil {
		return Config{}, err
	}
	if cfg.RTSPTimeout, err = seconds(values, KeyRTSPTimeout); err != nil {
		return Config{}, err
	}
	if cfg.MaxRetries, err = integer(values, KeyMaxRetries); err != nil {
		return Config{}, err
	}

	chat := strings.TrimSpace(values[KeyTelegramChat])
	if chat != "" {
		id, perr := strconv.ParseInt(chat, 10, 64)
		if perr != nil {
			return Config{}, &Error{Field: KeyTelegramChat, Reason: fmt.Sprintf("invalid integer %q", chat)}
		}
		cfg.Telegram.ChatID = id
	}

	if err := validateAndNormalize(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func seconds(values map[string]string, key string) (time.Duration, error) {
	n, err := integer(values, key)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, &Error{Field: key, Reason: "must be > 0"}
	}
	if n > MaxSeconds {
		return 0, &Error{Field: key, Reason: fmt.Sprintf("must be <= %d", MaxSeconds)}
	}
	return time.Duration(n) * time.Second, nil
}

func integer(values map[string]string, key string) (int, error) {
	raw := strings.TrimSpace(values[key])
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &Error{Field: key, Reason: fmt.Sprintf("invalid integer %q", raw)}
	}
	return n, nil
}

func validateAndNormalize(cfg *Config) error {
	if cfg.Fingerprint == "" || cfg.Fingerprint == PlaceholderFingerprint ||
		cfg.Token == "" || cfg.Token == PlaceholderToken {
		return &Error{Field: KeyFingerprint + "/" + KeyToken, Reason: "FINGERPRINT and TOKEN environment variables must be set"}
	}

	switch cfg.CaptureMethod {
	case CaptureHTTP, CaptureRTSP:
	default:
		return &Error{Field: KeyCaptureMethod, Reason: fmt.Sprintf("must be either 'http' or 'rtsp', got %q", cfg.CaptureMethod)}
	}

	if cfg.CaptureMethod == CaptureRTSP && cfg.RTSPURL == "" {
		return &Error{Field: KeyRTSPURL, Reason: "RTSP_URL must be set when CAPTURE_METHOD is 'rtsp'"}
	}
	if cfg.RTSPURL != "" {
		lower := strings.ToLower(cfg.RTSPURL)
		if !strings.HasPrefix(lower, "rtsp://") && !strings.HasPrefix(lower, "rtsps://") {
			return &Error{Field: KeyRTSPURL, Reason: "must start with rtsp:// or rtsps://"}
		}
	}

	if err := httpURL(KeyUploadURL, cfg.UploadURL); err != nil {
		return err
	}
	if err := httpURL(KeySnapshotURL, cfg.SnapshotURL); err != nil {
		return err
	}

	if cfg.PingHost == "" {
		return &Error{Field: KeyPingHost, Reason: "must not be empty"}
	}
	if strings.HasPrefix(cfg.PingHost, "-") || strings.ContainsAny(cfg.PingHost, " \t") {
		return &Error{Field: KeyPingHost, Reason: fmt.Sprintf("invalid host %q", cfg.PingHost)}
	}
	if cfg.MaxRetries < 0 {
		return &Error{Field: KeyMaxRetries, Reason: "cannot be negative"}
	}
	if cfg.MaxRetries > MaxRetryCount {
		return &Error{Field: KeyMaxRetries, Reason: fmt.Sprintf("must be <= %d", MaxRetryCount)}
	}
	if cfg.ArtifactPath == "" {
		return &Error{Field: KeyArtifactPath, Reason: "must not be empty"}
	}

	level, err := NormalizeLogLevel(cfg.Logging.Level)
	if err != nil {
		return &Error{Field: KeyLogLevel, Reason: err.Error()}
	}
	cfg.Logging.Level = level

	format, err := NormalizeFormat(cfg.Logging.Format)
	if err != nil {
		return &Error{Field: KeyLogFormat, Reason: err.Error()}
	}
	cfg.Logging.Format = format

	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID == 0 {
		return &Error{Field: KeyTelegramChat, Reason: "must be set when TELEGRAM_BOT_TOKEN is set"}
	}

	return nil
}

func httpURL(key, v string) error {
	if v == "" {
		return &Error{Field: key, Reason: "must not be empty"}
	}
	if !strings.HasPrefix(v, "http://") && !strings.HasPrefix(v, "https://") {
		return &Error{Field: key, Reason: "url must start with http:// or https://"}
	}
	return nil
}

// NormalizeLogLevel validates and lowercases known logging levels.
func NormalizeLogLevel(level string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return "info", nil
	case "debug":
		return "debug", nil
	case "warn", "warning":
		return "warn", nil
	case "error":
		return "error", nil
	default:
		return "", fmt.Errorf("unsupported log level %q", level)
	}
}

// NormalizeFormat validates and canonicalizes logging format identifiers.
func NormalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text", "console":
		return "text", nil
	case "json":
		return "json", nil
	default:
		return "", fmt.Errorf("unsupported log format %q", format)
	}
}
