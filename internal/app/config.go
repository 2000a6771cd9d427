package app

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Netflix/go-env"
)

// ServerConfig defines how the HTTP/WebSocket backend should run. Every field
// can be set from the environment; cmd flags override on top.
type ServerConfig struct {
	Addr     string `env:"CODEROOM_ADDR,default=:8080"`
	Path     string `env:"CODEROOM_WS_PATH,default=/ws"`
	DBPath   string `env:"CODEROOM_DB_PATH"`
	LogLevel string `env:"CODEROOM_LOG_LEVEL,default=INFO"`

	JWTSecret string        `env:"CODEROOM_JWT_SECRET"`
	TokenTTL  time.Duration `env:"CODEROOM_TOKEN_TTL,default=24h"`

	EvictionGrace   time.Duration `env:"CODEROOM_EVICTION_GRACE,default=30s"`
	SendBuffer      int           `env:"CODEROOM_SEND_BUFFER,default=256"`
	MaxCodeBytes    int           `env:"CODEROOM_MAX_CODE_BYTES,default=262144"`
	MaxMessageBytes int           `env:"CODEROOM_MAX_MESSAGE_BYTES,default=4096"`
	ReadLimit       int64         `env:"CODEROOM_READ_LIMIT,default=1048576"`
	DedupWindow     int           `env:"CODEROOM_DEDUP_WINDOW,default=256"`
	StrictRooms     bool          `env:"CODEROOM_STRICT_ROOMS,default=false"`

	ChatRateLimit  int           `env:"CODEROOM_CHAT_RATE_LIMIT,default=20"`
	ChatRateWindow time.Duration `env:"CODEROOM_CHAT_RATE_WINDOW,default=10s"`
	AuthRateLimit  int           `env:"CODEROOM_AUTH_RATE_LIMIT,default=10"`
	AuthRateWindow time.Duration `env:"CODEROOM_AUTH_RATE_WINDOW,default=1m"`

	CensoredWords   string `env:"CODEROOM_CENSORED_WORDS"`
	CharReplacement string `env:"CODEROOM_CHAR_REPLACEMENT,default=*"`

	ExecutorURL     string        `env:"CODEROOM_EXECUTOR_URL"`
	ExecutorTimeout time.Duration `env:"CODEROOM_EXECUTOR_TIMEOUT,default=15s"`
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL string `env:"CODEROOM_SERVER_URL,default=ws://localhost:8080/ws"`
	Username  string `env:"CODEROOM_USERNAME"`
	RoomID    string `env:"CODEROOM_ROOM"`
}

// LoadServerConfig reads ServerConfig from the environment and fills the
// database path default.
func LoadServerConfig() (ServerConfig, error) {
	var cfg ServerConfig
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("config error: %w", err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath()
	}
	return cfg, nil
}

func LoadClientConfig() (ClientConfig, error) {
	var cfg ClientConfig
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("config error: %w", err)
	}
	return cfg, nil
}

// Words splits the comma separated censored word list.
func (c ServerConfig) Words() []string {
	var words []string
	for _, word := range strings.Split(c.CensoredWords, ",") {
		if word = strings.TrimSpace(word); word != "" {
			words = append(words, word)
		}
	}
	return words
}

// Replacement is the single rune used to mask censored words.
func (c ServerConfig) Replacement() (rune, error) {
	if c.CharReplacement == "" {
		return '*', nil
	}
	r, size := utf8.DecodeRuneInString(c.CharReplacement)
	if r == utf8.RuneError || size != len(c.CharReplacement) {
		return 0, fmt.Errorf("char replacement must be a single character, got %q", c.CharReplacement)
	}
	return r, nil
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if dir := os.Getenv("CODEROOM_DATA_DIR"); dir != "" {
		return filepath.Join(dir, "coderoom.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "coderoom", "coderoom.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Coderoom", "coderoom.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Coderoom", "coderoom.db")
		}
		return filepath.Join(home, ".local", "share", "coderoom", "coderoom.db")
	}
	return filepath.Join(".", ".coderoom", "coderoom.db")
}

// NormalizeWSPath guarantees the websocket path starts with '/' and falls
// back to /ws when empty.
func NormalizeWSPath(path string) string {
	if path == "" {
		return "/ws"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
