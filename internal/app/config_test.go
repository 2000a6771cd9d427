package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadServerConfig_Defaults(t *testing.T) {
	req := require.New(t)
	t.Setenv("CODEROOM_DATA_DIR", t.TempDir())

	cfg, err := LoadServerConfig()

	req.NoError(err)
	req.Equal(":8080", cfg.Addr)
	req.Equal("/ws", cfg.Path)
	req.Equal(30*time.Second, cfg.EvictionGrace)
	req.Equal(256, cfg.DedupWindow)
	req.Equal(24*time.Hour, cfg.TokenTTL)
	req.Contains(cfg.DBPath, "coderoom.db")
}

func TestLoadServerConfig_FromEnvironment(t *testing.T) {
	req := require.New(t)
	t.Setenv("CODEROOM_ADDR", "127.0.0.1:9999")
	t.Setenv("CODEROOM_EVICTION_GRACE", "5s")
	t.Setenv("CODEROOM_STRICT_ROOMS", "true")
	t.Setenv("CODEROOM_CENSORED_WORDS", "foo, bar ,,")
	t.Setenv("CODEROOM_CHAR_REPLACEMENT", "#")

	cfg, err := LoadServerConfig()

	req.NoError(err)
	req.Equal("127.0.0.1:9999", cfg.Addr)
	req.Equal(5*time.Second, cfg.EvictionGrace)
	req.True(cfg.StrictRooms)
	req.Equal([]string{"foo", "bar"}, cfg.Words())
	replacement, err := cfg.Replacement()
	req.NoError(err)
	req.Equal('#', replacement)
}

func TestServerConfig_ReplacementMustBeOneRune(t *testing.T) {
	req := require.New(t)

	_, err := ServerConfig{CharReplacement: "**"}.Replacement()
	req.Error(err)

	r, err := ServerConfig{CharReplacement: "é"}.Replacement()
	req.NoError(err)
	req.Equal('é', r)
}

func TestNormalizeWSPath(t *testing.T) {
	req := require.New(t)
	req.Equal("/ws", NormalizeWSPath(""))
	req.Equal("/live", NormalizeWSPath("live"))
	req.Equal("/live", NormalizeWSPath("/live"))
}
