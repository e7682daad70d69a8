package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/scythe504/drawguess/internal"
)

const EnvPrefix = "DRAWGUESS"

type Config struct {
	Bind      string
	Port      int
	TCPPort   int
	PublicURL string
	TLSCert   string
	TLSKey    string

	HandshakeTimeout time.Duration
	SendTimeout      time.Duration
	TickInterval     time.Duration
	RoomIdleTimeout  time.Duration
	MaxRooms         int
	QueueSize        int
	RateLimit        float64
	RateBurst        int

	RoundDuration     time.Duration
	CountdownDuration time.Duration
	RoundEndDuration  time.Duration
	GameOverDuration  time.Duration
	Rounds            int
	MinPlayers        int
	MaxPlayers        int
	FirstGuessPoints  int
	LaterGuessPoints  int
	DrawerPoints      int
	Fuzzy             bool
	FuzzyDistance     int
	AllowLateJoin     bool

	WordsFile   string
	DatabaseURL string
	MDNS        bool

	Verbose bool
	Version bool
}

func (c *Config) Validate() error {
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if c.TCPPort < 0 || c.TCPPort > 65535 {
		return fmt.Errorf("invalid tcp port (must be between 0-65535 inclusive): %d", c.TCPPort)
	}
	if c.TCPPort != 0 && c.TCPPort == c.Port {
		return fmt.Errorf("--tcp-port and --port must differ: %d", c.Port)
	}
	if c.MDNS && c.TCPPort == 0 {
		return errors.New("--mdns needs the TCP listener (--tcp-port)")
	}
	for name, d := range map[string]time.Duration{
		"handshake-timeout": c.HandshakeTimeout,
		"send-timeout":      c.SendTimeout,
		"tick-interval":     c.TickInterval,
		"room-idle-timeout": c.RoomIdleTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("--%s must be positive: %s", name, d)
		}
	}
	if c.MaxRooms < 1 {
		return fmt.Errorf("--max-rooms must be at least 1: %d", c.MaxRooms)
	}
	if c.RateLimit <= 0 || c.RateBurst < 1 {
		return fmt.Errorf("invalid rate limit: %v/s burst %d", c.RateLimit, c.RateBurst)
	}
	if c.PublicURL != "" {
		if u, err := url.Parse(c.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid --public-url: %q", c.PublicURL)
		}
	}
	return c.RoomDefaults().Validate()
}

func (c *Config) Scheme() string {
	if c.TLSCert != "" && c.TLSKey != "" {
		return "https"
	}
	return "http"
}

func (c *Config) Limit() rate.Limit { return rate.Limit(c.RateLimit) }

// RoomDefaults is the configuration new rooms start from.
func (c *Config) RoomDefaults() internal.RoomConfig {
	return internal.RoomConfig{
		RoundDuration:     c.RoundDuration,
		CountdownDuration: c.CountdownDuration,
		RoundEndDuration:  c.RoundEndDuration,
		GameOverDuration:  c.GameOverDuration,
		Rounds:            c.Rounds,
		MinPlayers:        c.MinPlayers,
		MaxPlayers:        c.MaxPlayers,
		FirstGuessPoints:  c.FirstGuessPoints,
		LaterGuessPoints:  c.LaterGuessPoints,
		DrawerPoints:      c.DrawerPoints,
		FuzzyMatch:        c.Fuzzy,
		FuzzyDistance:     c.FuzzyDistance,
		AllowLateJoin:     c.AllowLateJoin,
	}
}

// RegisterFlags adds every server flag to flags.
func RegisterFlags(flags *pflag.FlagSet, cfg *Config) {
	d := internal.DefaultRoomConfig()

	flags.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	flags.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: DRAWGUESS_BIND)")
	flags.IntVarP(&cfg.Port, "port", "p", 8080, "HTTP/WebSocket port to listen on (env: DRAWGUESS_PORT)")
	flags.IntVar(&cfg.TCPPort, "tcp-port", 7070, "framed TCP port to listen on, 0 to disable (env: DRAWGUESS_TCP_PORT)")
	flags.StringVar(&cfg.PublicURL, "public-url", "", "externally reachable base URL used in invite codes (env: DRAWGUESS_PUBLIC_URL)")
	flags.StringVar(&cfg.TLSCert, "tls-cert", "", "path to tls certificate (env: DRAWGUESS_TLS_CERT)")
	flags.StringVar(&cfg.TLSKey, "tls-key", "", "path to tls keyfile (env: DRAWGUESS_TLS_KEY)")

	flags.DurationVar(&cfg.HandshakeTimeout, "handshake-timeout", 10*time.Second, "time allowed for a new connection to send join (env: DRAWGUESS_HANDSHAKE_TIMEOUT)")
	flags.DurationVar(&cfg.SendTimeout, "send-timeout", 5*time.Second, "write deadline per frame before a peer is dropped (env: DRAWGUESS_SEND_TIMEOUT)")
	flags.DurationVar(&cfg.TickInterval, "tick-interval", 200*time.Millisecond, "round scheduler resolution (env: DRAWGUESS_TICK_INTERVAL)")
	flags.DurationVar(&cfg.RoomIdleTimeout, "room-idle-timeout", 10*time.Minute, "time before empty rooms are closed (env: DRAWGUESS_ROOM_IDLE_TIMEOUT)")
	flags.IntVar(&cfg.MaxRooms, "max-rooms", 256, "maximum number of open rooms (env: DRAWGUESS_MAX_ROOMS)")
	flags.IntVar(&cfg.QueueSize, "queue-size", 256, "outbound frames buffered per connection (env: DRAWGUESS_QUEUE_SIZE)")
	flags.Float64Var(&cfg.RateLimit, "rate-limit", 20, "chat/guess/stroke messages per second per connection (env: DRAWGUESS_RATE_LIMIT)")
	flags.IntVar(&cfg.RateBurst, "rate-burst", 40, "burst allowance for --rate-limit (env: DRAWGUESS_RATE_BURST)")

	flags.DurationVar(&cfg.RoundDuration, "round-duration", d.RoundDuration, "drawing time per round (env: DRAWGUESS_ROUND_DURATION)")
	flags.DurationVar(&cfg.CountdownDuration, "countdown-duration", d.CountdownDuration, "pause before each round (env: DRAWGUESS_COUNTDOWN_DURATION)")
	flags.DurationVar(&cfg.RoundEndDuration, "round-end-duration", d.RoundEndDuration, "time the answer stays on screen (env: DRAWGUESS_ROUND_END_DURATION)")
	flags.DurationVar(&cfg.GameOverDuration, "game-over-duration", d.GameOverDuration, "time the leaderboard stays up (env: DRAWGUESS_GAME_OVER_DURATION)")
	flags.IntVar(&cfg.Rounds, "rounds", d.Rounds, "rounds per game (env: DRAWGUESS_ROUNDS)")
	flags.IntVar(&cfg.MinPlayers, "min-players", d.MinPlayers, "players needed to start (env: DRAWGUESS_MIN_PLAYERS)")
	flags.IntVar(&cfg.MaxPlayers, "max-players", d.MaxPlayers, "room capacity (env: DRAWGUESS_MAX_PLAYERS)")
	flags.IntVar(&cfg.FirstGuessPoints, "first-guess-points", d.FirstGuessPoints, "points for the first correct guess (env: DRAWGUESS_FIRST_GUESS_POINTS)")
	flags.IntVar(&cfg.LaterGuessPoints, "later-guess-points", d.LaterGuessPoints, "points for later correct guesses (env: DRAWGUESS_LATER_GUESS_POINTS)")
	flags.IntVar(&cfg.DrawerPoints, "drawer-points", d.DrawerPoints, "drawer points per correct guess (env: DRAWGUESS_DRAWER_POINTS)")
	flags.BoolVar(&cfg.Fuzzy, "fuzzy", d.FuzzyMatch, "accept near-miss guesses (env: DRAWGUESS_FUZZY)")
	flags.IntVar(&cfg.FuzzyDistance, "fuzzy-distance", d.FuzzyDistance, "edit distance accepted with --fuzzy (env: DRAWGUESS_FUZZY_DISTANCE)")
	flags.BoolVar(&cfg.AllowLateJoin, "allow-late-join", d.AllowLateJoin, "let players join a game in progress (env: DRAWGUESS_ALLOW_LATE_JOIN)")

	flags.StringVar(&cfg.WordsFile, "words-file", "", "word list (.csv word,category or one word per line) (env: DRAWGUESS_WORDS_FILE)")
	flags.StringVar(&cfg.DatabaseURL, "database-url", "", "postgres connection string for words and game history (env: DRAWGUESS_DATABASE_URL)")
	flags.BoolVar(&cfg.MDNS, "mdns", false, "advertise the TCP endpoint over mDNS (env: DRAWGUESS_MDNS)")

	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "display additional output (env: DRAWGUESS_VERBOSE)")
	flags.BoolVarP(&cfg.Version, "version", "V", false, "display version and exit (env: DRAWGUESS_VERSION)")
}

// Load fills unset flags from the environment, reading a .env file first
// when one exists.
func Load(flags *pflag.FlagSet, envFiles ...string) error {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var setErr error
	flags.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			if err := flags.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); err != nil && setErr == nil {
				setErr = fmt.Errorf("invalid value for %s_%s: %w", EnvPrefix, strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_")), err)
			}
		}
	})
	return setErr
}
