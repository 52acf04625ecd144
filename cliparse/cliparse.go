package cliparse

import (
	"errors"
	"flag"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	ChannelURL  string
	DatabaseURL string
	RoomID      string
	UserID      string
	Username    string
	IsHost      bool
	StatusPort  int
}

// ParseFlags validates flags, falling back to environment variables. A .env
// file in the working directory is loaded first if present.
func ParseFlags(args []string) (Config, error) {
	// Best effort; a missing .env is not an error.
	_ = godotenv.Load()

	var cfg Config

	fs := flag.NewFlagSet("watchlobby", flag.ContinueOnError)

	fs.StringVar(&cfg.ChannelURL, "c", "", "Realtime channel URL (ws:// or wss://)")
	fs.StringVar(&cfg.DatabaseURL, "d", "", "Database URL")
	fs.StringVar(&cfg.RoomID, "r", "", "Room ID to join")
	fs.StringVar(&cfg.UserID, "u", "", "User ID")
	fs.StringVar(&cfg.Username, "n", "", "Display name")
	fs.BoolVar(&cfg.IsHost, "host", false, "Run as the room host")
	fs.IntVar(&cfg.StatusPort, "status-port", 0, "Local status API port (0 disables)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	// Fall back to environment variables
	if cfg.ChannelURL == "" {
		cfg.ChannelURL = os.Getenv("CHANNEL_URL")
	}
	if cfg.ChannelURL == "" {
		return Config{}, errors.New("channel URL required (use -c or CHANNEL_URL env)")
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("database URL required (use -d or DATABASE_URL env)")
	}

	if cfg.RoomID == "" {
		cfg.RoomID = os.Getenv("ROOM_ID")
	}
	if cfg.RoomID == "" {
		return Config{}, errors.New("room ID required (use -r or ROOM_ID env)")
	}

	if cfg.UserID == "" {
		cfg.UserID = os.Getenv("USER_ID")
	}
	if cfg.UserID == "" {
		return Config{}, errors.New("user ID required (use -u or USER_ID env)")
	}

	if cfg.Username == "" {
		cfg.Username = os.Getenv("USERNAME")
	}
	if cfg.Username == "" {
		cfg.Username = cfg.UserID
	}

	if cfg.StatusPort == 0 {
		if portStr := os.Getenv("STATUS_PORT"); portStr != "" {
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return Config{}, errors.New("invalid STATUS_PORT env variable")
			}
			cfg.StatusPort = port
		}
	}

	if !cfg.IsHost && os.Getenv("IS_HOST") == "true" {
		cfg.IsHost = true
	}

	return cfg, nil
}
