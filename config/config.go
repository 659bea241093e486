package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"os"
)

type Config struct {
	AppName         string `json:"app_name"`
	ListenIP        string `json:"listen_ip"`
	ListenPort      int    `json:"listen_port"`
	SessionKey      string `json:"session_key"`
	DatabaseURL     string `json:"database_url"`
	PagesDir        string `json:"pages_dir"`
	StaticDir       string `json:"static_dir"`
	DownloadsDir    string `json:"downloads_dir"`
	AdminUsername   string `json:"admin_username"`
	AdminPassword   string `json:"admin_password"`
	SignupCaptcha   bool   `json:"signup_captcha"`
	LoginHistoryCap int    `json:"login_history_cap"`
}

// Load reads the JSON config file and applies environment overrides.
// The result is passed explicitly into the components that need it;
// there is no package-level config state.
func Load(path string) (Config, error) {
	var cfg Config

	file, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, err
	}

	// Environment overrides for deployment
	if envURL := os.Getenv("DATABASE_URL"); envURL != "" {
		cfg.DatabaseURL = envURL
	}
	if envKey := os.Getenv("SESSION_KEY"); envKey != "" {
		cfg.SessionKey = envKey
	}

	if cfg.PagesDir == "" {
		cfg.PagesDir = "pages"
	}
	if cfg.StaticDir == "" {
		cfg.StaticDir = "static"
	}
	if cfg.DownloadsDir == "" {
		cfg.DownloadsDir = "downloads"
	}
	if cfg.AdminUsername == "" {
		cfg.AdminUsername = "admin"
	}
	if cfg.LoginHistoryCap <= 0 {
		cfg.LoginHistoryCap = 100
	}

	// If no key is provided or it's the placeholder, generate a secure random one
	if cfg.SessionKey == "" || cfg.SessionKey == "CHANGE_ME_IN_PRODUCTION" {
		log.Println("WARNING: No session key configured. Generating a random key. Sessions will be invalidated on restart.")
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err != nil {
			return cfg, err
		}
		cfg.SessionKey = hex.EncodeToString(randomKey)
	}

	return cfg, nil
}
