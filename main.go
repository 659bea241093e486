package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/csrf"
	"github.com/joho/godotenv"

	"github.com/Pia-pr/meine-website/auth"
	"github.com/Pia-pr/meine-website/config"
	"github.com/Pia-pr/meine-website/db"
	"github.com/Pia-pr/meine-website/handlers"
	"github.com/Pia-pr/meine-website/i18n"
)

func main() {
	// .env is optional; real deployments set variables directly
	_ = godotenv.Load()

	cfg, err := config.Load("config.json")
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	if err := i18n.LoadTranslations("i18n"); err != nil {
		log.Fatalf("Error loading translations: %v", err)
	}

	store, err := db.New(cfg.DatabaseURL, cfg.LoginHistoryCap)
	if err != nil {
		log.Fatalf("Error connecting to database: %v", err)
	}
	defer store.Close()

	if err := store.EnsureAdmin(context.Background(), cfg.AdminUsername, cfg.AdminPassword); err != nil {
		log.Fatalf("Error creating admin account: %v", err)
	}

	sessions := auth.NewManager(cfg.SessionKey)
	h := handlers.New(cfg, store, sessions)

	pages := http.NewServeMux()
	pages.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StaticDir))))
	h.RegisterPages(pages)

	api := http.NewServeMux()
	h.RegisterAPI(api)

	// CSRF protection covers the form routes. The JSON API is exempt; it is
	// guarded by the admin session with SameSite=Lax cookies.
	csrfMiddleware := csrf.Protect(
		[]byte(cfg.SessionKey),
		csrf.Secure(false), // Set to true in production with HTTPS
		csrf.Path("/"),
	)

	root := http.NewServeMux()
	root.Handle("/api/", api)
	root.Handle("/", csrfMiddleware(pages))

	// Remember-me resolution runs before any route dispatch
	handler := handlers.CORSMiddleware(
		handlers.SecurityHeadersMiddleware(sessions.Remember(store)(root)))

	addr := fmt.Sprintf("%s:%d", cfg.ListenIP, cfg.ListenPort)
	log.Printf("Server starting on %s (%s)", addr, cfg.AppName)

	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatal(err)
	}
}
