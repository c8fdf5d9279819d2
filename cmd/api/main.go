package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"vidyahub.org/internal/access"
	"vidyahub.org/internal/authn"
	"vidyahub.org/internal/cache"
	"vidyahub.org/internal/config"
	"vidyahub.org/internal/httpapi"
	"vidyahub.org/internal/obs"
	"vidyahub.org/internal/otp"
	"vidyahub.org/internal/ratelimit"
	"vidyahub.org/internal/sms"
	"vidyahub.org/internal/storage"
	"vidyahub.org/internal/store"
	"vidyahub.org/internal/token"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	codec, err := token.NewCodec(cfg.AuthSecret, token.WithTTL(cfg.TokenTTL))
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	// Credential store. The DSN may be empty in development, which leaves
	// the API up with auth endpoints returning errors instead of crashing.
	var db *sql.DB
	users := store.UserStore(store.Disabled{})
	if cfg.PGDSN != "" {
		db, err = sql.Open("pgx", cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		users = store.NewPGUserStore(db)
	}

	// Shared cache for counters, codes, cached principals and rosters.
	shared := cache.NewMemory(cache.WithMaxSize(200_000))
	shared.StartSweeper(time.Minute)
	defer shared.Stop()

	resolver := authn.NewResolver(codec, users, shared)
	otpMgr := otp.NewManager(shared)
	counter := ratelimit.NewCounter(shared)
	counter.StartSweeper(time.Minute)
	defer counter.Stop()
	limiter := ratelimit.NewLimiter(codec, counter)

	uploadCounter := ratelimit.NewCounter(shared)
	uploadCounter.StartSweeper(time.Minute)
	defer uploadCounter.Stop()
	uploads := ratelimit.NewUploadLimiter(codec, uploadCounter)
	children := access.NewValidator(users, shared)

	var blobs storage.BlobStore
	if cfg.S3.Bucket != "" {
		s3, err := storage.NewS3Store(context.Background(), cfg.S3)
		if err != nil {
			log.Fatalf("s3: %v", err)
		}
		blobs = s3
	}

	api := httpapi.New(httpapi.Options{
		Version:    version,
		ReadyProbe: httpapi.ReadyProbe{DB: db},
		Codec:      codec,
		Resolver:   resolver,
		Users:      users,
		OTP:        otpMgr,
		Limiter:    limiter,
		Uploads:    uploads,
		Children:   children,
		Blobs:      blobs,
		SMS:        sms.ConsoleSender{},
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting vidyahub-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
