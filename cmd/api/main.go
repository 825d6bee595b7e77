package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skip2/go-qrcode"

	"presensi/internal/auth"
	"presensi/internal/config"
	"presensi/internal/httpmiddleware"
	"presensi/internal/ledger"
	"presensi/internal/metrics"
	"presensi/internal/proof"
	"presensi/internal/queue"
	"presensi/internal/reconcile"
	"presensi/internal/schedule"
	"presensi/internal/store"
	"presensi/internal/summary"
	"presensi/internal/token"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "presensi:attendance")
	}

	schedules := schedule.NewClient(cfg.ScheduleURL, cfg.ScheduleSkip)

	var records ledger.Store
	if cfg.LedgerBackend == "postgres" && db != nil {
		records = ledger.NewPostgres(db.Client)
	} else {
		if cfg.LedgerBackend == "postgres" {
			log.Println("warning: postgres ledger requested but db unreachable, using memory")
		}
		records = ledger.NewMemory()
	}

	tokens := token.NewStore(schedules, token.Options{
		DefaultTTL: cfg.TokenTTL,
		MinTTL:     cfg.TokenTTLMin,
		MaxTTL:     cfg.TokenTTLMax,
		Grace:      cfg.TokenGrace,
	})

	m := metrics.New()
	engine := reconcile.New(tokens, records, schedules, q, m)
	summaries := summary.New(records)

	// Proof upload client (nil when not configured)
	var proofClient *proof.Client
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		proofClient = proof.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("proof storage configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("proof storage not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
	}

	gcCtx, stopGC := context.WithCancel(context.Background())
	defer stopGC()
	go func() {
		ticker := time.NewTicker(cfg.TokenGCInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := tokens.PurgeExpired(); n > 0 {
					log.Printf("purged %d expired check-in tokens", n)
				}
			case <-gcCtx.Done():
				return
			}
		}
	}()

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db != nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	// Mints a JWT for an already-authenticated actor. Identity lives with the
	// upstream gateway; this exists for dev and for gateways that delegate
	// token minting here.
	r.POST("/v1/actors/token", func(c *gin.Context) {
		var req struct {
			ActorID string `json:"actor_id" binding:"required"`
			Role    string `json:"role" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Role != auth.RoleStudent && req.Role != auth.RoleTeacher && req.Role != auth.RoleOfficer {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
			return
		}

		pair, err := auth.Issue(req.ActorID, req.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  pair.AccessToken,
			"refresh_token": pair.RefreshToken,
			"expires_at":    pair.AccessExp.Unix(),
		})
	})

	authGroup := r.Group("/v1", auth.ActorAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	authGroup.POST("/tokens", func(c *gin.Context) {
		var req struct {
			ScheduleID   string `json:"schedule_id" binding:"required"`
			AttendeeType string `json:"attendee_type" binding:"required"`
			TTLMinutes   int    `json:"ttl_minutes"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims, _ := auth.FromContext(c)

		tok, err := tokens.Issue(c.Request.Context(), token.Scope{
			ScheduleID:   req.ScheduleID,
			AttendeeType: token.AttendeeType(req.AttendeeType),
			IssuerID:     claims.ActorID,
		}, time.Duration(req.TTLMinutes)*time.Minute)
		if err != nil {
			writeError(c, err)
			return
		}
		m.TokensIssued.Inc()

		c.JSON(http.StatusCreated, gin.H{
			"token":      tok.Value,
			"expires_at": tok.ExpiresAt,
			"scope":      tok.Scope,
		})
	})

	authGroup.GET("/tokens/:token/qr", func(c *gin.Context) {
		tok, err := tokens.Peek(c.Param("token"))
		if err != nil {
			writeError(c, err)
			return
		}
		png, err := qrcode.Encode(tok.Value, qrcode.Medium, 256)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "qr encode failed"})
			return
		}
		c.Data(http.StatusOK, "image/png", png)
	})

	authGroup.DELETE("/tokens/:token", func(c *gin.Context) {
		tokens.Revoke(c.Param("token"))
		c.Status(http.StatusNoContent)
	})

	authGroup.POST("/scans", func(c *gin.Context) {
		var req struct {
			Token    string `json:"token" binding:"required"`
			DeviceID string `json:"device_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims, _ := auth.FromContext(c)

		outcome := engine.ApplyScan(c.Request.Context(), req.Token, claims.ActorID, req.DeviceID)
		if outcome.Err != nil {
			writeError(c, outcome.Err)
			return
		}
		c.JSON(http.StatusCreated, outcomeJSON(outcome))
	})

	teacherGroup := authGroup.Group("", auth.RequireRole(auth.RoleTeacher))

	teacherGroup.POST("/attendance", func(c *gin.Context) {
		var req struct {
			AttendeeID string `json:"attendee_id" binding:"required"`
			ScheduleID string `json:"schedule_id" binding:"required"`
			Date       string `json:"date" binding:"required"`
			Status     string `json:"status" binding:"required"`
			Reason     string `json:"reason"`
			ProofRef   string `json:"proof_ref"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims, _ := auth.FromContext(c)

		outcome := engine.ApplyManual(c.Request.Context(), req.ScheduleID, req.Date, claims.ActorID, reconcile.ManualEntry{
			AttendeeID: req.AttendeeID,
			Status:     normalizeStatus(req.Status),
			Reason:     req.Reason,
			ProofRef:   req.ProofRef,
		})
		if outcome.Err != nil {
			writeError(c, outcome.Err)
			return
		}
		c.JSON(http.StatusOK, outcomeJSON(outcome))
	})

	teacherGroup.POST("/attendance/bulk", func(c *gin.Context) {
		var req struct {
			ScheduleID string `json:"schedule_id" binding:"required"`
			Date       string `json:"date" binding:"required"`
			Items      []struct {
				AttendeeID string `json:"attendee_id" binding:"required"`
				Status     string `json:"status" binding:"required"`
				Reason     string `json:"reason"`
				ProofRef   string `json:"proof_ref"`
			} `json:"items" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims, _ := auth.FromContext(c)

		entries := make([]reconcile.ManualEntry, 0, len(req.Items))
		for _, item := range req.Items {
			entries = append(entries, reconcile.ManualEntry{
				AttendeeID: item.AttendeeID,
				Status:     normalizeStatus(item.Status),
				Reason:     item.Reason,
				ProofRef:   item.ProofRef,
			})
		}

		outcomes, err := engine.ApplyBulk(c.Request.Context(), req.ScheduleID, req.Date, claims.ActorID, entries)
		if err != nil {
			writeError(c, err)
			return
		}

		applied := 0
		results := make([]gin.H, 0, len(outcomes))
		for _, o := range outcomes {
			if o.Applied {
				applied++
			}
			results = append(results, outcomeJSON(o))
		}
		status := http.StatusOK
		if applied == 0 {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"applied": applied, "outcomes": results})
	})

	// Upload endpoint — uploads a base64 image or multipart file as a leave
	// proof and returns the opaque file ref callers put in proof_ref.
	authGroup.POST("/proofs", func(c *gin.Context) {
		if proofClient == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "proof storage not configured"})
			return
		}

		contentType := c.ContentType()
		var result *proof.UploadResult
		var err error

		switch {
		case strings.Contains(contentType, "multipart/form-data"):
			file, header, ferr := c.Request.FormFile("file")
			if ferr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
				return
			}
			defer file.Close()
			data, ferr := io.ReadAll(file)
			if ferr != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
				return
			}
			result, err = proofClient.UploadBytes(data, header.Filename)

		default:
			var body struct {
				Data string `json:"data" binding:"required"`
			}
			if berr := c.ShouldBindJSON(&body); berr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "provide {\"data\": \"<base64 data URL>\"}"})
				return
			}
			result, err = proofClient.UploadBase64(body.Data)
		}

		if err != nil {
			log.Printf("proof upload failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "proof upload failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"file_ref": result.PublicID,
			"url":      result.SecureURL,
			"bytes":    result.Bytes,
		})
	})

	authGroup.GET("/summaries/daily", func(c *gin.Context) {
		attendeeID := c.Query("attendee_id")
		if attendeeID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "attendee_id required"})
			return
		}
		counts, err := summaries.Daily(c.Request.Context(), attendeeID, c.Query("from"), c.Query("to"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"attendee_id": attendeeID, "counts": counts})
	})

	authGroup.GET("/summaries/monthly", func(c *gin.Context) {
		attendeeID := c.Query("attendee_id")
		if attendeeID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "attendee_id required"})
			return
		}
		from, to := c.Query("from"), c.Query("to")
		if from == "" || to == "" {
			now := time.Now().UTC()
			to = now.Format("2006-01")
			from = now.AddDate(0, -2, 0).Format("2006-01")
		}
		months, err := summaries.Monthly(c.Request.Context(), attendeeID, from, to)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"attendee_id": attendeeID, "months": months})
	})

	authGroup.GET("/summaries/class", func(c *gin.Context) {
		classID := c.Query("class_id")
		if classID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "class_id required"})
			return
		}
		students, err := summaries.Class(c.Request.Context(), classID, c.Query("from"), c.Query("to"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"class_id": classID, "students": students})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	stopGC()

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// outcomeJSON renders one reconciliation outcome, with a stable error code
// for rejected bulk items.
func outcomeJSON(o reconcile.Outcome) gin.H {
	h := gin.H{
		"attendee_id": o.AttendeeID,
		"schedule_id": o.ScheduleID,
		"date":        o.Date,
		"applied":     o.Applied,
	}
	if o.Applied {
		h["status"] = o.Status
		h["source"] = o.Source
		if o.ProofRequired {
			h["proof_required"] = true
		}
	}
	if o.Err != nil {
		_, code := errorCode(o.Err)
		h["error"] = code
	}
	return h
}

// writeError translates engine sentinels into distinct HTTP responses; the
// client reaction differs per kind (expired means request a new code,
// already redeemed means already checked in).
func writeError(c *gin.Context, err error) {
	status, code := errorCode(err)
	c.JSON(status, gin.H{"error": code})
}

func errorCode(err error) (int, string) {
	switch {
	case errors.Is(err, token.ErrNotFound):
		return http.StatusNotFound, "token_not_found"
	case errors.Is(err, token.ErrExpired):
		return http.StatusGone, "token_expired"
	case errors.Is(err, token.ErrAlreadyRedeemed):
		return http.StatusConflict, "token_already_redeemed"
	case errors.Is(err, token.ErrScopeMismatch):
		return http.StatusForbidden, "token_scope_mismatch"
	case errors.Is(err, token.ErrInvalidScope):
		return http.StatusUnprocessableEntity, "invalid_scope"
	case errors.Is(err, reconcile.ErrAlreadyRecorded):
		return http.StatusConflict, "already_recorded"
	case errors.Is(err, reconcile.ErrInvalidStatus):
		return http.StatusUnprocessableEntity, "invalid_status"
	case errors.Is(err, reconcile.ErrFutureDate):
		return http.StatusUnprocessableEntity, "future_date"
	case errors.Is(err, ledger.ErrBadDate):
		return http.StatusUnprocessableEntity, "bad_date"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
