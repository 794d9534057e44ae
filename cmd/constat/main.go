// Command constat runs the evidence chain service: HTTP API, optional MCP
// over stdio or QUIC, page inspection in static or live mode, and the
// append-only chain store underneath.
package main

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hazyhaar/constat/audit"
	"github.com/hazyhaar/constat/auth"
	"github.com/hazyhaar/constat/connectivity"
	"github.com/hazyhaar/constat/dbopen"
	"github.com/hazyhaar/constat/garde"
	"github.com/hazyhaar/constat/greffe"
	"github.com/hazyhaar/constat/idgen"
	"github.com/hazyhaar/constat/inspector"
	"github.com/hazyhaar/constat/mcpquic"
	"github.com/hazyhaar/constat/report"
	"github.com/hazyhaar/constat/shield"
	"github.com/hazyhaar/constat/snapshot"
	"github.com/hazyhaar/constat/vault"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

const defaultAdminPassword = "constat-admin"

func main() {
	port := env("CONSTAT_PORT", "8080")
	secretInput := os.Getenv("CONSTAT_SECRET")
	if secretInput == "" {
		slog.Error("CONSTAT_SECRET is required")
		os.Exit(1)
	}
	// Derive the 32-byte JWT signing key via SHA-256 (satisfies garde.MinSecretLen).
	secretHash := sha256.Sum256([]byte(secretInput))
	jwtSecret := secretHash[:]

	dataDir := env("CONSTAT_DATA_DIR", "data")
	dbPath := env("CONSTAT_DB", "db/constat.db")
	mcpMode := env("CONSTAT_MCP", "")
	quicAddr := os.Getenv("CONSTAT_MCP_QUIC_ADDR")
	logLevel := env("CONSTAT_LOG_LEVEL", "info")

	// Logging. Stderr, because stdout belongs to MCP when serving stdio.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Service DB: audit trail, users, shield rules, connectivity routes.
	db, err := dbopen.Open(dbPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("open db", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := connectivity.Init(db); err != nil {
		slog.Error("connectivity init", "error", err)
		os.Exit(1)
	}
	if err := shield.Init(db); err != nil {
		slog.Error("shield init", "error", err)
		os.Exit(1)
	}
	if err := migrateUsers(db); err != nil {
		slog.Error("migrate users", "error", err)
		os.Exit(1)
	}

	auditLogger := audit.NewSQLiteLogger(db)
	if err := auditLogger.Init(); err != nil {
		slog.Error("audit init", "error", err)
		os.Exit(1)
	}
	defer auditLogger.Close()

	if err := seedAdmin(ctx, db); err != nil {
		slog.Error("seed admin", "error", err)
		os.Exit(1)
	}
	seedLoginRateLimit(ctx, db)

	// Vault and chain service.
	store, err := vault.New(dataDir)
	if err != nil {
		slog.Error("vault", "error", err)
		os.Exit(1)
	}
	chains, err := greffe.New(store, logger, greffe.WithAudit(auditLogger))
	if err != nil {
		slog.Error("chain service", "error", err)
		os.Exit(1)
	}
	shots, err := snapshot.New(store, logger)
	if err != nil {
		slog.Error("snapshot capturer", "error", err)
		os.Exit(1)
	}

	// Inspector.
	inspCfg, err := inspectorConfig()
	if err != nil {
		slog.Error("inspector config", "error", err)
		os.Exit(1)
	}
	insp, err := inspector.New(inspCfg, logger)
	if err != nil {
		slog.Error("inspector", "error", err)
		os.Exit(1)
	}
	if err := insp.Start(ctx); err != nil {
		slog.Error("inspector start", "error", err)
		os.Exit(1)
	}
	defer insp.Close()

	// Capture channel. The local inspector serves "capture"; a routes row
	// can repoint it at a remote inspector over http or mcp without a
	// restart.
	router := connectivity.New(connectivity.WithLogger(logger))
	// A misbehaving page must not take the service down with it.
	router.RegisterLocal("capture", connectivity.Chain(
		connectivity.Recovery(logger),
		connectivity.WithCallLogging(logger, "capture"),
	)(insp.Handler()))
	router.RegisterTransport("http", connectivity.HTTPFactory())
	router.RegisterTransport("mcp", connectivity.MCPFactory())
	go router.Watch(ctx, db, 15*time.Second)
	defer router.Close()

	renderer := report.NewRenderer()

	obs := &observeService{
		router: router,
		chains: chains,
		shots:  shots,
		render: renderer,
		logger: logger,
	}

	// Optional MCP.
	if mcpMode == "stdio" || quicAddr != "" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "constat",
			Version: "1.0.0",
		}, nil)
		chains.RegisterMCP(mcpSrv)
		obs.registerMCP(mcpSrv, auditLogger)

		if quicAddr != "" {
			certFile := env("CONSTAT_TLS_CERT", "")
			keyFile := env("CONSTAT_TLS_KEY", "")

			var tlsCfg *tls.Config
			if certFile != "" && keyFile != "" {
				tlsCfg, err = mcpquic.ServerTLSConfig(certFile, keyFile)
			} else {
				tlsCfg, err = mcpquic.SelfSignedTLSConfig()
			}
			if err != nil {
				slog.Error("MCP QUIC TLS", "error", err)
			} else {
				ql, qErr := mcpquic.NewListener(quicAddr, tlsCfg, mcpSrv, logger)
				if qErr != nil {
					slog.Error("MCP QUIC listener", "error", qErr)
				} else {
					go func() {
						slog.Info("MCP QUIC starting", "addr", quicAddr)
						if sErr := ql.Serve(ctx); sErr != nil && ctx.Err() == nil {
							slog.Error("MCP QUIC", "error", sErr)
						}
					}()
				}
			}
		}

		if mcpMode == "stdio" {
			go func() {
				slog.Info("MCP stdio starting")
				if sErr := mcpSrv.Run(ctx, &mcp.StdioTransport{}); sErr != nil && ctx.Err() == nil {
					slog.Error("MCP stdio", "error", sErr)
				}
			}()
		}
	}

	users := &userStore{db: db}

	// Router.
	r := chi.NewRouter()
	stack, limiter, maint := shield.DefaultStack(db)
	for _, mw := range stack {
		r.Use(mw)
	}
	limiter.StartReloader(ctx.Done())
	maint.StartReloader(ctx.Done())
	r.Use(auth.Middleware(jwtSecret)) // Soft parse on all routes; enforcement is per-group.

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Post("/api/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}
		entry := &audit.Entry{Action: "login"}
		if params, err := json.Marshal(map[string]string{"username": req.Username}); err == nil {
			entry.Parameters = string(params)
		}
		claims, err := users.authenticate(r.Context(), req.Username, req.Password)
		if err != nil {
			entry.Error = "invalid credentials"
			auditLogger.LogAsync(entry)
			writeJSON(w, 401, map[string]string{"error": "invalid credentials"})
			return
		}
		entry.UserID = claims.UserID
		auditLogger.LogAsync(entry)

		token, err := auth.GenerateToken(jwtSecret, claims, 24*time.Hour)
		if err != nil {
			writeError(w, 500, err)
			return
		}
		secure := r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
		auth.SetTokenCookie(w, token, "", secure)
		writeJSON(w, 200, map[string]string{"token": token})
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Get("/api/chains", func(w http.ResponseWriter, r *http.Request) {
			ids, err := chains.List(r.Context())
			if err != nil {
				writeError(w, 500, err)
				return
			}
			if ids == nil {
				ids = []string{}
			}
			writeJSON(w, 200, ids)
		})

		r.Get("/api/chains/{chainID}", func(w http.ResponseWriter, r *http.Request) {
			ch, err := chains.Get(r.Context(), chi.URLParam(r, "chainID"))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			if ch == nil {
				writeError(w, 404, greffe.ErrChainNotFound)
				return
			}
			writeJSON(w, 200, ch)
		})

		r.Get("/api/chains/{chainID}/verify", func(w http.ResponseWriter, r *http.Request) {
			res, err := chains.Verify(r.Context(), chi.URLParam(r, "chainID"))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, 200, res)
		})

		r.Get("/api/chains/{chainID}/report", func(w http.ResponseWriter, r *http.Request) {
			ch, err := chains.Get(r.Context(), chi.URLParam(r, "chainID"))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			if ch == nil {
				writeError(w, 404, greffe.ErrChainNotFound)
				return
			}
			md := renderer.Markdown(ch, greffe.VerifyChain(ch))
			w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
			w.Write([]byte(md))
		})

		// Evidence mutation requires operator or admin.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleAdmin, auth.RoleOperator))

			r.Post("/api/chains", func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					ChainID string `json:"chain_id"`
				}
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					writeError(w, 400, err)
					return
				}
				if err := garde.ValidateIdentifier(req.ChainID); err != nil {
					writeError(w, 400, err)
					return
				}
				ch, err := chains.Create(r.Context(), req.ChainID)
				if err != nil {
					writeServiceError(w, err)
					return
				}
				writeJSON(w, 201, ch)
			})

			r.Post("/api/chains/{chainID}/records", func(w http.ResponseWriter, r *http.Request) {
				chainID := chi.URLParam(r, "chainID")
				var req struct {
					SourceURL  string                 `json:"source_url"`
					Value      json.RawMessage        `json:"extracted_value"`
					Anchors    []anchorPayload        `json:"anchors"`
					Screenshot *greffe.ScreenshotMeta `json:"screenshot"`
				}
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					writeError(w, 400, err)
					return
				}
				value := greffe.NullValue()
				if len(req.Value) > 0 {
					v, err := greffe.ParseValue(req.Value)
					if err != nil {
						writeError(w, 400, err)
						return
					}
					value = v
				}
				anchors := make([]greffe.Anchor, len(req.Anchors))
				for i, a := range req.Anchors {
					anchors[i] = greffe.BuildAnchor(a.CSSSelector, a.XPath, a.TextContent, a.BoundingBox)
				}
				rec, err := chains.Append(r.Context(), chainID, greffe.AppendInput{
					SourceURL:  req.SourceURL,
					Value:      value,
					Anchors:    anchors,
					Screenshot: req.Screenshot,
				})
				if err != nil {
					writeServiceError(w, err)
					return
				}
				writeJSON(w, 201, rec)
			})

			r.Post("/api/chains/{chainID}/observe", obs.handleObserve)

			r.Post("/api/chains/{chainID}/export", func(w http.ResponseWriter, r *http.Request) {
				chainID := chi.URLParam(r, "chainID")
				var req struct {
					WithReport bool `json:"with_report"`
				}
				// Body is optional; a bare POST exports JSON only.
				_ = json.NewDecoder(r.Body).Decode(&req)

				path, err := chains.Export(r.Context(), chainID)
				if err != nil {
					writeServiceError(w, err)
					return
				}
				out := map[string]string{"path": path}
				if req.WithReport {
					ch, err := chains.Get(r.Context(), chainID)
					if err != nil {
						writeServiceError(w, err)
						return
					}
					if ch == nil {
						writeServiceError(w, greffe.ErrChainNotFound)
						return
					}
					md := renderer.Markdown(ch, greffe.VerifyChain(ch))
					mdPath := strings.TrimSuffix(path, ".json") + ".md"
					if err := store.Write(mdPath, []byte(md)); err != nil {
						writeServiceError(w, err)
						return
					}
					out["report_path"] = mdPath
				}
				writeJSON(w, 200, out)
			})
		})

		// Audit trail and routing state are admin-only.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleAdmin))

			r.Get("/api/audit", func(w http.ResponseWriter, r *http.Request) {
				var since int64
				if s := r.URL.Query().Get("since"); s != "" {
					since, _ = strconv.ParseInt(s, 10, 64)
				}
				entries, err := auditLogger.Query(r.Context(), audit.QueryFilter{
					Action:  r.URL.Query().Get("action"),
					ChainID: r.URL.Query().Get("chain_id"),
					UserID:  r.URL.Query().Get("user_id"),
					Since:   since,
					Limit:   queryInt(r, "limit", 100),
					Offset:  queryInt(r, "offset", 0),
				})
				if err != nil {
					writeError(w, 500, err)
					return
				}
				if entries == nil {
					entries = []*audit.Entry{}
				}
				writeJSON(w, 200, entries)
			})

			r.Get("/api/services", func(w http.ResponseWriter, r *http.Request) {
				services := []connectivity.ServiceInfo{}
				for info := range router.ListServices() {
					services = append(services, info)
				}
				writeJSON(w, 200, services)
			})
		})
	})

	// HTTP server.
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// anchorPayload is the wire form of an anchor in append requests. The tier
// is never accepted from outside; BuildAnchor derives it from which
// locators are present.
type anchorPayload struct {
	CSSSelector string              `json:"css_selector"`
	XPath       string              `json:"xpath"`
	TextContent string              `json:"text_content"`
	BoundingBox *greffe.BoundingBox `json:"bounding_box"`
}

// inspectorConfig loads the YAML file named by CONSTAT_INSPECTOR_CONFIG, or
// builds a config from individual env vars when no file is given.
func inspectorConfig() (inspector.Config, error) {
	if path := os.Getenv("CONSTAT_INSPECTOR_CONFIG"); path != "" {
		return inspector.LoadFile(path)
	}
	cfg := inspector.Config{
		Mode:         env("CONSTAT_INSPECT_MODE", inspector.ModeStatic),
		AllowPrivate: os.Getenv("CONSTAT_INSPECT_ALLOW_PRIVATE") == "true",
	}
	cfg.Browser.RemoteURL = os.Getenv("CONSTAT_BROWSER_URL")
	return cfg, nil
}

// --- Users ---

func migrateUsers(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			role          TEXT NOT NULL CHECK (role IN ('admin', 'operator', 'viewer')),
			created_at    INTEGER NOT NULL
		)`)
	return err
}

// seedAdmin creates the initial admin account when no admin exists yet.
func seedAdmin(ctx context.Context, db *sql.DB) error {
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE role = 'admin'`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	password := os.Getenv("CONSTAT_ADMIN_PASSWORD")
	if password == "" {
		password = defaultAdminPassword
		slog.Warn("CONSTAT_ADMIN_PASSWORD not set, seeding admin with the default password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	id := idgen.New()
	_, err = db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, role, created_at) VALUES (?, 'admin', ?, 'admin', ?)`,
		id, string(hash), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	slog.Info("admin user seeded", "username", "admin", "id", id)
	return nil
}

// seedLoginRateLimit caps login attempts per IP out of the box. Operators
// tune or disable the rule by editing the rate_limits row.
func seedLoginRateLimit(ctx context.Context, db *sql.DB) {
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO rate_limits (endpoint, max_requests, window_seconds, enabled) VALUES ('POST /api/login', 10, 60, 1)`)
	if err != nil {
		slog.Warn("seed login rate limit", "error", err)
	}
}

type userStore struct {
	db *sql.DB
}

func (s *userStore) authenticate(ctx context.Context, username, password string) (*auth.Claims, error) {
	var userID, role, hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, role, password_hash FROM users WHERE username = ?`, username).
		Scan(&userID, &role, &hash)
	if err != nil {
		return nil, fmt.Errorf("user not found")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, fmt.Errorf("wrong password")
	}
	return &auth.Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
	}, nil
}

// --- Helpers ---

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// writeServiceError maps domain sentinels onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, greffe.ErrChainNotFound):
		writeError(w, 404, err)
	case errors.Is(err, greffe.ErrChainExists):
		writeError(w, 409, err)
	case errors.Is(err, greffe.ErrNoAnchors), errors.Is(err, inspector.ErrElementNotFound):
		writeError(w, 422, err)
	case errors.Is(err, garde.ErrSSRF), errors.Is(err, garde.ErrUnsafeScheme), errors.Is(err, garde.ErrPathTraversal):
		writeError(w, 400, err)
	default:
		writeError(w, 500, err)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
