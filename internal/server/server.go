package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"go.uber.org/zap"

	"github.com/joeblew999/geobrowse/internal/api"
	"github.com/joeblew999/geobrowse/internal/db"
	"github.com/joeblew999/geobrowse/internal/logger"
	"github.com/joeblew999/geobrowse/internal/mapview"
	"github.com/joeblew999/geobrowse/internal/service"
	"github.com/joeblew999/geobrowse/internal/templates"
	"github.com/joeblew999/geobrowse/internal/viewer"
	"github.com/joeblew999/geobrowse/pkg/geoclient"
	"github.com/joeblew999/geobrowse/web"
)

// Config holds the server configuration.
type Config struct {
	Host         string
	Port         string
	Backend      string   // duckdb or postgres
	DatabaseURL  string   // postgres connection string
	DataDir      string   // duckdb data directory
	Extensions   []string // duckdb extensions; nil loads db.DefaultExtensions
	WebDir       string   // serve web/ from disk instead of the embedded copy
	QueryURL     string   // viewer sessions query this server instead of the local database; its backend sets the SQL dialect
	InitSchema   bool     // create the fields and observations tables at startup
	Debounce     time.Duration
	FeatureLimit int
	QueryTimeout time.Duration
	MaxViewers   int
	Logger       *zap.SugaredLogger
}

// Server is the geobrowse HTTP server.
type Server struct {
	config   Config
	mux      *http.ServeMux
	humaAPI  huma.API
	db       db.Executor
	services *api.Services
	renderer *templates.Renderer
	viewers  *viewer.Store
	dialect  mapview.Dialect
	log      *zap.SugaredLogger
}

// New creates a new geobrowse server. A database that cannot be opened is
// logged; the API then answers 503 and viewers show an empty catalog.
func New(cfg Config) (*Server, error) {
	log := logger.OrNop(cfg.Logger)
	mux := http.NewServeMux()

	humaConfig := huma.DefaultConfig("geobrowse API", api.Version)
	humaConfig.Info.Description = "Spatial table browser: catalog discovery, SQL queries and a live map viewer."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())

	humaAPI := humago.New(mux, humaConfig)

	renderer, err := newRenderer(cfg.WebDir)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:   cfg,
		mux:      mux,
		humaAPI:  humaAPI,
		renderer: renderer,
		services: &api.Services{},
		log:      log,
	}

	s.openDB()
	s.dialect = s.viewerDialect()

	viewers, err := viewer.NewStore(s.viewerCatalog(), s.viewerQueries(), renderer, viewer.StoreConfig{
		Size: cfg.MaxViewers,
		Session: mapview.Config{
			QuietPeriod:  cfg.Debounce,
			FeatureLimit: cfg.FeatureLimit,
			Dialect:      s.dialect,
		},
		Logger: log.Named("viewer"),
	})
	if err != nil {
		return nil, err
	}
	s.viewers = viewers

	s.routes()
	return s, nil
}

func newRenderer(webDir string) (*templates.Renderer, error) {
	if webDir != "" {
		return templates.NewFromDir(webDir, web.TemplatePatterns...)
	}
	return templates.New(web.FS, web.TemplatePatterns...)
}

func (s *Server) openDB() {
	cfg := s.config
	exts := cfg.Extensions
	if exts == nil {
		exts = db.DefaultExtensions
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, err := db.Open(ctx, db.Config{
		Backend:     db.Backend(cfg.Backend),
		DataDir:     cfg.DataDir,
		DBName:      "geo",
		Extensions:  exts,
		DatabaseURL: cfg.DatabaseURL,
		Logger:      s.log.Named("db"),
	})
	if err != nil {
		s.log.Warnw("database not available", "backend", cfg.Backend, "error", err)
		return
	}

	s.db = conn
	s.services = &api.Services{
		DB:      conn,
		Catalog: service.NewCatalogService(conn, s.log.Named("catalog")),
		Query:   service.NewQueryService(conn, cfg.QueryTimeout, s.log.Named("query")),
		Fields:  service.NewFieldService(conn, s.log.Named("fields")),
	}

	if cfg.InitSchema {
		if err := s.services.Fields.EnsureSchema(ctx); err != nil {
			s.log.Warnw("field tables not created", "error", err)
		}
	}
}

// unavailable answers every catalog or query call with db.ErrUnavailable.
type unavailable struct{}

func (unavailable) Catalog(ctx context.Context) (*geoclient.Catalog, error) {
	return nil, db.ErrUnavailable
}

func (unavailable) Query(ctx context.Context, sql string) (*geoclient.QueryResponse, error) {
	return nil, db.ErrUnavailable
}

func (s *Server) viewerCatalog() mapview.CatalogSource {
	switch {
	case s.config.QueryURL != "":
		return geoclient.New(s.config.QueryURL)
	case s.services.Catalog != nil:
		return s.services.Catalog
	}
	return unavailable{}
}

// viewerDialect is the SQL dialect of the database viewer sessions query: the
// remote server's backend when QueryURL is set, the local one otherwise. An
// unreachable remote falls back to the local backend.
func (s *Server) viewerDialect() mapview.Dialect {
	if s.config.QueryURL == "" {
		return mapview.ParseDialect(s.config.Backend)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	info, err := geoclient.New(s.config.QueryURL).Info(ctx)
	if err != nil || info.Backend == "" {
		s.log.Warnw("remote backend unknown, using local dialect",
			"query_url", s.config.QueryURL, "backend", s.config.Backend, "error", err)
		return mapview.ParseDialect(s.config.Backend)
	}
	s.log.Infow("viewer sessions use remote database", "query_url", s.config.QueryURL, "backend", info.Backend)
	return mapview.ParseDialect(info.Backend)
}

func (s *Server) viewerQueries() mapview.QueryRunner {
	switch {
	case s.config.QueryURL != "":
		return geoclient.New(s.config.QueryURL)
	case s.services.Query != nil:
		return s.services.Query
	}
	return unavailable{}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the OpenAPI document of the server.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Catalog returns the catalog of the configured database.
func (s *Server) Catalog(ctx context.Context) (*geoclient.Catalog, error) {
	return s.viewerCatalog().Catalog(ctx)
}

// Close closes viewers and the database.
func (s *Server) Close() error {
	s.viewers.Close()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Server) routes() {
	// Register Huma REST API routes (OpenAPI-documented JSON endpoints)
	api.RegisterRoutes(s.humaAPI, s.services)

	// Viewer page and its Datastar SSE endpoints
	vh := viewer.NewHandler(s.viewers, s.log.Named("viewer"))
	vh.RegisterRoutes(s.humaAPI)
	s.mux.HandleFunc("GET /viewer", s.devReload(vh.Page))

	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(s.staticFS()))))
	s.mux.HandleFunc("/", s.handleRoot)
}

// devReload re-parses the templates before each page when they are served
// from WebDir, so edits show up without a restart.
func (s *Server) devReload(next http.HandlerFunc) http.HandlerFunc {
	if s.config.WebDir == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.renderer.Reload(); err != nil {
			s.log.Errorw("reloading templates", "dir", s.config.WebDir, "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		next(w, r)
	}
}

func (s *Server) staticFS() fs.FS {
	if s.config.WebDir != "" {
		return os.DirFS(filepath.Join(s.config.WebDir, "static"))
	}
	sub, err := fs.Sub(web.FS, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "geobrowse",
		"status":  "running",
		"viewer":  "/viewer",
		"docs":    "/docs",
	})
}
