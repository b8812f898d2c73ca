// Package webapi provides the dashboard REST API: on-demand member checks,
// detection history, tracked profiles, appeals and per-guild policy management.
// It also mounts the relay webhook endpoint feeding the events listener.
package webapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/routegroup"

	"github.com/HoboStank/discord-scammer-defense/app/bot"
	"github.com/HoboStank/discord-scammer-defense/app/storage"
	"github.com/HoboStank/discord-scammer-defense/lib/detect"
)

// Server is a web API server
type Server struct {
	Config
	startedAt time.Time
}

// Config defines server parameters
type Config struct {
	Version        string       // version to show in /ping and health
	ListenAddr     string       // listen address
	Scanner        Scanner      // on-demand member scanner
	Policies       PolicyStore  // per-guild policy storage
	Detections     Detections   // detection history
	Profiles       Profiles     // tracked scammer profiles
	ModLog         ModLog       // moderation actions log
	Appeals        Appeals      // appeals storage
	Gateway        Gateway      // relay gateway, reports connectivity in health, optional
	WebhookHandler http.Handler // relay webhook, mounted under /webhook/events, optional
	AuthPasswd     string       // basic auth password for user "dsd"
}

// Gateway reports the state of the relay link
type Gateway interface {
	Connected() bool
}

// Scanner checks a member against protected profiles
type Scanner interface {
	Scan(ctx context.Context, member bot.Profile, protected []bot.Profile, policy detect.ServerPolicy) (bot.Report, error)
}

// PolicyStore provides per-guild policy persistence
type PolicyStore interface {
	Load(ctx context.Context, guildID string) (detect.ServerPolicy, error)
	Save(ctx context.Context, guildID string, policy detect.ServerPolicy) error
	Delete(ctx context.Context, guildID string) error
	LastUpdated(ctx context.Context, guildID string) (time.Time, error)
}

// Detections is a detection history interface
type Detections interface {
	Read(ctx context.Context, guildID string, limit int) ([]storage.DetectionRecord, error)
	Count(ctx context.Context, guildID string) (int, error)
	CountSince(ctx context.Context, guildID string, since time.Time) (int, error)
}

// Profiles is a tracked profiles interface
type Profiles interface {
	Get(ctx context.Context, guildID, memberID string) (storage.ProfileRecord, error)
	List(ctx context.Context, guildID string, limit int) ([]storage.ProfileRecord, error)
	Delete(ctx context.Context, guildID, memberID string) error
}

// ModLog is a moderation log interface
type ModLog interface {
	List(ctx context.Context, guildID string, limit int) ([]storage.ModLogRecord, error)
}

// Appeals is an appeals storage interface
type Appeals interface {
	Create(ctx context.Context, rec storage.AppealRecord) (int64, error)
	Get(ctx context.Context, id int64) (storage.AppealRecord, error)
	List(ctx context.Context, guildID string, status storage.AppealStatus, limit int) ([]storage.AppealRecord, error)
	Resolve(ctx context.Context, id int64, status storage.AppealStatus, moderatorID, note string) error
}

// NewServer creates a new web API server
func NewServer(config Config) *Server {
	return &Server{Config: config, startedAt: time.Now()}
}

// Run starts the server and blocks until the context is canceled
func (s *Server) Run(ctx context.Context) error {
	router := routegroup.New(http.NewServeMux())
	router.Use(rest.Recoverer(lgr.Default()))
	router.Use(rest.AppInfo("discord-scammer-defense", "HoboStank", s.Version), rest.Ping)
	router.Use(rest.Throttle(1000))
	router.Use(tollbooth.HTTPMiddleware(tollbooth.NewLimiter(50, nil)))
	router.Use(rest.SizeLimit(1024 * 1024)) // 1M max request size

	if s.AuthPasswd != "" {
		lgr.Printf("[INFO] basic auth enabled for webapi server")
	} else {
		lgr.Printf("[WARN] basic auth disabled, access to webapi is not protected")
	}

	s.routes(router)

	srv := &http.Server{Addr: s.ListenAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second, WriteTimeout: 60 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			lgr.Printf("[WARN] failed to shutdown webapi server: %v", err)
		} else {
			lgr.Printf("[INFO] webapi server stopped")
		}
	}()

	lgr.Printf("[INFO] start webapi server on %s", s.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to run server: %w", err)
	}
	return nil
}

func (s *Server) routes(router *routegroup.Bundle) {
	// webhook and health skip basic auth, the webhook has its own token check
	// and health is for probes
	if s.WebhookHandler != nil {
		router.Handle("POST /webhook/events", s.WebhookHandler)
	}
	router.HandleFunc("GET /health", s.healthHandler)

	authed := router.Group()
	if s.AuthPasswd != "" {
		authed.Use(rest.BasicAuthWithUserPasswd("dsd", s.AuthPasswd))
	}

	authed.HandleFunc("POST /check", s.checkHandler)
	authed.HandleFunc("GET /detections", s.detectionsHandler)
	authed.HandleFunc("GET /profiles", s.profilesListHandler)
	authed.HandleFunc("GET /profiles/{guild}/{member}", s.profileGetHandler)
	authed.HandleFunc("DELETE /profiles/{guild}/{member}", s.profileDeleteHandler)
	authed.HandleFunc("GET /modlog", s.modLogHandler)

	authed.HandleFunc("POST /appeals", s.appealCreateHandler)
	authed.HandleFunc("GET /appeals", s.appealsListHandler)
	authed.HandleFunc("GET /appeals/{id}", s.appealGetHandler)
	authed.HandleFunc("PUT /appeals/{id}/resolve", s.appealResolveHandler)

	authed.HandleFunc("GET /policy/{guild}", s.policyGetHandler)
	authed.HandleFunc("PUT /policy/{guild}", s.policyPutHandler)
	authed.HandleFunc("DELETE /policy/{guild}", s.policyDeleteHandler)
}

// checkHandler runs an on-demand scan of a member against the provided protected profiles,
// using the guild's saved policy
func (s *Server) checkHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Member    bot.Profile   `json:"member"`
		Protected []bot.Profile `json:"protected"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rest.SendErrorJSON(w, r, lgr.Default(), http.StatusBadRequest, err, "failed to decode request")
		return
	}
	if req.Member.GuildID == "" || req.Member.MemberID == "" {
		rest.SendErrorJSON(w, r, lgr.Default(), http.StatusBadRequest,
			fmt.Errorf("member guild_id and member_id are required"), "failed to check member")
		return
	}

	policy, err := s.Policies.Load(r.Context(), req.Member.GuildID)
	if err != nil {
		rest.SendErrorJSON(w, r, lgr.Default(), http.StatusInternalServerError, err, "failed to load policy")
		return
	}
	report, err := s.Scanner.Scan(r.Context(), req.Member, req.Protected, policy)
	if err != nil {
		rest.SendErrorJSON(w, r, lgr.Default(), http.StatusInternalServerError, err, "failed to scan member")
		return
	}
	rest.RenderJSON(w, report)
}

func (s *Server) detectionsHandler(w http.ResponseWriter, r *http.Request) {
	guildID := r.URL.Query().Get("guild_id")
	if guildID == "" {
		rest.SendErrorJSON(w, r, lgr.Default(), http.StatusBadRequest,
			fmt.Errorf("guild_id is required"), "failed to list detections")
		return
	}
	recs, err := s.Detections.Read(r.Context(), guildID, queryLimit(r))
	if err != nil {
		rest.SendErrorJSON(w, r, lgr.Default(), http.StatusInternalServerError, err, "failed to list detections")
		return
	}
	count, err := s.Detections.Count(r.Context(), guildID)
	if err != nil {
		rest.SendErrorJSON(w, r, lgr.Default(), http.StatusInternalServerError, err, "failed to count detections")
		return
	}
	recent, err := s.Detections.CountSince(r.Context(), guildID, time.Now().Add(-24*time.Hour))
	if err != nil {
		rest.SendErrorJSON(w, r, lgr.Default(), http.StatusInternalServerError, err, "failed to count detections")
		return
	}
	rest.RenderJSON(w, rest.JSON{"detections": recs, "total": count, "last24h": recent})
}

func (s *Server) profilesListHandler(w http.ResponseWriter, r *http.Request) {
	guildID := r.URL.Query().Get("guild_id")
	if guildID == "" {
		rest.SendErrorJSON(w, r, lgr.Default(), http.StatusBadRequest,
			fmt.Errorf("guild_id is required"), "failed to list profiles")
		return
	}
	recs, err := s.Profiles.List(r.Context(), guildID, queryLimit(r))
	if err != nil {
		rest.SendErrorJSON(w, r, lgr.Default(), http.StatusInternalServerError, err, "failed to list profiles")
		return
	}
	rest.RenderJSON(w, rest.JSON{"profiles": recs})
}

func (s *Server) profileGetHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Profiles.Get(r.Context(), r.PathValue("guild"), r.PathValue("member"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			rest.SendErrorJSON(w, r, lgr.Default(), http.StatusNotFound, err, "profile not found")
			return
		}
		rest.SendErrorJSON(w, r, lgr.Default(), http.StatusInternalServerError, err, "failed to get profile")
		return
	}
	rest.RenderJSON(w, rec)
}

func (s *Server) profileDeleteHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Profiles.Delete(r.Context(), r.PathValue("guild"), r.PathValue("member")); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			rest.SendErrorJSON(w, r, lgr.Default(), http.StatusNotFound, err, "profile not found")
			return
		}
		rest.SendErrorJSON(w, r, lgr.Default(), http.StatusInternalServerError, err, "failed to delete profile")
		return
	}
	rest.RenderJSON(w, rest.JSON{"status": "deleted"})
}

func (s *Server) modLogHandler(w http.ResponseWriter, r *http.Request) {
	guildID := r.URL.Query().Get("guild_id")
	if guildID == "" {
		rest.SendErrorJSON(w, r, lgr.Default(), http.StatusBadRequest,
			fmt.Errorf("guild_id is required"), "failed to list mod log")
		return
	}
	recs, err := s.ModLog.List(r.Context(), guildID, queryLimit(r))
	if err != nil {
		rest.SendErrorJSON(w, r, lgr.Default(), http.StatusInternalServerError, err, "failed to list mod log")
		return
	}
	rest.RenderJSON(w, rest.JSON{"modlog": recs})
}

func (s *Server) appealCreateHandler(w http.ResponseWriter, r *http.Request) {
	var rec storage.AppealRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		rest.SendErrorJSON(w, r, lgr.Default(), http.StatusBadRequest, err, "failed to decode appeal")
		return
	}
	id, err := s.Appeals.Create(r.Context(), rec)
	if err != nil {
		rest.SendErrorJSON(w, r, lgr.Default(), http.StatusBadRequest, err, "failed to create appeal")
		return
	}
	w.WriteHeader(http.StatusCreated)
	rest.RenderJSON(w, rest.JSON{"id": id})
}

func (s *Server) appealsListHandler(w http.ResponseWriter, r *http.Request) {
	guildID := r.URL.Query().Get("guild_id")
	if guildID == "" {
		rest.SendErrorJSON(w, r, lgr.Default(), http.StatusBadRequest,
			fmt.Errorf("guild_id is required"), "failed to list appeals")
		return
	}
	status := storage.AppealStatus(r.URL.Query().Get("status"))
	recs, err := s.Appeals.List(r.Context(), guildID, status, queryLimit(r))
	if err != nil {
		rest.SendErrorJSON(w, r, lgr.Default(), http.StatusBadRequest, err, "failed to list appeals")
		return
	}
	rest.RenderJSON(w, rest.JSON{"appeals": recs})
}

func (s *Server) appealGetHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		rest.SendErrorJSON(w, r, lgr.Default(), http.StatusBadRequest, err, "invalid appeal id")
		return
	}
	rec, err := s.Appeals.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			rest.SendErrorJSON(w, r, lgr.Default(), http.StatusNotFound, err, "appeal not found")
			return
		}
		rest.SendErrorJSON(w, r, lgr.Default(), http.StatusInternalServerError, err, "failed to get appeal")
		return
	}
	rest.RenderJSON(w, rec)
}

func (s *Server) appealResolveHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		rest.SendErrorJSON(w, r, lgr.Default(), http.StatusBadRequest, err, "invalid appeal id")
		return
	}
	var req struct {
		Status      storage.AppealStatus `json:"status"`
		ModeratorID string               `json:"moderator_id"`
		Note        string               `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rest.SendErrorJSON(w, r, lgr.Default(), http.StatusBadRequest, err, "failed to decode resolution")
		return
	}
	if err := s.Appeals.Resolve(r.Context(), id, req.Status, req.ModeratorID, req.Note); err != nil {
		rest.SendErrorJSON(w, r, lgr.Default(), http.StatusBadRequest, err, "failed to resolve appeal")
		return
	}
	rest.RenderJSON(w, rest.JSON{"status": string(req.Status)})
}

func (s *Server) policyGetHandler(w http.ResponseWriter, r *http.Request) {
	policy, err := s.Policies.Load(r.Context(), r.PathValue("guild"))
	if err != nil {
		rest.SendErrorJSON(w, r, lgr.Default(), http.StatusInternalServerError, err, "failed to load policy")
		return
	}
	// defaults have no saved record, the header is set for stored policies only
	if updated, uerr := s.Policies.LastUpdated(r.Context(), r.PathValue("guild")); uerr == nil {
		w.Header().Set("Last-Modified", updated.UTC().Format(http.TimeFormat))
	}
	rest.RenderJSON(w, policy)
}

func (s *Server) policyPutHandler(w http.ResponseWriter, r *http.Request) {
	var policy detect.ServerPolicy
	if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
		rest.SendErrorJSON(w, r, lgr.Default(), http.StatusBadRequest, err, "failed to decode policy")
		return
	}
	if err := s.Policies.Save(r.Context(), r.PathValue("guild"), policy); err != nil {
		code := http.StatusInternalServerError
		var verr *detect.ValidationError
		var cerr *detect.UnsupportedCheckError
		if errors.As(err, &verr) || errors.As(err, &cerr) {
			code = http.StatusBadRequest
		}
		rest.SendErrorJSON(w, r, lgr.Default(), code, err, "failed to save policy")
		return
	}
	rest.RenderJSON(w, rest.JSON{"status": "updated"})
}

func (s *Server) policyDeleteHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Policies.Delete(r.Context(), r.PathValue("guild")); err != nil {
		rest.SendErrorJSON(w, r, lgr.Default(), http.StatusInternalServerError, err, "failed to delete policy")
		return
	}
	rest.RenderJSON(w, rest.JSON{"status": "reset"})
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	resp := rest.JSON{
		"status":  "ok",
		"version": s.Version,
		"uptime":  time.Since(s.startedAt).Truncate(time.Second).String(),
	}
	if stats, ok := s.Scanner.(interface{ Stats() (scanned, flagged int64) }); ok {
		scanned, flagged := stats.Stats()
		resp["scanned"], resp["flagged"] = scanned, flagged
	}
	if s.Gateway != nil {
		resp["gateway_connected"] = s.Gateway.Connected()
	}
	rest.RenderJSON(w, resp)
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return 100
	}
	return limit
}
