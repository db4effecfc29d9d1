// Package dashboard serves the browser UI and JSON API for running and
// comparing prompt sets.
package dashboard

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"prompt-tester/internal/apperrors"
	"prompt-tester/internal/llm"
	"prompt-tester/internal/logger"
	"prompt-tester/internal/server"
	"prompt-tester/internal/session"
	"prompt-tester/internal/tester"
	"prompt-tester/internal/version"
)

//go:embed templates/page.html
var templateFS embed.FS

const (
	pageTemplate = "page"
	pageTitle    = "Prompt Comparing Tester"
	serviceName  = "prompt-tester"

	defaultCookieName = "prompt_tester_session"
	defaultRunTimeout = 10 * time.Minute
)

type Config struct {
	Defaults   tester.Settings
	CookieName string
	RunTimeout time.Duration
}

type Handler struct {
	runner   *tester.Runner
	sessions *session.Store
	cfg      Config
	log      *logger.Logger
}

func New(runner *tester.Runner, sessions *session.Store, cfg Config, log *logger.Logger) *Handler {
	if cfg.CookieName == "" {
		cfg.CookieName = defaultCookieName
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaultRunTimeout
	}
	cfg.Defaults.ApplyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{
		runner:   runner,
		sessions: sessions,
		cfg:      cfg,
		log:      log.WithComponent("dashboard"),
	}
}

// ParseTemplates parses the embedded page templates.
func ParseTemplates() (*template.Template, error) {
	funcs := template.FuncMap{
		"seconds": func(v float64) string { return fmt.Sprintf("%.2f", v) },
		"callout": func(kind, title, message string) Callout {
			return Callout{Kind: kind, Title: title, Message: message}
		},
	}
	tmpl, err := template.New("dashboard").Funcs(funcs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return tmpl, nil
}

// Register installs templates and routes on engine.
func (h *Handler) Register(engine *gin.Engine) error {
	tmpl, err := ParseTemplates()
	if err != nil {
		return err
	}
	engine.SetHTMLTemplate(tmpl)

	engine.GET("/", h.page)
	engine.POST("/prompts/add", h.addPrompt)
	engine.POST("/prompts/clear", h.clearPrompts)
	engine.POST("/run", h.run)

	engine.GET("/health", h.health)
	engine.GET("/info", h.info)

	api := engine.Group("/api/v1")
	api.GET("/settings", h.apiSettings)
	api.POST("/runs", h.apiRun)
	api.POST("/stream", h.apiStream)
	return nil
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"name": serviceName, "version": version.Version})
}

// --- HTML ---

func (h *Handler) page(c *gin.Context) {
	id := h.sessionID(c)
	h.render(c, h.sessions.Get(id))
}

func (h *Handler) addPrompt(c *gin.Context) {
	id := h.sessionID(c)
	form := h.bindForm(c)
	h.sessions.Update(id, func(s *session.State) {
		form.saveTo(s)
		s.AddPrompt()
	})
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *Handler) clearPrompts(c *gin.Context) {
	id := h.sessionID(c)
	form := h.bindForm(c)
	h.sessions.Update(id, func(s *session.State) {
		form.saveTo(s)
		s.Clear()
	})
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *Handler) run(c *gin.Context) {
	id := h.sessionID(c)
	form := h.bindForm(c)
	state := h.sessions.Update(id, func(s *session.State) {
		form.saveTo(s)
		s.LastRun = nil
		s.LastWarning = ""
	})

	sets := []tester.PromptSet{state.Single()}
	if state.CompareMode {
		first, second := state.Compare()
		sets = []tester.PromptSet{first, second}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.RunTimeout)
	defer cancel()
	run, err := h.runner.Execute(ctx, state.Settings, sets...)

	state = h.sessions.Update(id, func(s *session.State) {
		switch {
		case errors.Is(err, tester.ErrPromptsRequired):
			s.LastWarning = tester.PromptsRequiredMessage
		case err != nil && run == nil:
			s.LastWarning = err.Error()
		default:
			s.LastRun = run
		}
	})
	if err != nil && run == nil && !errors.Is(err, tester.ErrPromptsRequired) {
		h.log.Warn("Run rejected", logger.Fields(logger.FieldSessionID, id, logger.FieldError, err.Error()))
	}
	h.render(c, state)
}

func (h *Handler) render(c *gin.Context, state session.State) {
	first, second := state.CompareSeed()
	data := PageData{
		Title:       pageTitle,
		Version:     version.Version,
		CompareMode: state.CompareMode,
		Settings:    state.Settings,
		Single:      state.Single(),
		First:       first,
		Second:      second,
		Run:         NewRunView(state.LastRun),
		Limits:      sliderLimits,
	}
	if state.LastWarning != "" {
		data.Warning = &Callout{Kind: "warning", Title: "Warning", Message: state.LastWarning}
	}
	c.HTML(http.StatusOK, pageTemplate, data)
}

func (h *Handler) sessionID(c *gin.Context) string {
	if id, err := c.Cookie(h.cfg.CookieName); err == nil && id != "" {
		return id
	}
	id := session.NewID()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cfg.CookieName, id, 0, "/", "", false, true)
	return id
}

// pageForm is the single HTML form every dashboard POST submits. Prompt text
// and sidebar settings bind separately so a malformed setting never drops
// the text the user entered.
type pageForm struct {
	promptFields
	settingsFields
	submitted bool
}

type promptFields struct {
	Mode    string `form:"mode"`
	System  string `form:"system"`
	Human   string `form:"human"`
	System1 string `form:"system1"`
	Human1  string `form:"human1"`
	System2 string `form:"system2"`
	Human2  string `form:"human2"`
}

type settingsFields struct {
	Model       string   `form:"model"`
	Repetitions *int     `form:"repetitions"`
	Temperature *float64 `form:"temperature"`
}

func (h *Handler) bindForm(c *gin.Context) pageForm {
	var form pageForm
	if err := c.ShouldBindWith(&form.promptFields, binding.Form); err != nil {
		h.log.Debug("Ignoring malformed form", logger.Fields(logger.FieldError, err.Error()))
		return pageForm{}
	}
	if err := c.ShouldBindWith(&form.settingsFields, binding.Form); err != nil {
		h.log.Debug("Ignoring malformed settings", logger.Fields(logger.FieldError, err.Error()))
		form.settingsFields = settingsFields{}
	}
	form.submitted = form.Mode != ""
	return form
}

// saveTo copies the submitted form into the session. Settings outside the
// slider bounds are clamped.
func (f pageForm) saveTo(s *session.State) {
	if !f.submitted {
		return
	}
	if f.Mode == string(tester.ModeCompare) {
		s.SaveCompare(
			tester.PromptSet{System: f.System1, Human: f.Human1},
			tester.PromptSet{System: f.System2, Human: f.Human2},
		)
	} else {
		s.SaveSingle(tester.PromptSet{System: f.System, Human: f.Human})
	}
	if f.Model != "" {
		s.Settings.Model = f.Model
	}
	if f.Repetitions != nil {
		s.Settings.Repetitions = min(max(*f.Repetitions, tester.MinRepetitions), tester.MaxRepetitions)
	}
	if f.Temperature != nil {
		s.Settings.Temperature = min(max(*f.Temperature, tester.MinTemperature), tester.MaxTemperature)
	}
}

// --- JSON API ---

type settingsPayload struct {
	Model       string   `json:"model"`
	Repetitions int      `json:"repetitions"`
	Temperature *float64 `json:"temperature"`
	MaxTokens   int      `json:"max_tokens"`
}

func (h *Handler) resolveSettings(p *settingsPayload) tester.Settings {
	s := h.cfg.Defaults
	if p == nil {
		return s
	}
	if p.Model != "" {
		s.Model = p.Model
	}
	if p.Repetitions != 0 {
		s.Repetitions = p.Repetitions
	}
	if p.Temperature != nil {
		s.Temperature = *p.Temperature
	}
	if p.MaxTokens != 0 {
		s.MaxTokens = p.MaxTokens
	}
	return s
}

type runRequest struct {
	Settings *settingsPayload   `json:"settings"`
	Prompts  []tester.PromptSet `json:"prompts" binding:"required,min=1,max=2"`
}

type runResponse struct {
	Run       *tester.Run      `json:"run"`
	Summaries []tester.Summary `json:"summaries"`
}

func (h *Handler) apiSettings(c *gin.Context) {
	server.RespondOK(c, gin.H{
		"defaults": h.cfg.Defaults,
		"limits":   sliderLimits,
	})
}

func (h *Handler) apiRun(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		server.RespondWithError(c, bindError("prompts", err))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.RunTimeout)
	defer cancel()
	run, err := h.runner.Execute(ctx, h.resolveSettings(req.Settings), req.Prompts...)
	if err != nil {
		server.RespondWithError(c, mapRunError(err))
		return
	}
	server.RespondOK(c, runResponse{Run: run, Summaries: run.Summaries()})
}

type streamRequest struct {
	Settings *settingsPayload `json:"settings"`
	Prompt   tester.PromptSet `json:"prompt"`
}

// apiStream sends one completion as server-sent events: "delta" per chunk,
// then "done" with the final completion, or "error".
func (h *Handler) apiStream(c *gin.Context) {
	var req streamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		server.RespondWithError(c, bindError("prompt", err))
		return
	}
	settings := h.resolveSettings(req.Settings)
	settings.ApplyDefaults()
	if err := settings.Validate(); err != nil {
		server.RespondWithError(c, mapRunError(err))
		return
	}
	if !req.Prompt.Filled() {
		server.RespondWithError(c, mapRunError(tester.ErrPromptsRequired))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.RunTimeout)
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	completion := h.runner.Stream(ctx, settings, req.Prompt, func(delta string) error {
		c.SSEvent("delta", gin.H{"text": delta})
		c.Writer.Flush()
		return ctx.Err()
	})
	if completion.Failed() {
		appErr := mapCompletionError(completion.Err)
		h.log.Warn("Stream failed", logger.Fields(logger.FieldError, completion.Error, "code", string(appErr.Code)))
		c.SSEvent("error", appErr.ToResponse().Error)
	} else {
		c.SSEvent("done", completion)
	}
	c.Writer.Flush()
}

// bindError reports a missing required field as such and anything else as
// invalid input.
func bindError(field string, err error) *apperrors.AppError {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 && fieldErrs[0].Tag() == "required" {
		return apperrors.MissingField(strings.ToLower(fieldErrs[0].Field()))
	}
	return apperrors.InvalidInput(field, err.Error())
}

// mapCompletionError classifies a failed completion for API clients.
func mapCompletionError(err error) *apperrors.AppError {
	var statusErr *llm.StatusError
	switch {
	case errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests:
		return apperrors.RateLimited().WithDetail("service", statusErr.Provider)
	case errors.As(err, &statusErr):
		return apperrors.ExternalServiceError(statusErr.Provider, err).
			WithDetail("status", statusErr.StatusCode).
			WithDetail("reason", statusErr.Message)
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Timeout("completion")
	default:
		return apperrors.ExternalServiceError("inference", err)
	}
}

func mapRunError(err error) error {
	switch {
	case errors.Is(err, tester.ErrPromptsRequired):
		return apperrors.Validation(tester.PromptsRequiredMessage)
	case errors.Is(err, tester.ErrInvalidSettings), errors.Is(err, tester.ErrPromptSetCount):
		return apperrors.Validation(err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Timeout("run")
	default:
		return apperrors.Internal(err)
	}
}
