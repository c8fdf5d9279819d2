package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"vidyahub.org/internal/access"
	"vidyahub.org/internal/audit"
	"vidyahub.org/internal/authn"
	"vidyahub.org/internal/obs"
	"vidyahub.org/internal/otp"
	"vidyahub.org/internal/ratelimit"
	"vidyahub.org/internal/sms"
	"vidyahub.org/internal/storage"
	"vidyahub.org/internal/store"
	"vidyahub.org/internal/token"
)

// ReadyProbe pings the credential store for /readyz.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options wires the API's collaborators.
type Options struct {
	Version    string
	ReadyProbe ReadyProbe

	Codec    *token.Codec
	Resolver *authn.Resolver
	Users    store.UserStore
	OTP      *otp.Manager
	Limiter  *ratelimit.Limiter
	Uploads  *ratelimit.UploadLimiter
	Children *access.Validator
	Blobs    storage.BlobStore
	SMS      sms.Sender
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	codec    *token.Codec
	resolver *authn.Resolver
	users    store.UserStore
	otp      *otp.Manager
	limiter  *ratelimit.Limiter
	uploads  *ratelimit.UploadLimiter
	children *access.Validator
	blobs    storage.BlobStore
	sms      sms.Sender
}

func New(opts Options) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: opts.ReadyProbe,
		version:    opts.Version,
		codec:      opts.Codec,
		resolver:   opts.Resolver,
		users:      opts.Users,
		otp:        opts.OTP,
		limiter:    opts.Limiter,
		uploads:    opts.Uploads,
		children:   opts.Children,
		blobs:      opts.Blobs,
		sms:        opts.SMS,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/auth/otp/request", a.handleOTPRequest)
	a.mux.HandleFunc("POST /v1/auth/otp/verify", a.handleOTPVerify)
	a.mux.HandleFunc("POST /v1/auth/login", a.handleLogin)

	a.mux.HandleFunc("GET /v1/me", a.handleMe)
	a.mux.HandleFunc("GET /v1/children/{childID}/summary", a.handleChildSummary)

	attachments := http.HandlerFunc(a.handleAttachments)
	if a.uploads != nil {
		a.mux.Handle("POST /v1/messages/attachments", a.uploads.Middleware(attachments))
	} else {
		a.mux.Handle("POST /v1/messages/attachments", attachments)
	}

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the full middleware chain around the mux. Order
// matters: the tiered limiter runs before the auth gate so its verified
// claims can be reused downstream.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	if a.limiter != nil {
		h = a.limiter.Middleware(h)
	}
	h = Floodgate(h, 50, 100)
	h = LoggingJSON(h)
	h = RequestID(h)
	h = MaxBodyBytes(h, 64<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "vidyahub-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "vidyahub-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := authn.PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, principal)
}

// handleChildSummary is the parent-gated read: the requested child id must
// resolve through the validator before any child-scoped query runs.
func (a *API) handleChildSummary(w http.ResponseWriter, r *http.Request) {
	principal, ok := authn.PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if principal.Role != store.RoleParent {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"success": false,
			"message": "Invalid child ID or access denied",
		})
		return
	}

	child, err := a.children.Validate(r.Context(), principal, r.PathValue("childID"))
	if err != nil {
		if errors.Is(err, access.ErrForbidden) {
			_ = audit.LogEvent(r.Context(), "access.child.denied", map[string]any{
				"child_id": r.PathValue("childID"),
			})
		}
		switch {
		case errors.Is(err, access.ErrBadChildID):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"success": false,
				"message": "Invalid child ID or access denied",
			})
		case errors.Is(err, access.ErrForbidden):
			writeJSON(w, http.StatusForbidden, map[string]any{
				"success": false,
				"message": "Invalid child ID or access denied",
			})
		default:
			respondError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"childId":        child.ID,
		"organizationId": child.OrganizationID,
	})
}

type attachmentInfo struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// handleAttachments stores uploaded files in the object store. The upload
// limiter has already parsed the multipart form and enforced all three
// quota dimensions, so every file reaching this point may be written.
func (a *API) handleAttachments(w http.ResponseWriter, r *http.Request) {
	if a.blobs == nil {
		respondError(w, http.StatusServiceUnavailable, "attachment storage not configured")
		return
	}
	if r.MultipartForm == nil {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			respondError(w, http.StatusBadRequest, "malformed upload body")
			return
		}
	}

	var stored []attachmentInfo
	for _, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				respondError(w, http.StatusBadRequest, "malformed upload body")
				return
			}
			key := storage.NewObjectKey()
			err = a.blobs.Put(r.Context(), key, fh.Header.Get("Content-Type"), f, fh.Size)
			_ = f.Close()
			if err != nil {
				respondError(w, http.StatusInternalServerError, "attachment storage failed")
				return
			}
			stored = append(stored, attachmentInfo{Key: key, Name: fh.Filename, Size: fh.Size})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"attachments": stored})
}
