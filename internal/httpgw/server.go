// Package httpgw implements the engine's optional embedded REST surface:
// a plain http.Handler a caller mounts on their own server, with no
// listener or CLI of its own.
package httpgw

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jpl-au/ejdb/internal/bson"
	"github.com/jpl-au/ejdb/internal/query"
)

// Store is the minimal surface the gateway drives: document CRUD plus
// query execution, addressed by collection name and a document's `_id`
// string. The engine's public facade implements this directly. Every
// call is synchronous local I/O against the embedding process's own
// database directory, so there is no context.Context to cancel or time
// out against — the same reason the rest of this engine's public API
// doesn't take one.
type Store interface {
	Save(collection string, doc *bson.Object) (id string, err error)
	Replace(collection, id string, doc *bson.Object) error
	Load(collection, id string) (*bson.Object, error)
	Remove(collection, id string) error
	Patch(collection, id string, ops []bson.JSONPatchOp) (*bson.Object, error)
	Exec(collection string, q *bson.Object) (*query.Outcome, error)
}

// Options configures a Handler.
type Options struct {
	// ReadAnon allows GET and query requests without a bearer token.
	// Write operations (POST/PUT/PATCH/DELETE) always require one when
	// a Tokens set is configured, even an empty one.
	ReadAnon bool
	Tokens   *TokenSet
	Logger   *zap.Logger
}

// Handler is the gateway's http.Handler.
type Handler struct {
	store    Store
	readAnon bool
	tokens   *TokenSet
	log      *zap.Logger
	mux      *http.ServeMux
}

// NewHandler builds the gateway's routes over store.
func NewHandler(store Store, opts Options) *Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{store: store, readAnon: opts.ReadAnon, tokens: opts.Tokens, log: log, mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /{coll}", h.requireWrite(h.handleCreate))
	h.mux.HandleFunc("PUT /{coll}/{id}", h.requireWrite(h.handleReplace))
	h.mux.HandleFunc("PATCH /{coll}/{id}", h.requireWrite(h.handlePatch))
	h.mux.HandleFunc("DELETE /{coll}/{id}", h.requireWrite(h.handleDelete))
	h.mux.HandleFunc("GET /{coll}/{id}", h.requireRead(h.handleGet))
	h.mux.HandleFunc("POST /{$}", h.requireRead(h.handleQuery))
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	h.mux.ServeHTTP(rec, r)
	h.log.Info("gateway request",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", rec.status),
		zap.Duration("elapsed", time.Since(start)),
	)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
