package httpgw

import (
	"io"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/jpl-au/ejdb/internal/bson"
	"github.com/jpl-au/ejdb/internal/ejerr"
)

const maxBodyBytes = 16 << 20

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	coll := r.PathValue("coll")
	doc, err := readJSONBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := h.store.Save(coll, doc)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"_id": id})
}

func (h *Handler) handleReplace(w http.ResponseWriter, r *http.Request) {
	coll, id := r.PathValue("coll"), r.PathValue("id")
	doc, err := readJSONBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.Replace(coll, id, doc); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePatch(w http.ResponseWriter, r *http.Request) {
	coll, id := r.PathValue("coll"), r.PathValue("id")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body: "+err.Error())
		return
	}
	ops, err := parseJSONPatch(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	doc, err := h.store.Patch(coll, id, ops)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeBSONDoc(w, http.StatusOK, doc)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	coll, id := r.PathValue("coll"), r.PathValue("id")
	doc, err := h.store.Load(coll, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeBSONDoc(w, http.StatusOK, doc)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	coll, id := r.PathValue("coll"), r.PathValue("id")
	if err := h.store.Remove(coll, id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleQuery executes a query posted as either a literal query document
// or an "@<collection>/<query-json>" shorthand, and streams back one
// "<id>\t<document-json>" line per matching document. Sending the
// "X-Hints: explain" header appends the planner's trace as a trailing
// comment block.
func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body: "+err.Error())
		return
	}
	coll, qdoc, err := parseQueryRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	outcome, err := h.store.Exec(coll, qdoc)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	for _, res := range outcome.Results {
		line, err := bson.ToJSON(res.Doc)
		if err != nil {
			continue
		}
		io.WriteString(w, docID(res.Doc))
		w.Write([]byte{'\t'})
		w.Write(line)
		w.Write([]byte{'\n'})
	}
	if r.Header.Get("X-Hints") == "explain" {
		io.WriteString(w, "# "+strings.Join(outcome.Trace, " | ")+"\n")
	}
}

// docID renders a result document's "_id" field the way it appears over
// the wire: an OID as hex, a string as itself, and any other kind as "".
func docID(doc *bson.Object) string {
	v, ok := doc.Get("_id")
	if !ok {
		return ""
	}
	if v.Kind == bson.KindOID {
		return v.OID.String()
	}
	return v.Str
}

// parseQueryRequest accepts either a raw query document, or the
// "@<collection>/<query>" shorthand where <query> is itself a JSON
// document literal.
func parseQueryRequest(body []byte) (collection string, q *bson.Object, err error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "@") {
		rest := trimmed[1:]
		slash := strings.IndexByte(rest, '/')
		if slash < 0 {
			return "", nil, ejerr.New(ejerr.InvalidArgument, "httpgw: malformed @collection/query shorthand")
		}
		collection = rest[:slash]
		q, err = bson.FromJSON([]byte(rest[slash+1:]))
		return collection, q, err
	}
	q, err = bson.FromJSON(body)
	if err != nil {
		return "", nil, err
	}
	collV, ok := q.Get("$from")
	if !ok || collV.Str == "" {
		return "", nil, ejerr.New(ejerr.InvalidArgument, "httpgw: query body must set \"$from\" or use the @collection/query shorthand")
	}
	return collV.Str, q, nil
}

func readJSONBody(r *http.Request) (*bson.Object, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, ejerr.Wrap(err, ejerr.IOError, "httpgw: reading request body")
	}
	return bson.FromJSON(body)
}

type jsonPatchWire struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	From  string          `json:"from"`
	Value json.RawMessage `json:"value"`
}

func parseJSONPatch(body []byte) ([]bson.JSONPatchOp, error) {
	var raw []jsonPatchWire
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, ejerr.Wrap(err, ejerr.InvalidArgument, "httpgw: malformed json patch body")
	}
	ops := make([]bson.JSONPatchOp, 0, len(raw))
	for _, r := range raw {
		op := bson.JSONPatchOp{Op: r.Op, Path: r.Path, From: r.From}
		if len(r.Value) > 0 {
			wrapped := append([]byte(`{"v":`), append(append([]byte{}, r.Value...), '}')...)
			wrappedObj, err := bson.FromJSON(wrapped)
			if err != nil {
				return nil, err
			}
			v, _ := wrappedObj.Get("v")
			op.Value = v
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func writeBSONDoc(w http.ResponseWriter, status int, doc *bson.Object) {
	body, err := bson.ToJSON(doc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps the engine's structured error taxonomy to HTTP
// status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	code := ejerr.GetCode(err)
	status := http.StatusInternalServerError
	switch code {
	case ejerr.NotFound:
		status = http.StatusNotFound
	case ejerr.InvalidArgument, ejerr.InvalidQuery, ejerr.OutOfRange:
		status = http.StatusBadRequest
	case ejerr.AlreadyExists, ejerr.UniqueViolation:
		status = http.StatusConflict
	case ejerr.TransactionConflict:
		status = http.StatusConflict
	case ejerr.Unsupported:
		status = http.StatusNotImplemented
	case ejerr.Canceled:
		status = http.StatusRequestTimeout
	}
	writeError(w, status, err.Error())
}
