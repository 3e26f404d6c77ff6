package httpgw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jpl-au/ejdb/internal/bson"
	"github.com/jpl-au/ejdb/internal/ejerr"
	"github.com/jpl-au/ejdb/internal/query"
)

type fakeStore struct {
	docs map[string]*bson.Object
	next int
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: map[string]*bson.Object{}}
}

func (s *fakeStore) Save(collection string, doc *bson.Object) (string, error) {
	s.next++
	id := bson.NewOID().String()
	doc.Set("_id", bson.OIDValue(bson.NewOID()))
	s.docs[id] = doc
	return id, nil
}

func (s *fakeStore) Replace(collection, id string, doc *bson.Object) error {
	if _, ok := s.docs[id]; !ok {
		return ejerr.New(ejerr.NotFound, "no such document")
	}
	s.docs[id] = doc
	return nil
}

func (s *fakeStore) Load(collection, id string) (*bson.Object, error) {
	doc, ok := s.docs[id]
	if !ok {
		return nil, ejerr.New(ejerr.NotFound, "no such document")
	}
	return doc, nil
}

func (s *fakeStore) Remove(collection, id string) error {
	if _, ok := s.docs[id]; !ok {
		return ejerr.New(ejerr.NotFound, "no such document")
	}
	delete(s.docs, id)
	return nil
}

func (s *fakeStore) Patch(collection, id string, ops []bson.JSONPatchOp) (*bson.Object, error) {
	doc, ok := s.docs[id]
	if !ok {
		return nil, ejerr.New(ejerr.NotFound, "no such document")
	}
	patched, err := bson.ApplyJSONPatch(doc, ops)
	if err != nil {
		return nil, err
	}
	s.docs[id] = patched
	return patched, nil
}

func (s *fakeStore) Exec(collection string, q *bson.Object) (*query.Outcome, error) {
	out := &query.Outcome{Trace: []string{"full scan"}}
	for _, doc := range s.docs {
		out.Results = append(out.Results, query.Result{Doc: doc})
	}
	return out, nil
}

func newTestHandler() (*Handler, *TokenSet, *fakeStore) {
	tokens := NewTokenSet()
	store := newFakeStore()
	h := NewHandler(store, Options{Tokens: tokens})
	return h, tokens, store
}

func TestCreateRequiresToken(t *testing.T) {
	h, _, _ := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/users", strings.NewReader(`{"name":"ann"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	h, tokens, _ := newTestHandler()
	tok, err := tokens.Issue()
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/users", strings.NewReader(`{"name":"ann"}`))
	req.Header.Set("Authorization", "Token "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "_id") {
		t.Fatalf("expected response to carry an _id, got %s", rec.Body.String())
	}
}

func TestGetMissingDocumentReturns404(t *testing.T) {
	h, tokens, _ := newTestHandler()
	tok, _ := tokens.Issue()
	req := httptest.NewRequest(http.MethodGet, "/users/does-not-exist", nil)
	req.Header.Set("Authorization", "Token "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestReadAnonAllowsGetWithoutToken(t *testing.T) {
	tokens := NewTokenSet()
	store := newFakeStore()
	doc := bson.NewObject()
	doc.Set("_id", bson.OIDValue(bson.NewOID()))
	doc.Set("name", bson.StringValue("ann"))
	store.docs["abc"] = doc

	h := NewHandler(store, Options{Tokens: tokens, ReadAnon: true})
	req := httptest.NewRequest(http.MethodGet, "/users/abc", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for anonymous read, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPatchAppliesJSONPatchOps(t *testing.T) {
	h, tokens, store := newTestHandler()
	tok, _ := tokens.Issue()
	doc := bson.NewObject()
	doc.Set("_id", bson.OIDValue(bson.NewOID()))
	doc.Set("name", bson.StringValue("ann"))
	store.docs["abc"] = doc

	body := `[{"op":"replace","path":"/name","value":"annabelle"}]`
	req := httptest.NewRequest(http.MethodPatch, "/users/abc", strings.NewReader(body))
	req.Header.Set("Authorization", "Token "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "annabelle") {
		t.Fatalf("expected patched name in response, got %s", rec.Body.String())
	}
}

func TestDeleteRemovesDocument(t *testing.T) {
	h, tokens, store := newTestHandler()
	tok, _ := tokens.Issue()
	store.docs["abc"] = bson.NewObject()

	req := httptest.NewRequest(http.MethodDelete, "/users/abc", nil)
	req.Header.Set("Authorization", "Token "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if _, ok := store.docs["abc"]; ok {
		t.Fatalf("expected document to be removed")
	}
}

func TestQueryShorthandExecutesAgainstNamedCollection(t *testing.T) {
	h, tokens, store := newTestHandler()
	tok, _ := tokens.Issue()
	store.docs["abc"] = bson.NewObject()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`@users/{}`))
	req.Header.Set("Authorization", "Token "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestQueryExplainHintAppendsTrace(t *testing.T) {
	h, tokens, _ := newTestHandler()
	tok, _ := tokens.Issue()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"$from":"users"}`))
	req.Header.Set("Authorization", "Token "+tok)
	req.Header.Set("X-Hints", "explain")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if !strings.Contains(rec.Body.String(), "full scan") {
		t.Fatalf("expected trace in explain output, got %s", rec.Body.String())
	}
}

func TestQueryWithoutFromOrShorthandIsBadRequest(t *testing.T) {
	h, tokens, _ := newTestHandler()
	tok, _ := tokens.Issue()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Token "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
