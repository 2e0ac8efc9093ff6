package repo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type mockResult struct {
	records []*neo4j.Record
	idx     int
}

func (m *mockResult) Next(context.Context) bool {
	if m.idx < len(m.records) {
		m.idx++
		return true
	}
	return false
}

func (m *mockResult) Record() *neo4j.Record { return m.records[m.idx-1] }

type mockSession struct {
	records []*neo4j.Record
	err     error
	cyphers []string
	params  []map[string]any
	closed  int
}

func (m *mockSession) Run(_ context.Context, cypher string, params map[string]any) (Result, error) {
	m.cyphers = append(m.cyphers, cypher)
	m.params = append(m.params, params)
	if m.err != nil {
		return nil, m.err
	}
	return &mockResult{records: m.records}, nil
}

func (m *mockSession) Close(context.Context) error { m.closed++; return nil }

func (m *mockSession) ExecuteWrite(ctx context.Context, work func(tx Runner) (any, error)) (any, error) {
	return work(m)
}

type mockOpener struct{ sess *mockSession }

func (o mockOpener) OpenSession(context.Context) Session { return o.sess }

type entity struct {
	ID   string
	Name string
}

func makeRecord(id, name string) *neo4j.Record {
	return &neo4j.Record{
		Values: []any{map[string]any{"id": id, "name": name}},
		Keys:   []string{"n"},
	}
}

func newTestRepo(s *mockSession) *Neo4jRepo[entity, string] {
	return NewNeo4jRepo[entity, string](mockOpener{s}, "Entity",
		func(e entity) map[string]any { return map[string]any{"id": e.ID, "name": e.Name} },
		func(rec *neo4j.Record) (entity, error) {
			p, ok := Props(rec, "n")
			if !ok {
				return entity{}, errors.New("no props")
			}
			id, _ := p["id"].(string)
			name, _ := p["name"].(string)
			return entity{ID: id, Name: name}, nil
		},
	)
}

func TestGet(t *testing.T) {
	s := &mockSession{records: []*neo4j.Record{makeRecord("e1", "one")}}
	r := newTestRepo(s)

	got, err := r.Get(context.Background(), "e1")
	if err != nil {
		t.Fatal(err)
	}
	if got != (entity{ID: "e1", Name: "one"}) {
		t.Fatalf("got %+v", got)
	}
	if !strings.Contains(s.cyphers[0], "MATCH (n:Entity {id: $id})") {
		t.Fatalf("cypher = %s", s.cyphers[0])
	}
	if s.closed != 1 {
		t.Fatalf("session closed %d times", s.closed)
	}
}

func TestGet_NotFound(t *testing.T) {
	r := newTestRepo(&mockSession{})
	_, err := r.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGet_RunError(t *testing.T) {
	boom := errors.New("boom")
	r := newTestRepo(&mockSession{err: boom})
	if _, err := r.Get(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
}

func TestList_DefaultsAndFilter(t *testing.T) {
	s := &mockSession{records: []*neo4j.Record{makeRecord("a", "A"), makeRecord("b", "B")}}
	r := newTestRepo(s)

	items, err := r.List(context.Background(), ListOpts{Filter: map[string]any{"name": "A", "kind": "x"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items", len(items))
	}
	c := s.cyphers[0]
	if !strings.Contains(c, "WHERE n.kind = $f0 AND n.name = $f1") {
		t.Fatalf("cypher = %s", c)
	}
	p := s.params[0]
	if p["limit"] != int64(DefaultListLimit) || p["offset"] != int64(0) {
		t.Fatalf("params = %v", p)
	}
	if p["f0"] != "x" || p["f1"] != "A" {
		t.Fatalf("filter params = %v", p)
	}
}

func TestList_RejectsBadFilterKey(t *testing.T) {
	s := &mockSession{}
	r := newTestRepo(s)
	_, err := r.List(context.Background(), ListOpts{Filter: map[string]any{"x) DETACH DELETE n //": 1}})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(s.cyphers) != 0 {
		t.Fatal("no query should run")
	}
}

func TestUpsert(t *testing.T) {
	s := &mockSession{}
	r := newTestRepo(s)
	if err := r.Upsert(context.Background(), entity{ID: "e1", Name: "one"}); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(s.cyphers[0], "MERGE (n:Entity {id: $id})") {
		t.Fatalf("cypher = %s", s.cyphers[0])
	}
	if s.params[0]["id"] != "e1" {
		t.Fatalf("params = %v", s.params[0])
	}
}

func TestUpsert_MissingID(t *testing.T) {
	s := &mockSession{}
	if err := newTestRepo(s).Upsert(context.Background(), entity{Name: "anon"}); err == nil {
		t.Fatal("expected error")
	}
	if len(s.cyphers) != 0 {
		t.Fatal("no query should run")
	}
}

func TestDelete(t *testing.T) {
	s := &mockSession{}
	if err := newTestRepo(s).Delete(context.Background(), "e1"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(s.cyphers[0], "DETACH DELETE n") {
		t.Fatalf("cypher = %s", s.cyphers[0])
	}
}

func TestWithIDKey(t *testing.T) {
	s := &mockSession{records: []*neo4j.Record{makeRecord("e1", "one")}}
	r := NewNeo4jRepo[entity, string](mockOpener{s}, "Entity",
		func(e entity) map[string]any { return map[string]any{"key": e.ID} },
		func(*neo4j.Record) (entity, error) { return entity{}, nil },
		WithIDKey[entity, string]("key"),
	)
	if _, err := r.Get(context.Background(), "e1"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(s.cyphers[0], "{key: $id}") {
		t.Fatalf("cypher = %s", s.cyphers[0])
	}
}
