// Package graph mirrors memories, links and entities into a Neo4j database for
// exploration. Every statement is a MERGE keyed by id, so repeated pushes converge
// on the same graph.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/ajitpratap0/openclaw-brain/internal/models"
	"github.com/ajitpratap0/openclaw-brain/internal/store"
)

// batchSize bounds the statements sent in one write transaction.
const batchSize = 500

// Statement is one parameterized Cypher statement.
type Statement struct {
	Query  string
	Params map[string]any
}

// Executor runs statements in write transactions.
type Executor interface {
	Execute(ctx context.Context, stmts []Statement) error
	Close(ctx context.Context) error
}

// Report summarizes a push.
type Report struct {
	Memories   int           `json:"memories"`
	Removed    int           `json:"removed"`
	Links      int           `json:"links"`
	Entities   int           `json:"entities"`
	Mentions   int           `json:"mentions"`
	Statements int           `json:"statements"`
	Duration   time.Duration `json:"duration"`
}

var schema = []Statement{
	{Query: "CREATE CONSTRAINT memory_id IF NOT EXISTS FOR (m:Memory) REQUIRE m.id IS UNIQUE"},
	{Query: "CREATE CONSTRAINT entity_id IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE"},
}

const (
	mergeMemory = `MERGE (m:Memory {id: $id})
SET m.title = $title, m.content = $content, m.type = $type, m.importance = $importance,
    m.tags = $tags, m.visibility = $visibility, m.sync_state = $sync_state,
    m.remote_id = $remote_id, m.created_at = $created_at, m.updated_at = $updated_at`
	removeMemory = `MATCH (m:Memory {id: $id}) DETACH DELETE m`
	mergeEntity  = `MERGE (e:Entity {id: $id})
SET e.name = $name, e.type = $type, e.aliases = $aliases`
	mergeMention = `MATCH (m:Memory {id: $memory_id}), (e:Entity {id: $entity_id})
MERGE (m)-[:MENTIONS]->(e)`
)

// Mirror pushes the local store into the graph.
type Mirror struct {
	store  store.Store
	exec   Executor
	logger *slog.Logger
}

// NewMirror creates a Mirror.
func NewMirror(st store.Store, exec Executor, logger *slog.Logger) *Mirror {
	return &Mirror{store: st, exec: exec, logger: logger}
}

// Push writes every live memory, link, entity and mention, and removes tombstoned
// memories from the graph. It only reads the store.
func (m *Mirror) Push(ctx context.Context) (*Report, error) {
	start := time.Now()
	stmts, rep, err := m.Plan(ctx)
	if err != nil {
		return nil, err
	}
	// Schema changes cannot share a transaction with data writes.
	for _, s := range schema {
		if err := m.exec.Execute(ctx, []Statement{s}); err != nil {
			return nil, fmt.Errorf("graph: creating constraints: %w", err)
		}
	}
	for i := 0; i < len(stmts); i += batchSize {
		end := min(i+batchSize, len(stmts))
		if err := m.exec.Execute(ctx, stmts[i:end]); err != nil {
			return nil, fmt.Errorf("graph: writing batch %d-%d: %w", i, end, err)
		}
	}
	rep.Duration = time.Since(start)
	m.logger.Info("graph mirror pushed",
		"memories", rep.Memories, "links", rep.Links, "entities", rep.Entities,
		"mentions", rep.Mentions, "removed", rep.Removed, "duration", rep.Duration)
	return rep, nil
}

// Plan builds the statements Push would run, nodes before relationships.
func (m *Mirror) Plan(ctx context.Context) ([]Statement, *Report, error) {
	mems, err := m.store.ListMemories(ctx, store.ListFilter{IncludeTombstoned: true})
	if err != nil {
		return nil, nil, fmt.Errorf("graph: listing memories: %w", err)
	}
	links, err := m.store.ListLinks(ctx, "")
	if err != nil {
		return nil, nil, fmt.Errorf("graph: listing links: %w", err)
	}
	ents, err := m.store.ListEntities(ctx, "")
	if err != nil {
		return nil, nil, fmt.Errorf("graph: listing entities: %w", err)
	}

	rep := &Report{}
	live := make(map[string]bool, len(mems))
	var stmts []Statement
	for i := range mems {
		mem := &mems[i]
		if mem.Tombstoned() {
			stmts = append(stmts, Statement{Query: removeMemory, Params: map[string]any{"id": mem.ID}})
			rep.Removed++
			continue
		}
		live[mem.ID] = true
		stmts = append(stmts, memoryStatement(mem))
		rep.Memories++
	}
	for _, e := range ents {
		stmts = append(stmts, Statement{Query: mergeEntity, Params: map[string]any{
			"id":      e.ID,
			"name":    e.Name,
			"type":    string(e.Type),
			"aliases": nonNil(e.Aliases),
		}})
		rep.Entities++
	}
	for _, l := range links {
		if !live[l.FromID] || !live[l.ToID] {
			continue
		}
		stmts = append(stmts, linkStatement(l))
		rep.Links++
	}
	for _, e := range ents {
		for _, id := range e.MemoryIDs {
			if !live[id] {
				continue
			}
			stmts = append(stmts, Statement{Query: mergeMention, Params: map[string]any{"memory_id": id, "entity_id": e.ID}})
			rep.Mentions++
		}
	}
	rep.Statements = len(stmts)
	return stmts, rep, nil
}

func memoryStatement(mem *models.Memory) Statement {
	return Statement{Query: mergeMemory, Params: map[string]any{
		"id":         mem.ID,
		"title":      mem.Title,
		"content":    mem.Content,
		"type":       string(mem.Type),
		"importance": int64(mem.Importance),
		"tags":       nonNil(mem.Tags),
		"visibility": string(mem.Visibility),
		"sync_state": string(mem.SyncState),
		"remote_id":  mem.RemoteID,
		"created_at": mem.CreatedAt.UTC(),
		"updated_at": mem.UpdatedAt.UTC(),
	}}
}

// linkStatement uses the relation type as the relationship type. Relation types are a
// closed set of identifiers, so interpolating them is safe.
func linkStatement(l models.Link) Statement {
	rel := strings.ToUpper(string(l.RelationType))
	q := fmt.Sprintf(`MATCH (a:Memory {id: $from}), (b:Memory {id: $to})
MERGE (a)-[r:%s]->(b)
SET r.id = $id, r.created_at = $created_at`, rel)
	return Statement{Query: q, Params: map[string]any{
		"id":         l.ID,
		"from":       l.FromID,
		"to":         l.ToID,
		"created_at": l.CreatedAt.UTC(),
	}}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Neo4jExecutor runs statements against a Neo4j server.
type Neo4jExecutor struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jExecutor connects to uri and verifies connectivity.
func NewNeo4jExecutor(ctx context.Context, uri, username, password, database string) (*Neo4jExecutor, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("graph: creating driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("graph: connecting to %s: %w", uri, err)
	}
	return &Neo4jExecutor{driver: driver, database: database}, nil
}

// Execute runs stmts in one write transaction.
func (n *Neo4jExecutor) Execute(ctx context.Context, stmts []Statement) error {
	session := n.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: n.database})
	defer func() { _ = session.Close(ctx) }()
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, s := range stmts {
			res, err := tx.Run(ctx, s.Query, s.Params)
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// Close releases the driver.
func (n *Neo4jExecutor) Close(ctx context.Context) error {
	return n.driver.Close(ctx)
}
