package neocortex

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Neo4jStore keeps knowledge as (:Knowledge {key, value}) nodes and
// relationships as (:Entity)-[:RELATES {predicate}]->(:Entity) edges.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewNeo4jStore connects to Neo4j. Empty user disables authentication.
func NewNeo4jStore(ctx context.Context, uri, user, password string, logger *zap.Logger) (*Neo4jStore, error) {
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, password, "")
	}
	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j: %w", err)
	}
	s := &Neo4jStore{driver: driver, logger: logger}
	if err := s.ensureConstraints(ctx); err != nil {
		driver.Close(ctx)
		return nil, err
	}
	logger.Info("Neocortex connected", zap.String("uri", uri))
	return s, nil
}

func (s *Neo4jStore) ensureConstraints(ctx context.Context) error {
	for _, stmt := range []string{
		`CREATE CONSTRAINT knowledge_key IF NOT EXISTS FOR (k:Knowledge) REQUIRE k.key IS UNIQUE`,
		`CREATE CONSTRAINT entity_name IF NOT EXISTS FOR (e:Entity) REQUIRE e.name IS UNIQUE`,
	} {
		if _, err := neo4j.ExecuteQuery(ctx, s.driver, stmt, nil,
			neo4j.EagerResultTransformer); err != nil {
			return fmt.Errorf("neo4j constraint: %w", err)
		}
	}
	return nil
}

func (s *Neo4jStore) StoreKnowledge(ctx context.Context, key, value string) error {
	_, err := neo4j.ExecuteQuery(ctx, s.driver,
		`MERGE (k:Knowledge {key: $key})
		 SET k.value = $value, k.updated_at = datetime()`,
		map[string]any{"key": key, "value": value},
		neo4j.EagerResultTransformer)
	if err != nil {
		return fmt.Errorf("store knowledge %q: %w", key, err)
	}
	return nil
}

func (s *Neo4jStore) RetrieveKnowledge(ctx context.Context, key string) (string, bool, error) {
	res, err := neo4j.ExecuteQuery(ctx, s.driver,
		`MATCH (k:Knowledge {key: $key}) RETURN k.value AS value`,
		map[string]any{"key": key},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return "", false, fmt.Errorf("retrieve knowledge %q: %w", key, err)
	}
	if len(res.Records) == 0 {
		return "", false, nil
	}
	v, _ := res.Records[0].Get("value")
	str, _ := v.(string)
	return str, true, nil
}

func (s *Neo4jStore) StoreRelationship(ctx context.Context, rel Relationship) error {
	_, err := neo4j.ExecuteQuery(ctx, s.driver,
		`MERGE (a:Entity {name: $subject})
		 MERGE (b:Entity {name: $object})
		 MERGE (a)-[r:RELATES {predicate: $predicate}]->(b)
		 ON CREATE SET r.created_at = datetime()`,
		map[string]any{
			"subject":   rel.Subject,
			"predicate": rel.Predicate,
			"object":    rel.Object,
		},
		neo4j.EagerResultTransformer)
	if err != nil {
		return fmt.Errorf("store relationship: %w", err)
	}
	return nil
}

func (s *Neo4jStore) Relationships(ctx context.Context, f Filter) ([]Relationship, error) {
	res, err := neo4j.ExecuteQuery(ctx, s.driver,
		`MATCH (a:Entity)-[r:RELATES]->(b:Entity)
		 WHERE ($subject = '' OR a.name = $subject)
		   AND ($predicate = '' OR r.predicate = $predicate)
		   AND ($object = '' OR b.name = $object)
		 RETURN a.name AS subject, r.predicate AS predicate, b.name AS object
		 ORDER BY r.created_at`,
		map[string]any{
			"subject":   f.Subject,
			"predicate": f.Predicate,
			"object":    f.Object,
		},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, fmt.Errorf("query relationships: %w", err)
	}

	out := make([]Relationship, 0, len(res.Records))
	for _, rec := range res.Records {
		subj, _ := rec.Get("subject")
		pred, _ := rec.Get("predicate")
		obj, _ := rec.Get("object")
		out = append(out, Relationship{
			Subject:   asString(subj),
			Predicate: asString(pred),
			Object:    asString(obj),
		})
	}
	return out, nil
}

// Close shuts down the Neo4j driver.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

var (
	_ Store = (*Neo4jStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
