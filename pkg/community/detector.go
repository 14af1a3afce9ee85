/*
Package community clusters the entity graph into communities with label
propagation. Global retrieval aggregates over these clusters for broad,
thematic queries instead of walking individual neighborhoods.

Detection rebuilds the whole community set; it is triggered after ingestion,
never during a query.
*/
package community

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/twattier/rag-engine/pkg/driver"
	"github.com/twattier/rag-engine/pkg/types"
)

const maxIterations = 100

// Detector computes and persists entity communities.
type Detector struct {
	store  driver.GraphStore
	logger *slog.Logger
}

// NewDetector creates a Detector.
func NewDetector(store driver.GraphStore, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{store: store, logger: logger}
}

type neighbor struct {
	id     string
	weight int
}

// Rebuild recomputes communities from the current entity graph and replaces
// the stored set. Returns the number of communities found.
func (d *Detector) Rebuild(ctx context.Context) (int, error) {
	entities, relationships, err := d.store.EntityGraph(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load entity graph: %w", err)
	}

	byID := make(map[string]*types.Entity, len(entities))
	projection := make(map[string][]neighbor, len(entities))
	for _, entity := range entities {
		byID[entity.ID] = entity
		projection[entity.ID] = nil
	}
	for _, rel := range relationships {
		if _, ok := byID[rel.SourceID]; !ok {
			continue
		}
		if _, ok := byID[rel.TargetID]; !ok {
			continue
		}
		projection[rel.SourceID] = addNeighbor(projection[rel.SourceID], rel.TargetID)
		projection[rel.TargetID] = addNeighbor(projection[rel.TargetID], rel.SourceID)
	}

	clusters := labelPropagation(projection)

	communities := make([]*types.Community, 0, len(clusters))
	for _, cluster := range clusters {
		communities = append(communities, &types.Community{
			ID:        uuid.NewString(),
			MemberIDs: cluster,
			Summary:   summarize(cluster, projection, byID),
			Size:      len(cluster),
			UpdatedAt: time.Now().UTC(),
		})
	}

	if err := d.store.ReplaceCommunities(ctx, communities); err != nil {
		return 0, fmt.Errorf("failed to persist communities: %w", err)
	}

	d.logger.Info("rebuilt entity communities",
		"communities", len(communities), "entities", len(entities))
	return len(communities), nil
}

func addNeighbor(neighbors []neighbor, id string) []neighbor {
	for i, n := range neighbors {
		if n.id == id {
			neighbors[i].weight++
			return neighbors
		}
	}
	return append(neighbors, neighbor{id: id, weight: 1})
}

// labelPropagation assigns each node the label carried by the weighted
// majority of its neighbors, iterating to a fixed point. Singleton clusters
// are dropped.
func labelPropagation(projection map[string][]neighbor) [][]string {
	if len(projection) == 0 {
		return nil
	}

	ids := make([]string, 0, len(projection))
	for id := range projection {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	labels := make(map[string]int, len(ids))
	for i, id := range ids {
		labels[id] = i
	}

	// Labels update in place: each node immediately sees its neighbors'
	// latest labels, which keeps two-node components from oscillating.
	for iteration := 0; iteration < maxIterations; iteration++ {
		changed := false

		for _, id := range ids {
			current := labels[id]
			counts := make(map[int]int)
			for _, n := range projection[id] {
				if label, ok := labels[n.id]; ok {
					counts[label] += n.weight
				}
			}

			best := current
			bestCount := 0
			for label, count := range counts {
				// Deterministic tie-break on the smaller label.
				if count > bestCount || (count == bestCount && label < best) {
					best = label
					bestCount = count
				}
			}
			if bestCount == 0 {
				continue
			}

			if best != current {
				labels[id] = best
				changed = true
			}
		}

		if !changed {
			break
		}
	}

	clusterMap := make(map[int][]string)
	for _, id := range ids {
		clusterMap[labels[id]] = append(clusterMap[labels[id]], id)
	}

	var clusters [][]string
	for _, cluster := range clusterMap {
		if len(cluster) > 1 {
			sort.Strings(cluster)
			clusters = append(clusters, cluster)
		}
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i][0] < clusters[j][0] })
	return clusters
}

// summarize digests a cluster into a short text, leading with the best
// connected members.
func summarize(cluster []string, projection map[string][]neighbor, byID map[string]*types.Entity) string {
	type member struct {
		name   string
		degree int
	}
	members := make([]member, 0, len(cluster))
	for _, id := range cluster {
		entity, ok := byID[id]
		if !ok {
			continue
		}
		members = append(members, member{name: entity.Name, degree: len(projection[id])})
	}
	sort.SliceStable(members, func(i, j int) bool { return members[i].degree > members[j].degree })

	const maxNames = 10
	names := make([]string, 0, maxNames)
	for _, m := range members {
		if len(names) == maxNames {
			break
		}
		names = append(names, m.name)
	}
	return fmt.Sprintf("Community of %d entities: %s", len(cluster), strings.Join(names, ", "))
}
