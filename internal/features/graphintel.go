package features

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/fraudnet/backend/internal/graph"
)

// GraphIntelReader is the graph surface the topology extractor needs.
type GraphIntelReader interface {
	UserGraphFeatures(ctx context.Context, userID string) (*graph.GraphFeatures, error)
	CommunityStats(ctx context.Context, communityID string) (*graph.CommunityStats, error)
}

// GraphIntelResult carries the sub-score plus the topology signals the
// fusion and mule stages consume.
type GraphIntelResult struct {
	Risk  float64
	Flags []string

	InDegree        int64
	OutDegree       int64
	Betweenness     float64
	PageRank        float64
	ClusteringCoeff float64
	CommunityID     string
	CommunityRisk   float64
	CentralityScore float64
	StructuralScore float64
	AvgNeighborRisk float64
}

// GraphIntelligenceExtractor reads the analyzer-written centrality and
// community properties off the sender node; it never runs algorithms on
// the hot path.
type GraphIntelligenceExtractor struct {
	reader GraphIntelReader
	logger *slog.Logger
}

func NewGraphIntelligenceExtractor(reader GraphIntelReader, logger *slog.Logger) *GraphIntelligenceExtractor {
	return &GraphIntelligenceExtractor{reader: reader, logger: logger}
}

func (e *GraphIntelligenceExtractor) Compute(ctx context.Context, userID string) (*GraphIntelResult, error) {
	f, err := e.reader.UserGraphFeatures(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("graph features: %w", err)
	}
	if f == nil {
		return &GraphIntelResult{}, nil
	}

	res := &GraphIntelResult{
		InDegree:        f.InDegree,
		OutDegree:       f.OutDegree,
		Betweenness:     f.Betweenness,
		PageRank:        f.PageRank,
		ClusteringCoeff: f.ClusteringCoeff,
		AvgNeighborRisk: f.AvgNeighborRisk,
	}

	if f.HasCommunity {
		res.CommunityID = f.CommunityID
		if stats, err := e.reader.CommunityStats(ctx, f.CommunityID); err == nil && stats != nil {
			if stats.MemberCount >= 3 && stats.AvgRisk > 50 {
				res.CommunityRisk = math.Min(stats.AvgRisk, 100)
			} else if stats.HighRiskCount >= 2 {
				res.CommunityRisk = 40
			}
		} else if err != nil {
			e.logger.Debug("community stats read failed", "community", f.CommunityID, "error", err)
		}
	}

	res.CentralityScore = math.Min(f.Betweenness*200, 30)
	pagerankScore := math.Min(f.PageRank*500, 15)

	if f.OutDegree >= 5 && f.InDegree <= 2 {
		res.StructuralScore += 15
	}
	if f.InDegree >= 5 && f.OutDegree <= 2 {
		res.StructuralScore += 15
	}
	if f.ClusteringCoeff > 0.5 && f.InDegree+f.OutDegree > 4 {
		res.StructuralScore += 10
	}

	contagion := math.Min(f.AvgNeighborRisk*0.3, 15)

	res.Risk = math.Min(
		res.CommunityRisk*0.30+res.CentralityScore+pagerankScore+res.StructuralScore+contagion,
		100)

	if f.Betweenness > 0.05 {
		res.Flags = append(res.Flags, "High Betweenness Node (Money Router)")
	}
	if res.CommunityRisk > 50 {
		res.Flags = append(res.Flags, fmt.Sprintf("Member of High-Risk Cluster %s", res.CommunityID))
	}
	if f.OutDegree >= 5 && f.InDegree <= 2 {
		res.Flags = append(res.Flags, "Fan-Out Hub (Distributor)")
	}
	if f.InDegree >= 5 && f.OutDegree <= 2 {
		res.Flags = append(res.Flags, "Fan-In Hub (Collector)")
	}

	return res, nil
}
