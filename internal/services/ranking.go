package services

import (
	"github.com/codeak/portal/internal/metrics"
	"github.com/codeak/portal/internal/models"
	"gorm.io/gorm"
)

// AssignRanks returns standard competition ranks for points sorted in
// descending order: equal values share a rank and the next distinct value
// skips ahead (10,10,5 -> 1,1,3).
func AssignRanks(points []int) []int {
	ranks := make([]int, len(points))
	for i := range points {
		if i > 0 && points[i] == points[i-1] {
			ranks[i] = ranks[i-1]
			continue
		}
		ranks[i] = i + 1
	}
	return ranks
}

type RankingService struct{}

func NewRankingService() *RankingService {
	return &RankingService{}
}

// Recompute rewrites the rank of every entry in one partition. It must be
// given the transaction that performed the triggering write.
func (s *RankingService) Recompute(tx *gorm.DB, isIndividual bool) error {
	var entries []models.RankingEntry
	if err := tx.Select("id", "points", "rank").
		Where("is_individual = ?", isIndividual).
		Order("points DESC").
		Order("id ASC").
		Find(&entries).Error; err != nil {
		return err
	}

	points := make([]int, len(entries))
	for i, entry := range entries {
		points[i] = entry.Points
	}

	for i, rank := range AssignRanks(points) {
		if entries[i].Rank == rank {
			continue
		}
		if err := tx.Model(&models.RankingEntry{}).
			Where("id = ?", entries[i].ID).
			UpdateColumn("rank", rank).Error; err != nil {
			return err
		}
	}

	metrics.RankRecomputesTotal.WithLabelValues(PartitionLabel(isIndividual)).Inc()
	return nil
}

// PartitionLabel names a partition in metrics and logs.
func PartitionLabel(isIndividual bool) string {
	if isIndividual {
		return "individual"
	}
	return "team"
}
