package db

import (
	"fmt"

	"github.com/sstent/fitbitkml/internal/fitbit"
	"github.com/sstent/fitbitkml/internal/tcx"
)

// SyncStats counts the outcome of SyncActivities.
type SyncStats struct {
	Inserted  int
	Updated   int
	Unchanged int
	Skipped   int
}

// SyncActivities synchronizes dumped Fitbit activities with the local
// catalog. New activities are inserted, changed metadata is updated and
// download state is kept.
func SyncActivities(repo ActivityRepository, activities []fitbit.Activity) (SyncStats, error) {
	var stats SyncStats

	localActivities, err := repo.GetAll()
	if err != nil {
		return stats, fmt.Errorf("failed to get local activities: %w", err)
	}

	localMap := make(map[int64]Activity, len(localActivities))
	for _, activity := range localActivities {
		localMap[activity.LogID] = activity
	}

	for _, raw := range activities {
		fa, ok := FromFitbit(raw)
		if !ok {
			stats.Skipped++
			continue
		}

		local, exists := localMap[fa.LogID]
		switch {
		case !exists:
			stats.Inserted++
		case metadataChanged(local, fa):
			stats.Updated++
		default:
			stats.Unchanged++
			continue
		}

		if err := repo.Upsert(fa); err != nil {
			return stats, err
		}
		localMap[fa.LogID] = fa
	}

	return stats, nil
}

func metadataChanged(local, remote Activity) bool {
	return !local.StartTime.Equal(remote.StartTime) ||
		local.Name != remote.Name ||
		local.Distance != remote.Distance ||
		local.HasGPS != remote.HasGPS ||
		local.TCXLink != remote.TCXLink
}

// SyncPlan mirrors the download flags of a TCX plan into the catalog and
// returns how many items are marked downloaded.
func SyncPlan(repo ActivityRepository, plan *tcx.Plan) (int, error) {
	marked := 0
	for _, it := range plan.Items {
		if it.Downloaded {
			if err := repo.MarkDownloaded(it.URL, it.Path); err != nil {
				return marked, err
			}
			marked++
			continue
		}
		if err := repo.MarkMissing(it.URL); err != nil {
			return marked, err
		}
	}
	return marked, nil
}
