package engine

import (
	"context"
	"fmt"

	mappingdomain "github.com/voltbill/chargesync/internal/mapping/domain"
	"github.com/voltbill/chargesync/internal/metrics"
	"github.com/voltbill/chargesync/internal/steve"
	"github.com/voltbill/chargesync/internal/syncrun"
	syncrundomain "github.com/voltbill/chargesync/internal/syncrun/domain"
	"gorm.io/datatypes"
)

// TagSyncResult is the outcome of one tag-authorization pass.
type TagSyncResult struct {
	Activated   int
	Deactivated int
	Unchanged   int
	Errors      []string
}

// syncTagStatuses keeps every tag's authorization limit consistent with
// whether a mapping (direct or inherited) exists for it: mapped tags get
// unlimited, unmapped tags get blocked. One tag failing never aborts the
// pass; the failure is recorded with the tag id and the loop continues.
func (s *Service) syncTagStatuses(
	ctx context.Context,
	tags []steve.Tag,
	lookup map[string]*mappingdomain.TagBillingMapping,
	rl *syncrun.RunLogger,
) TagSyncResult {
	result := TagSyncResult{}
	syncMetrics := metrics.Sync()

	for _, tag := range tags {
		desired := steve.LimitBlocked
		if lookup[tag.IDTag] != nil {
			desired = steve.LimitUnlimited
		}

		if tag.Limit() == desired {
			result.Unchanged++
			continue
		}

		err := s.steve.UpdateTag(ctx, tag.OcppTagPk, steve.UpdateTagForm{
			IDTag:                     tag.IDTag,
			ParentIDTag:               tag.ParentIDTag,
			MaxActiveTransactionCount: desired,
			Note:                      tag.Note,
		})
		if err != nil {
			message := fmt.Sprintf("tag %s: update failed: %v", tag.IDTag, err)
			result.Errors = append(result.Errors, message)
			syncMetrics.IncTagUpdate(metrics.TagActionFailed)
			rl.Error(syncrundomain.SegmentTagLinking, "tag update failed", datatypes.JSONMap{
				"id_tag": tag.IDTag,
				"error":  err.Error(),
			})
			continue
		}

		if desired == steve.LimitUnlimited {
			result.Activated++
			syncMetrics.IncTagUpdate(metrics.TagActionActivated)
			rl.Info(syncrundomain.SegmentTagLinking, "tag activated", datatypes.JSONMap{
				"id_tag": tag.IDTag,
			})
		} else {
			result.Deactivated++
			syncMetrics.IncTagUpdate(metrics.TagActionDeactivated)
			rl.Info(syncrundomain.SegmentTagLinking, "tag deactivated", datatypes.JSONMap{
				"id_tag": tag.IDTag,
			})
		}
	}

	return result
}
