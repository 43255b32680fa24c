package repository

import (
	"channeld/internal/apperr"
	"channeld/internal/models"

	"gorm.io/gorm"
)

// SaveBucket upserts a bucket and its ordered media membership, replacing
// whatever membership rows previously existed for it.
func (r *Repository) SaveBucket(b models.Bucket) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		row := dbBucket{ID: b.ID, Name: b.Name, Type: string(b.Type)}
		if err := tx.Save(&row).Error; err != nil {
			return err
		}

		if err := tx.Where("bucket_id = ?", b.ID).Delete(&dbBucketMedia{}).Error; err != nil {
			return err
		}

		for i, mediaID := range b.MediaIDs {
			member := dbBucketMedia{BucketID: b.ID, MediaID: mediaID, Position: i}
			if err := tx.Create(&member).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperr.IOFailure("repository.SaveBucket", err)
	}
	return nil
}

// SaveChannelBucket upserts a channel-bucket association's priority.
func (r *Repository) SaveChannelBucket(cb models.ChannelBucket) error {
	row := dbChannelBucket{ChannelID: cb.ChannelID, BucketID: cb.BucketID, Priority: cb.Priority}
	if err := r.db.Save(&row).Error; err != nil {
		return apperr.IOFailure("repository.SaveChannelBucket", err)
	}
	return nil
}

// SaveScheduleBlock upserts a schedule block.
func (r *Repository) SaveScheduleBlock(b models.ScheduleBlock) error {
	row := dbScheduleBlock{
		ID: b.ID, ChannelID: b.ChannelID, DayOfWeek: formatDayOfWeek(b.DayOfWeek),
		StartTime: b.StartTime, EndTime: b.EndTime, BucketID: b.BucketID,
		PlaybackMode: string(b.PlaybackMode), Priority: b.Priority, Enabled: b.Enabled, CreatedAt: b.CreatedAt,
	}
	if err := r.db.Save(&row).Error; err != nil {
		return apperr.IOFailure("repository.SaveScheduleBlock", err)
	}
	return nil
}

// DeleteScheduleBlock removes a schedule block by ID.
func (r *Repository) DeleteScheduleBlock(id string) error {
	if err := r.db.Delete(&dbScheduleBlock{}, "id = ?", id).Error; err != nil {
		return apperr.IOFailure("repository.DeleteScheduleBlock", err)
	}
	return nil
}
