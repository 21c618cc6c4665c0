package progress

import "github.com/tendant/simple-stars/pkg/domain"

// CurrentBucketBadges returns the badges of the bucket containing totalStars
// that are already unlocked at that total.
func (c *Catalog) CurrentBucketBadges(totalStars int) []domain.Badge {
	bucket := c.StageNumber(totalStars)
	var out []domain.Badge
	for _, b := range c.badges {
		if b.Bucket == bucket && b.UnlockStars <= totalStars {
			out = append(out, b)
		}
	}
	return out
}

// NewlyUnlocked returns every badge with unlock threshold in (oldStars, newStars],
// across all buckets the change traverses, ordered by threshold.
// Decreasing changes unlock nothing.
func (c *Catalog) NewlyUnlocked(oldStars, newStars int) []domain.Badge {
	if newStars <= oldStars {
		return nil
	}
	var out []domain.Badge
	for _, b := range c.badges {
		if b.UnlockStars > oldStars && b.UnlockStars <= newStars {
			out = append(out, b)
		}
	}
	return out
}
