package progress

import "sort"

// StageFor returns the stage with the highest threshold <= totalStars.
// Negative totals are treated as zero.
func (c *Catalog) StageFor(totalStars int) Stage {
	if totalStars < 0 {
		totalStars = 0
	}
	// First stage whose threshold is above the total; the one before it is ours.
	i := sort.Search(len(c.stages), func(i int) bool {
		return c.stages[i].Threshold > totalStars
	})
	return c.stages[i-1]
}

// StageNumber returns StageFor(totalStars).Number.
func (c *Catalog) StageNumber(totalStars int) int {
	return c.StageFor(totalStars).Number
}

// StageByNumber looks up a stage by its 1-based number.
func (c *Catalog) StageByNumber(n int) (Stage, bool) {
	if n < 1 || n > len(c.stages) {
		return Stage{}, false
	}
	return c.stages[n-1], true
}

// StageProgress is the position within the current stage bracket.
type StageProgress struct {
	Stage      Stage `json:"stage"`
	Current    int   `json:"current"`
	Target     int   `json:"target"`
	Percentage int   `json:"percentage"`
}

// Progress returns how far totalStars is through its bracket. Current and
// Target are relative to the bracket's lower threshold. In the top bracket
// Target equals Current and Percentage is pinned to 100.
func (c *Catalog) Progress(totalStars int) StageProgress {
	if totalStars < 0 {
		totalStars = 0
	}
	stage := c.StageFor(totalStars)
	current := totalStars - stage.Threshold

	next, ok := c.StageByNumber(stage.Number + 1)
	if !ok {
		return StageProgress{Stage: stage, Current: current, Target: current, Percentage: 100}
	}

	target := next.Threshold - stage.Threshold
	return StageProgress{
		Stage:      stage,
		Current:    current,
		Target:     target,
		Percentage: current * 100 / target,
	}
}
