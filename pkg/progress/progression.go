package progress

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tendant/simple-stars/pkg/celebration"
	"github.com/tendant/simple-stars/pkg/domain"
)

// Progression ties the ledger, badge engine and goal tracker together and
// routes their celebrations into a sink.
type Progression struct {
	ledger *Ledger
	badges *BadgeEngine
	goals  *GoalTracker
	logger *slog.Logger
}

// NewProgression creates a Progression.
func NewProgression(ledger *Ledger, badges *BadgeEngine, goals *GoalTracker, logger *slog.Logger) *Progression {
	if logger == nil {
		logger = slog.Default()
	}
	return &Progression{
		ledger: ledger,
		badges: badges,
		goals:  goals,
		logger: logger,
	}
}

// Ledger returns the star ledger.
func (p *Progression) Ledger() *Ledger { return p.ledger }

// Badges returns the badge engine.
func (p *Progression) Badges() *BadgeEngine { return p.badges }

// Goals returns the goal tracker.
func (p *Progression) Goals() *GoalTracker { return p.goals }

// Catalog returns the stage and badge catalog the ledger uses.
func (p *Progression) Catalog() *Catalog { return p.ledger.Catalog() }

// Outcome describes what a star delta did.
type Outcome struct {
	Change    *domain.StarChange `json:"-"`
	Progress  StageProgress      `json:"progress"`
	Badges    []domain.Badge     `json:"badges,omitempty"`
	StageUp   bool               `json:"stage_up"`
	Milestone bool               `json:"milestone"`
}

// Snapshot is the membership as presented to a client.
type Snapshot struct {
	Membership    *domain.Membership `json:"membership"`
	Progress      StageProgress      `json:"progress"`
	CurrentBadges []domain.Badge     `json:"current_badges"`
}

// Snapshot returns the membership with its stage progress and the unlocked
// badges of its current bucket.
func (p *Progression) Snapshot(ctx context.Context, userID, groupID uuid.UUID) (*Snapshot, error) {
	m, err := p.ledger.Get(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	return p.snapshot(m), nil
}

func (p *Progression) snapshot(m *domain.Membership) *Snapshot {
	return &Snapshot{
		Membership:    m,
		Progress:      p.Catalog().Progress(m.TotalStars),
		CurrentBadges: p.badges.CurrentBucketBadges(m.TotalStars),
	}
}

// ApplyDelta applies delta stars and runs the follow-up checks on the
// persisted totals. A non-empty operationID makes redelivery safe.
//
// When the ledger write fails nothing else happens. Crossing the milestone
// ceiling enqueues the milestone celebration instead of badge celebrations;
// the membership resets once that celebration has been dismissed.
func (p *Progression) ApplyDelta(ctx context.Context, userID, groupID uuid.UUID, delta int, operationID string, sink celebration.Sink) (*Outcome, error) {
	if sink == nil {
		sink = celebration.Discard
	}
	change, err := p.ledger.ApplyDelta(ctx, domain.StarDelta{
		UserID:      userID,
		GroupID:     groupID,
		Delta:       delta,
		OperationID: operationID,
	})
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		Change:   change,
		Progress: p.Catalog().Progress(change.Total),
	}

	ceiling := p.Catalog().Ceiling()
	if !change.Replayed && change.Crossed(ceiling) {
		out.Milestone = true
		sink.Enqueue(p.milestone(userID, groupID, change.Total))
		return out, nil
	}

	if !change.Replayed && change.Stage > change.PreviousStage {
		out.StageUp = true
		if stage, ok := p.Catalog().StageByNumber(change.Stage); ok {
			sink.Enqueue(celebration.StageReached(groupID, stage.Number, stage.Name))
		}
	}

	// Badge checks are idempotent, so a replayed operation retries them.
	out.Badges, err = p.badges.CheckAndAward(ctx, userID, groupID, change.PreviousTotal, change.Total, sink)
	if err != nil {
		p.logger.Warn("badge check incomplete", "error", err, "user_id", userID, "group_id", groupID)
	}
	return out, nil
}

// UpdateGoalProgress credits stars from a task in categoryID to the active goal.
func (p *Progression) UpdateGoalProgress(ctx context.Context, userID, groupID uuid.UUID, categoryID string, stars int, sink celebration.Sink) (*GoalUpdate, error) {
	return p.goals.UpdateProgress(ctx, userID, groupID, categoryID, stars, sink)
}

// TriggerReset zeroes the membership's progress.
func (p *Progression) TriggerReset(ctx context.Context, userID, groupID uuid.UUID) (*domain.Membership, error) {
	return p.ledger.Reset(ctx, userID, groupID)
}

// Join makes the user a member of the group and returns the new snapshot.
func (p *Progression) Join(ctx context.Context, userID, groupID uuid.UUID) (*Snapshot, error) {
	m, err := p.ledger.Join(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	return p.snapshot(m), nil
}

// Leave removes the membership with its badges and goals.
func (p *Progression) Leave(ctx context.Context, userID, groupID uuid.UUID) error {
	return p.ledger.Leave(ctx, userID, groupID)
}

// MarkRead records that the user looked at the group.
func (p *Progression) MarkRead(ctx context.Context, userID, groupID uuid.UUID) error {
	return p.ledger.MarkRead(ctx, userID, groupID)
}

// Standings lists the group's memberships, most stars first. The caller must
// be a member.
func (p *Progression) Standings(ctx context.Context, userID, groupID uuid.UUID) ([]*domain.Membership, error) {
	if _, err := p.ledger.Get(ctx, userID, groupID); err != nil {
		return nil, err
	}
	return p.ledger.ListGroup(ctx, groupID)
}

// UnlockedBadges lists every badge the user earned in the group.
func (p *Progression) UnlockedBadges(ctx context.Context, userID, groupID uuid.UUID) ([]*domain.UnlockedBadge, error) {
	if _, err := p.ledger.Get(ctx, userID, groupID); err != nil {
		return nil, err
	}
	return p.badges.Unlocked(ctx, userID, groupID)
}

// CreateGoal starts a goal for a member.
func (p *Progression) CreateGoal(ctx context.Context, userID, groupID uuid.UUID, targetStars int, categories []string, reward string) (*domain.Goal, error) {
	if _, err := p.ledger.Get(ctx, userID, groupID); err != nil {
		return nil, err
	}
	return p.goals.Create(ctx, userID, groupID, targetStars, categories, reward)
}

// ActiveGoal returns the member's active goal, or domain.ErrGoalNotFound.
func (p *Progression) ActiveGoal(ctx context.Context, userID, groupID uuid.UUID) (*domain.Goal, error) {
	return p.goals.Active(ctx, userID, groupID)
}

// GoalHistory lists the member's goals, newest first.
func (p *Progression) GoalHistory(ctx context.Context, userID, groupID uuid.UUID, limit int) ([]*domain.Goal, error) {
	return p.goals.History(ctx, userID, groupID, limit)
}

// Resume replays celebrations the user has not seen yet into sink. It is
// called when a client session is opened. A membership still at or above the
// ceiling gets its milestone again, since the reset only happens once the
// milestone was dismissed.
func (p *Progression) Resume(ctx context.Context, userID, groupID uuid.UUID, sink celebration.Sink) error {
	m, err := p.ledger.Get(ctx, userID, groupID)
	if err != nil {
		return err
	}
	if m.TotalStars >= p.Catalog().Ceiling() {
		sink.Enqueue(p.milestone(userID, groupID, m.TotalStars))
		return nil
	}
	if _, err := p.badges.Replay(ctx, userID, groupID, m.TotalStars, sink); err != nil {
		return err
	}
	if _, err := p.goals.Replay(ctx, m, sink); err != nil {
		return err
	}
	return nil
}

func (p *Progression) milestone(userID, groupID uuid.UUID, total int) celebration.Event {
	return celebration.MilestoneReached(groupID, total, func() {
		// The request that triggered the milestone is long gone by now.
		if _, err := p.ledger.ResetAfterMilestone(context.Background(), userID, groupID); err != nil {
			p.logger.Error("milestone reset failed", "error", err, "user_id", userID, "group_id", groupID)
		}
	})
}
