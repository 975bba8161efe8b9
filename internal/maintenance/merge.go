package maintenance

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/ajitpratap0/openclaw-brain/internal/embedder"
	"github.com/ajitpratap0/openclaw-brain/internal/metrics"
	"github.com/ajitpratap0/openclaw-brain/internal/models"
	"github.com/ajitpratap0/openclaw-brain/internal/store"
)

// Group is a set of memories to fold into the earliest-created one.
type Group struct {
	Survivor models.Memory   `json:"survivor"`
	Members  []models.Memory `json:"members"`
}

// MergeDuplicates folds near-identical memories together at DuplicateThreshold.
func (e *Engine) MergeDuplicates(ctx context.Context, dryRun bool) (*PassReport, error) {
	return e.merge(ctx, "duplicates", e.opts.DuplicateThreshold, dryRun)
}

// Consolidate folds topically related memories together at ConsolidateThreshold.
func (e *Engine) Consolidate(ctx context.Context, dryRun bool) (*PassReport, error) {
	return e.merge(ctx, "consolidation", e.opts.ConsolidateThreshold, dryRun)
}

// merge reads candidates under the lock, plans groups and re-embeds survivors without
// it, then commits one transaction per group under the lock again. A group whose
// records changed in between is skipped.
func (e *Engine) merge(ctx context.Context, pass string, threshold float64, dryRun bool) (*PassReport, error) {
	rep := &PassReport{Pass: pass, DryRun: dryRun}

	unlock, err := e.lock(ctx, pass)
	if err != nil {
		return nil, err
	}
	mems, err := e.store.ListMemories(ctx, store.ListFilter{})
	unlock()
	if err != nil {
		return nil, err
	}
	rep.Examined = len(mems)

	groups := PlanGroups(mems, threshold)
	rep.Groups = len(groups)
	if len(groups) == 0 {
		e.logger.Info(pass+" complete", "examined", rep.Examined, "groups", 0)
		return rep, nil
	}

	type planned struct {
		plan store.MergePlan
		ids  []string
	}
	plans := make([]planned, 0, len(groups))
	for _, g := range groups {
		if ctx.Err() != nil {
			rep.Stopped = true
			return rep, nil
		}
		ids := memberIDs(g)
		if dryRun {
			e.logger.Info(pass+": would merge", "survivor", g.Survivor.ID, "members", ids)
			rep.Changed++
			rep.Merged += len(g.Members)
			continue
		}
		plan, err := e.buildPlan(ctx, pass, g)
		if err != nil {
			e.logger.Error(pass+": preparing group failed", "survivor", g.Survivor.ID, "error", err)
			rep.skip(g.Survivor.ID, err.Error())
			continue
		}
		plans = append(plans, planned{plan: plan, ids: ids})
	}
	if dryRun || len(plans) == 0 {
		return rep, nil
	}

	unlock, err = e.lock(ctx, pass)
	if err != nil {
		if ctx.Err() != nil {
			rep.Stopped = true
			return rep, nil
		}
		return nil, err
	}
	defer unlock()
	wctx := context.WithoutCancel(ctx)

	for _, p := range plans {
		if ctx.Err() != nil {
			rep.Stopped = true
			break
		}
		err := e.store.ApplyMerge(wctx, p.plan)
		switch {
		case err == nil:
			rep.Changed++
			rep.Merged += len(p.plan.Merged)
			e.logger.Info(pass+": merged", "survivor", p.plan.Survivor.ID, "members", p.ids)
		case store.IsStale(err):
			rep.skip(p.plan.Survivor.ID, ReasonModified)
		case errors.Is(err, models.ErrNotFound):
			rep.skip(p.plan.Survivor.ID, ReasonDeleted)
		default:
			e.logger.Error(pass+": merge failed", "survivor", p.plan.Survivor.ID, "error", err)
			rep.skip(p.plan.Survivor.ID, err.Error())
		}
	}
	metrics.Add(metrics.MergedTotal, rep.Merged)
	e.logger.Info(pass+" complete", "examined", rep.Examined, "groups", rep.Groups,
		"merged", rep.Merged, "skipped", len(rep.Skipped), "stopped", rep.Stopped)
	return rep, nil
}

// buildPlan folds the members into the survivor and re-embeds it when its text changed.
func (e *Engine) buildPlan(ctx context.Context, pass string, g Group) (store.MergePlan, error) {
	surv := Fold(g.Survivor, g.Members)
	if surv.Content != g.Survivor.Content || surv.Title != g.Survivor.Title {
		vec, err := e.embedder.Embed(ctx, surv.EmbeddingText())
		if err != nil {
			return store.MergePlan{}, fmt.Errorf("embedding merged content: %w", err)
		}
		surv.Embedding = vec
	}

	now := time.Now().UTC()
	pushedChanged := surv.Content != g.Survivor.Content || surv.Visibility != g.Survivor.Visibility ||
		!slices.Equal(surv.Tags, g.Survivor.Tags)
	surv.UpdatedAt = now
	if pushedChanged {
		surv.ContentChangedAt = now
	}
	surv.SyncState = g.Survivor.SyncState.AfterLocalUpdate(models.UpdateChange{
		OldImportance:  g.Survivor.Importance,
		NewImportance:  surv.Importance,
		ContentChanged: pushedChanged,
		HasRemote:      g.Survivor.RemoteID != "",
	}, e.opts.PromotionThreshold)

	return store.MergePlan{Survivor: surv, Merged: g.Members, Reason: pass}, nil
}

// PlanGroups clusters live memories of the same type greedily. Memories are visited
// oldest first; each unassigned memory seeds a group with every later unassigned
// memory whose cosine similarity to the seed exceeds threshold. Only groups with at
// least two memories are returned. The result is deterministic for a given input.
func PlanGroups(mems []models.Memory, threshold float64) []Group {
	sorted := make([]models.Memory, 0, len(mems))
	for i := range mems {
		if !mems[i].Tombstoned() && len(mems[i].Embedding) > 0 {
			sorted = append(sorted, mems[i])
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	assigned := make([]bool, len(sorted))
	var groups []Group
	for i := range sorted {
		if assigned[i] {
			continue
		}
		var members []models.Memory
		for j := i + 1; j < len(sorted); j++ {
			if assigned[j] || sorted[j].Type != sorted[i].Type {
				continue
			}
			if embedder.CosineSimilarity(sorted[i].Embedding, sorted[j].Embedding) > threshold {
				assigned[j] = true
				members = append(members, sorted[j])
			}
		}
		if len(members) > 0 {
			assigned[i] = true
			groups = append(groups, Group{Survivor: sorted[i], Members: members})
		}
	}
	return groups
}

// Fold returns the survivor with the members merged in: distinct contents joined by
// newlines in creation order, maximum importance, union of tags, the most restrictive
// visibility and combined access statistics. It never invents content.
func Fold(survivor models.Memory, members []models.Memory) models.Memory {
	out := survivor
	contents := []string{strings.TrimSpace(survivor.Content)}
	seen := map[string]bool{contents[0]: true}
	tags := slices.Clone(survivor.Tags)
	tagSeen := make(map[string]bool, len(tags))
	for _, t := range tags {
		tagSeen[t] = true
	}

	for i := range members {
		m := &members[i]
		if c := strings.TrimSpace(m.Content); c != "" && !seen[c] {
			seen[c] = true
			contents = append(contents, c)
		}
		out.Importance = max(out.Importance, m.Importance)
		for _, t := range m.Tags {
			if !tagSeen[t] {
				tagSeen[t] = true
				tags = append(tags, t)
			}
		}
		if restrictiveness(m.Visibility) > restrictiveness(out.Visibility) {
			out.Visibility = m.Visibility
		}
		out.AccessCount += m.AccessCount
		if m.LastAccessedAt.After(out.LastAccessedAt) {
			out.LastAccessedAt = m.LastAccessedAt
		}
	}
	if len(contents) == 1 {
		out.Content = survivor.Content
	} else {
		out.Content = strings.Join(contents, "\n")
	}
	out.Tags = tags
	return out
}

func restrictiveness(v models.Visibility) int {
	switch v {
	case models.VisibilityAdmin:
		return 2
	case models.VisibilityRestricted:
		return 1
	}
	return 0
}

func memberIDs(g Group) []string {
	ids := make([]string, len(g.Members))
	for i := range g.Members {
		ids[i] = g.Members[i].ID
	}
	return ids
}
