package entity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ajitpratap0/openclaw-brain/internal/metrics"
	"github.com/ajitpratap0/openclaw-brain/internal/models"
	"github.com/ajitpratap0/openclaw-brain/internal/store"
)

// Linker resolves extracted mentions to canonical entities and associates them with
// memories. It is the only writer of entities.
type Linker struct {
	store     store.Store
	extractor Extractor
	logger    *slog.Logger
}

// NewLinker creates a Linker.
func NewLinker(st store.Store, ex Extractor, logger *slog.Logger) *Linker {
	return &Linker{store: st, extractor: ex, logger: logger}
}

// Extract returns the mentions found in text.
func (l *Linker) Extract(ctx context.Context, text string) ([]models.Mention, error) {
	return l.extractor.Extract(ctx, text)
}

// AnalyzeReport summarizes one Analyze call.
type AnalyzeReport struct {
	MemoryID   string           `json:"memory_id"`
	Mentions   []models.Mention `json:"mentions"`
	Created    int              `json:"entities_created"`
	Associated int              `json:"associations_created"`
	Ambiguous  int              `json:"ambiguous"`
}

// Analyze extracts entities from a memory and records them. Running it twice on an
// unchanged memory creates nothing new.
func (l *Linker) Analyze(ctx context.Context, memoryID string) (*AnalyzeReport, error) {
	m, err := l.store.GetMemory(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	mentions, err := l.extractor.Extract(ctx, m.EmbeddingText())
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", memoryID, err)
	}

	unlock, err := l.store.Lock(ctx, store.HolderID("entity-analyze"))
	if err != nil {
		return nil, err
	}
	defer unlock()

	rep := &AnalyzeReport{MemoryID: memoryID, Mentions: mentions}
	if err := l.apply(context.WithoutCancel(ctx), memoryID, mentions, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

// apply resolves each mention and associates it with memoryID. Callers hold the lock.
func (l *Linker) apply(ctx context.Context, memoryID string, mentions []models.Mention, rep *AnalyzeReport) error {
	for _, mn := range mentions {
		ent, created, ambiguous, err := l.resolve(ctx, memoryID, mn)
		if err != nil {
			return fmt.Errorf("resolving %q: %w", mn.Name, err)
		}
		if created {
			rep.Created++
		}
		if ambiguous {
			rep.Ambiguous++
		}
		ok, err := l.store.AssociateEntity(ctx, ent.ID, memoryID)
		if err != nil {
			return err
		}
		if ok {
			rep.Associated++
			metrics.Inc(metrics.EntitiesLinked)
		}
	}
	return nil
}

// resolve finds the canonical entity for a mention of the same type, creating it when
// none matches. The mention's name is tried first and its aliases only when the name is
// unknown. With several candidates the most recently updated one wins and the ambiguity
// is recorded. Names and aliases not yet known for the resolved entity are added to it.
func (l *Linker) resolve(ctx context.Context, memoryID string, mn models.Mention) (*models.Entity, bool, bool, error) {
	cands, err := l.candidates(ctx, mn.Name, mn.Type)
	if err != nil {
		return nil, false, false, err
	}
	for _, alias := range mn.Aliases {
		if len(cands) > 0 {
			break
		}
		if cands, err = l.candidates(ctx, alias, mn.Type); err != nil {
			return nil, false, false, err
		}
	}

	switch len(cands) {
	case 0:
		e := &models.Entity{Name: mn.Name, Type: mn.Type, Aliases: mn.Aliases}
		if err := l.store.CreateEntity(ctx, e); err != nil {
			return nil, false, false, err
		}
		l.logger.Debug("entity created", "name", e.Name, "type", e.Type, "aliases", len(e.Aliases), "id", e.ID)
		return e, true, false, nil
	case 1:
		if err := l.mergeAliases(ctx, &cands[0], mn); err != nil {
			return nil, false, false, err
		}
		return &cands[0], false, false, nil
	}
	ids := make([]string, len(cands))
	for i := range cands {
		ids[i] = cands[i].ID
	}
	if err := l.store.RecordAmbiguity(ctx, &models.Ambiguity{
		Name:       mn.Name,
		MemoryID:   memoryID,
		ChosenID:   cands[0].ID,
		Candidates: ids,
	}); err != nil {
		return nil, false, false, err
	}
	l.logger.Warn("ambiguous entity name", "name", mn.Name, "memory_id", memoryID, "chosen", cands[0].ID, "candidates", len(ids))
	return &cands[0], false, true, nil
}

// candidates returns the entities of type typ known under name, most recent first.
func (l *Linker) candidates(ctx context.Context, name string, typ models.EntityType) ([]models.Entity, error) {
	found, err := l.store.ResolveEntities(ctx, name)
	if err != nil {
		return nil, err
	}
	var out []models.Entity
	for i := range found {
		if found[i].Type == typ {
			out = append(out, found[i])
		}
	}
	return out, nil
}

// mergeAliases records the mention's name and aliases on e when e does not know them yet.
// An ambiguous resolution never reaches here, so shared aliases are not spread further.
func (l *Linker) mergeAliases(ctx context.Context, e *models.Entity, mn models.Mention) error {
	known := map[string]bool{store.NormalizeAlias(e.Name): true}
	for _, a := range e.Aliases {
		known[store.NormalizeAlias(a)] = true
	}
	var fresh []string
	for _, a := range append([]string{mn.Name}, mn.Aliases...) {
		k := store.NormalizeAlias(a)
		if k == "" || known[k] {
			continue
		}
		known[k] = true
		fresh = append(fresh, a)
	}
	if len(fresh) == 0 {
		return nil
	}
	n, err := l.store.AddEntityAliases(ctx, e.ID, fresh)
	if err != nil {
		return err
	}
	e.Aliases = append(e.Aliases, fresh...)
	l.logger.Debug("entity aliases added", "id", e.ID, "name", e.Name, "added", n)
	return nil
}

// LinkAllReport summarizes a LinkAll pass.
type LinkAllReport struct {
	Analyzed     int               `json:"memories_analyzed"`
	Created      int               `json:"entities_created"`
	Associated   int               `json:"associations_created"`
	Ambiguous    int               `json:"ambiguous"`
	LinksCreated int               `json:"links_created"`
	Skipped      map[string]string `json:"skipped,omitempty"`
	Stopped      bool              `json:"stopped"`
	DryRun       bool              `json:"dry_run"`
}

// linkableTypes are the memory types that other memories get related_to links to
// when their title names an extracted entity.
var linkableTypes = map[models.EntityType]models.MemoryType{
	models.EntityTypeProduct: models.MemoryTypeProduct,
	models.EntityTypeCompany: models.MemoryTypeCompany,
	models.EntityTypePerson:  models.MemoryTypePerson,
}

// LinkAll analyzes every live memory and creates related_to links from each memory to
// the product, company and person memories named by its entities. It is safe to re-run.
// Cancellation of ctx stops the pass between memories.
func (l *Linker) LinkAll(ctx context.Context, dryRun bool) (*LinkAllReport, error) {
	rep := &LinkAllReport{DryRun: dryRun, Skipped: make(map[string]string)}

	mems, err := l.store.ListMemories(ctx, store.ListFilter{})
	if err != nil {
		return nil, err
	}
	targets := make(map[models.MemoryType][]models.Memory)
	for i := range mems {
		switch mems[i].Type {
		case models.MemoryTypeProduct, models.MemoryTypeCompany, models.MemoryTypePerson:
			targets[mems[i].Type] = append(targets[mems[i].Type], mems[i])
		}
	}

	for i := range mems {
		if ctx.Err() != nil {
			rep.Stopped = true
			break
		}
		m := &mems[i]
		mentions, err := l.extractor.Extract(ctx, m.EmbeddingText())
		if err != nil {
			rep.Skipped[m.ID] = err.Error()
			l.logger.Error("link-all: extraction failed", "id", m.ID, "error", err)
			continue
		}
		rep.Analyzed++

		if dryRun {
			for _, t := range relatedTargets(m, mentions, targets) {
				l.logger.Info("link-all: would link", "from", m.Title, "to", t.Title)
				rep.LinksCreated++
			}
			continue
		}

		if err := l.linkOne(ctx, m, mentions, targets, rep); err != nil {
			rep.Skipped[m.ID] = err.Error()
			l.logger.Error("link-all: linking failed", "id", m.ID, "error", err)
		}
	}
	l.logger.Info("link-all complete", "analyzed", rep.Analyzed, "links", rep.LinksCreated,
		"associations", rep.Associated, "dry_run", dryRun, "stopped", rep.Stopped)
	return rep, nil
}

func (l *Linker) linkOne(ctx context.Context, m *models.Memory, mentions []models.Mention, targets map[models.MemoryType][]models.Memory, rep *LinkAllReport) error {
	unlock, err := l.store.Lock(ctx, store.HolderID("entity-link-all"))
	if err != nil {
		return err
	}
	defer unlock()
	wctx := context.WithoutCancel(ctx)

	if _, err := l.store.GetMemory(wctx, m.ID); err != nil {
		return err
	}
	ar := &AnalyzeReport{}
	if err := l.apply(wctx, m.ID, mentions, ar); err != nil {
		return err
	}
	rep.Created += ar.Created
	rep.Associated += ar.Associated
	rep.Ambiguous += ar.Ambiguous

	for _, t := range relatedTargets(m, mentions, targets) {
		link := &models.Link{
			ID:           store.NewLinkID(),
			FromID:       m.ID,
			ToID:         t.ID,
			RelationType: models.RelationRelatedTo,
			CreatedAt:    time.Now().UTC(),
		}
		err := l.store.InsertLink(wctx, link, false)
		switch {
		case err == nil:
			rep.LinksCreated++
		case errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrNotFound):
		default:
			return err
		}
	}
	return nil
}

// relatedTargets returns the distinct memories whose title contains a mentioned
// product, company or person name of the matching memory type, excluding m itself.
func relatedTargets(m *models.Memory, mentions []models.Mention, targets map[models.MemoryType][]models.Memory) []models.Memory {
	var out []models.Memory
	seen := map[string]bool{m.ID: true}
	for _, mn := range mentions {
		mt, ok := linkableTypes[mn.Type]
		if !ok {
			continue
		}
		name := strings.ToLower(mn.Name)
		for _, t := range targets[mt] {
			if seen[t.ID] || !strings.Contains(strings.ToLower(t.Title), name) {
				continue
			}
			seen[t.ID] = true
			out = append(out, t)
		}
	}
	return out
}

// Entities lists known entities, optionally restricted to one type.
func (l *Linker) Entities(ctx context.Context, typ models.EntityType) ([]models.Entity, error) {
	if typ != "" && !typ.IsValid() {
		return nil, models.Invalid("type", "unknown entity type %q", typ)
	}
	return l.store.ListEntities(ctx, typ)
}

// Ambiguities lists recorded ambiguous resolutions.
func (l *Linker) Ambiguities(ctx context.Context) ([]models.Ambiguity, error) {
	return l.store.ListAmbiguities(ctx)
}
