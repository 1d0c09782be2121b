package catalog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"smmpanel/pkg/config"
	"smmpanel/pkg/errutil"
	"smmpanel/services/currency"
	"smmpanel/services/provider"
)

var ReconcilerModule = fx.Module("catalog.reconciler", fx.Provide(NewReconciler))

// Reconciler merges one vendor's full service list into the local catalog.
// It is the only writer of provider balance/sync metadata and of the
// vendor-owned catalog fields.
type Reconciler struct {
	db        *gorm.DB
	node      *snowflake.Node
	gateway   provider.Gateway
	converter *currency.Service
	cache     *Cache

	chunkSize   int
	parallelism int
}

type ReconcilerParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Gateway   provider.Gateway
	Converter *currency.Service
	Cache     *Cache `optional:"true"`
	Cfg       *config.Config
}

func NewReconciler(p ReconcilerParams) *Reconciler {
	chunkSize := p.Cfg.Vendor.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 50
	}
	parallelism := p.Cfg.Vendor.Parallelism
	if parallelism <= 0 {
		parallelism = 10
	}
	return &Reconciler{
		db:          p.DB,
		node:        p.Node,
		gateway:     p.Gateway,
		converter:   p.Converter,
		cache:       p.Cache,
		chunkSize:   chunkSize,
		parallelism: parallelism,
	}
}

// upsert is one normalized vendor row ready to be applied.
type upsert struct {
	row     *Service
	isNew   bool
	changed bool
}

// Sync runs a full diff-and-merge of the vendor's service list. At most one
// sync per provider runs at a time; the provider row's sync_status is the
// lock, so the guarantee holds across process instances.
func (r *Reconciler) Sync(ctx context.Context, providerID string) (*SyncResult, error) {
	var p provider.Provider
	if err := r.db.WithContext(ctx).Where("id = ?", providerID).First(&p).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errutil.NotFound("provider not found")
		}
		return nil, err
	}

	// Claim the sync slot. The status check and the transition ride in one
	// UPDATE so two concurrent triggers cannot both proceed.
	claim := r.db.WithContext(ctx).Model(&provider.Provider{}).
		Where("id = ? AND sync_status <> ?", providerID, provider.SyncSyncing).
		Updates(map[string]any{"sync_status": provider.SyncSyncing, "sync_error": ""})
	if claim.Error != nil {
		return nil, claim.Error
	}
	if claim.RowsAffected == 0 {
		return nil, errutil.Conflict("sync already in progress")
	}

	result, err := r.run(ctx, &p)
	if err != nil {
		r.fail(ctx, providerID, err)
		return nil, err
	}
	return result, nil
}

func (r *Reconciler) run(ctx context.Context, p *provider.Provider) (*SyncResult, error) {
	zapLog := zap.L().With(
		zap.String("provider_id", p.ID),
		zap.String("provider", p.Name),
	)

	// Balance refresh is best-effort: a vendor that answers its service list
	// but drops the balance call should still sync.
	balance := p.Balance
	if raw, err := r.gateway.Balance(ctx, p); err != nil {
		zapLog.Warn("balance fetch failed, keeping previous balance", zap.Error(err))
	} else {
		balance = r.converter.Convert(ctx, raw, p.Currency)
	}

	remote, err := r.gateway.Services(ctx, p)
	if err != nil {
		return nil, err
	}

	var existing []Service
	if err := r.db.WithContext(ctx).Where("provider_id = ?", p.ID).Find(&existing).Error; err != nil {
		return nil, err
	}
	byExternalID := make(map[string]*Service, len(existing))
	for i := range existing {
		byExternalID[existing[i].ExternalID] = &existing[i]
	}

	tokens := BrandTokensFor(p.Name)

	result := &SyncResult{}
	seen := make(map[string]struct{}, len(remote))

	for start := 0; start < len(remote); start += r.chunkSize {
		end := start + r.chunkSize
		if end > len(remote) {
			end = len(remote)
		}
		chunk := remote[start:end]

		upserts := make([]*upsert, len(chunk))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.parallelism)
		for i := range chunk {
			g.Go(func() error {
				upserts[i] = r.normalize(gctx, p, tokens, &chunk[i], byExternalID[chunk[i].ExternalID])
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		// Writes are applied per chunk inside one transaction: a failing
		// chunk rolls back as a unit and fails the whole sync.
		if err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, u := range upserts {
				if u == nil {
					continue
				}
				seen[u.row.ExternalID] = struct{}{}
				result.TotalSeen++

				switch {
				case u.isNew:
					if err := tx.Create(u.row).Error; err != nil {
						return err
					}
					result.Added++
				case u.changed:
					if err := tx.Model(&Service{}).Where("id = ?", u.row.ID).
						Updates(vendorOwnedValues(u.row)).Error; err != nil {
						return err
					}
					result.Updated++
				}
			}
			return nil
		}); err != nil {
			return nil, err
		}
	}

	// Soft-deactivate everything this pass did not see. Rows are never
	// deleted so order history and admin review stay possible.
	deactivate := r.db.WithContext(ctx).Model(&Service{}).
		Where("provider_id = ? AND status = ?", p.ID, StatusActive)
	if len(seen) > 0 {
		ids := make([]string, 0, len(seen))
		for id := range seen {
			ids = append(ids, id)
		}
		deactivate = deactivate.Where("external_id NOT IN ?", ids)
	}
	res := deactivate.Update("status", StatusInactive)
	if res.Error != nil {
		return nil, res.Error
	}
	result.Deactivated = int(res.RowsAffected)

	now := time.Now()
	stats, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Model(&provider.Provider{}).
		Where("id = ?", p.ID).
		Updates(map[string]any{
			"balance":         balance,
			"sync_status":     provider.SyncCompleted,
			"sync_error":      "",
			"last_synced_at":  now,
			"last_sync_stats": datatypes.JSON(stats),
		}).Error; err != nil {
		return nil, err
	}

	if r.cache != nil {
		r.cache.Invalidate(ctx)
	}

	zapLog.Info("catalog sync completed",
		zap.Int("added", result.Added),
		zap.Int("updated", result.Updated),
		zap.Int("deactivated", result.Deactivated),
		zap.Int("total_seen", result.TotalSeen),
	)
	return result, nil
}

// normalize turns one vendor row into an upsert. Returns nil for rows with
// no usable external id.
func (r *Reconciler) normalize(ctx context.Context, p *provider.Provider, tokens []string, remote *provider.RemoteService, current *Service) *upsert {
	if remote.ExternalID == "" {
		return nil
	}

	rate := r.converter.Convert(ctx, remote.Rate, p.Currency)
	candidateName := StripBrandTokens(remote.Name, tokens)
	candidateCategory := StripBrandTokens(remote.Category, tokens)

	if current == nil {
		return &upsert{
			isNew: true,
			row: &Service{
				ID:          r.node.Generate().String(),
				ProviderID:  p.ID,
				ExternalID:  remote.ExternalID,
				RawName:     remote.Name,
				RawCategory: remote.Category,
				Name:        candidateName,
				Category:    candidateCategory,
				Rate:        rate,
				Min:         remote.Min,
				Max:         remote.Max,
				Status:      StatusActive,
				Type:        remote.Type,
				Description: remote.Description,
				AverageTime: remote.AverageTime,
				Guarantee:   remote.Guarantee,
				Refill:      remote.Refill,
				StartTime:   remote.StartTime,
				Speed:       remote.Speed,
			},
		}
	}

	// Manual-edit heuristic: recompute what the display name would have been
	// from the stored raw name. A mismatch means an admin changed it, and
	// hand curation always survives a sync. This false-negatives when an
	// admin's edit coincides with the auto-stripped candidate; that is the
	// documented behavior, not a bug to fix here.
	name := candidateName
	if previousCandidate := StripBrandTokens(current.RawName, tokens); previousCandidate != current.Name {
		name = current.Name
	}

	// Category edits are sticky unconditionally once set.
	category := candidateCategory
	if current.Category != "" {
		category = current.Category
	}

	// An admin-deactivated entry stays inactive even while the vendor still
	// lists it.
	status := StatusActive
	if current.Status == StatusInactive {
		status = StatusInactive
	}

	next := &Service{
		ID:          current.ID,
		ProviderID:  current.ProviderID,
		ExternalID:  current.ExternalID,
		RawName:     remote.Name,
		RawCategory: remote.Category,
		Name:        name,
		Category:    category,
		Rate:        rate,
		Min:         remote.Min,
		Max:         remote.Max,
		Status:      status,
		Type:        remote.Type,
		Description: remote.Description,
		AverageTime: remote.AverageTime,
		Guarantee:   remote.Guarantee,
		Refill:      remote.Refill,
		StartTime:   remote.StartTime,
		Speed:       remote.Speed,
		Margin:      current.Margin,
	}

	return &upsert{row: next, changed: vendorOwnedChanged(current, next)}
}

func vendorOwnedChanged(a, b *Service) bool {
	return a.RawName != b.RawName ||
		a.RawCategory != b.RawCategory ||
		a.Name != b.Name ||
		a.Category != b.Category ||
		a.Rate != b.Rate ||
		a.Min != b.Min ||
		a.Max != b.Max ||
		a.Status != b.Status ||
		a.Type != b.Type ||
		a.Description != b.Description ||
		a.AverageTime != b.AverageTime ||
		a.Guarantee != b.Guarantee ||
		a.Refill != b.Refill ||
		a.StartTime != b.StartTime ||
		a.Speed != b.Speed
}

func vendorOwnedValues(row *Service) map[string]any {
	return map[string]any{
		"raw_name":     row.RawName,
		"raw_category": row.RawCategory,
		"name":         row.Name,
		"category":     row.Category,
		"rate":         row.Rate,
		"min_quantity": row.Min,
		"max_quantity": row.Max,
		"status":       row.Status,
		"type":         row.Type,
		"description":  row.Description,
		"average_time": row.AverageTime,
		"guarantee":    row.Guarantee,
		"refill":       row.Refill,
		"start_time":   row.StartTime,
		"speed":        row.Speed,
	}
}

// fail records the failure on the provider row. The provider must never be
// left stuck in `syncing`.
func (r *Reconciler) fail(ctx context.Context, providerID string, cause error) {
	if err := r.db.WithContext(ctx).Model(&provider.Provider{}).
		Where("id = ?", providerID).
		Updates(map[string]any{
			"sync_status": provider.SyncFailed,
			"sync_error":  cause.Error(),
		}).Error; err != nil {
		zap.L().Error("failed to record sync failure",
			zap.String("provider_id", providerID), zap.Error(err))
	}
}
