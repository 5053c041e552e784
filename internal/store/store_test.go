package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/opportunity-intel/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func fptr(v float64) *float64 { return &v }

func mustInsert(t *testing.T, s Store, e model.Entity) model.Entity {
	t.Helper()
	ok, err := s.InsertEntity(context.Background(), &e)
	require.NoError(t, err)
	require.True(t, ok, "insert %s", e.Name)
	return e
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("InsertEntityUniqueByNormalizedKey", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		e := mustInsert(t, s, model.Entity{
			Name: "Central Block", Locality: "Tel Aviv", ExistingUnits: 30,
			Status: model.PlanningDeposited, Source: "discovery",
		})
		assert.Positive(t, e.ID)
		assert.InDelta(t, model.DefaultCertainty, e.Committee.Certainty, 0.0001)

		dup := model.Entity{Name: "  central block ", Locality: "TEL AVIV"}
		ok, err := s.InsertEntity(ctx, &dup)
		require.NoError(t, err)
		assert.False(t, ok)

		other := model.Entity{Name: "Central Block", Locality: "Haifa"}
		ok, err = s.InsertEntity(ctx, &other)
		require.NoError(t, err)
		assert.True(t, ok)

		names, err := s.ExistingNames(ctx, "tel aviv")
		require.NoError(t, err)
		assert.Equal(t, []string{"Central Block"}, names)
	})

	t.Run("InsertEntityRequiresNameAndLocality", func(t *testing.T) {
		s := newStore(t)
		_, err := s.InsertEntity(context.Background(), &model.Entity{Locality: "Haifa"})
		assert.Error(t, err)
		_, err = s.InsertEntity(context.Background(), &model.Entity{Name: "Harbor Towers"})
		assert.Error(t, err)
	})

	t.Run("GetEntityNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetEntity(context.Background(), 999)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ApplyPatch", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		e := mustInsert(t, s, model.Entity{Name: "Harbor Towers", Locality: "Haifa", ExistingUnits: 40})

		planned := 160
		status := model.PlanningApproved
		developer := "Azorim"
		at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		got, err := s.ApplyPatch(ctx, e.ID, model.EntityPatch{
			PlannedUnits:          &planned,
			Status:                &status,
			Developer:             &developer,
			TheoreticalPremiumPct: fptr(40),
		}, at)
		require.NoError(t, err)
		assert.Equal(t, 160, got.PlannedUnits)

		reloaded, err := s.GetEntity(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, 40, reloaded.ExistingUnits)
		assert.Equal(t, 160, reloaded.PlannedUnits)
		assert.Equal(t, model.PlanningApproved, reloaded.Status)
		assert.Equal(t, "Azorim", reloaded.Developer)
		require.NotNil(t, reloaded.TheoreticalPremiumPct)
		assert.InDelta(t, 40.0, *reloaded.TheoreticalPremiumPct, 0.0001)
		assert.Nil(t, reloaded.ActualPremiumPct)
		require.NotNil(t, reloaded.EnrichedAt)
		assert.True(t, at.Equal(*reloaded.EnrichedAt))

		_, err = s.ApplyPatch(ctx, 12345, model.EntityPatch{PlannedUnits: &planned}, at)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("UpdateScoresAndRankingOrder", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := mustInsert(t, s, model.Entity{Name: "Alpha", Locality: "Bat Yam"})
		b := mustInsert(t, s, model.Entity{Name: "Bravo", Locality: "Bat Yam"})
		c := mustInsert(t, s, model.Entity{Name: "Charlie", Locality: "Bat Yam"})
		d := mustInsert(t, s, model.Entity{Name: "Delta", Locality: "Holon"})

		scored := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
		for id, sc := range map[int64][2]float64{
			a.ID: {50, 30}, b.ID: {70, 10}, c.ID: {50, 60}, d.ID: {90, 90},
		} {
			require.NoError(t, s.UpdateScores(ctx, id, model.Scores{
				Priority:           sc[0],
				PriorityComponents: map[string]float64{"velocity": 12.5},
				Attractiveness:     sc[1],
				Tier:               model.TierHot,
				ScoredAt:           &scored,
			}))
		}

		list, err := s.ListEntities(ctx, EntityFilter{Locality: "bat yam"})
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, []int64{b.ID, c.ID, a.ID}, []int64{list[0].ID, list[1].ID, list[2].ID})
		assert.InDelta(t, 12.5, list[0].Scores.PriorityComponents["velocity"], 0.0001)
		assert.Nil(t, list[0].Scores.AttractivenessComponents)

		list, err = s.ListEntities(ctx, EntityFilter{MinAttractiveness: 50})
		require.NoError(t, err)
		assert.Len(t, list, 2)

		list, err = s.ListEntities(ctx, EntityFilter{Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, b.ID, list[0].ID)

		err = s.UpdateScores(ctx, 9999, model.Scores{})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ListEntitiesStaleFilters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		fresh := mustInsert(t, s, model.Entity{Name: "Fresh", Locality: "Ramat Gan"})
		never := mustInsert(t, s, model.Entity{Name: "Never", Locality: "Ramat Gan"})

		now := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)
		_, err := s.ApplyPatch(ctx, fresh.ID, model.EntityPatch{}, now)
		require.NoError(t, err)
		_, err = s.ApplyCommitteeUpdate(ctx, fresh.ID, now, func(*model.CommitteeState) error { return nil })
		require.NoError(t, err)

		cutoff := now.Add(-time.Hour)
		list, err := s.ListEntities(ctx, EntityFilter{EnrichedBefore: &cutoff})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, never.ID, list[0].ID)

		list, err = s.ListEntities(ctx, EntityFilter{CheckedBefore: &cutoff})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, never.ID, list[0].ID)

		later := now.Add(time.Hour)
		list, err = s.ListEntities(ctx, EntityFilter{CheckedBefore: &later})
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})

	t.Run("CommitteeUpdateIsMonotonic", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		e := mustInsert(t, s, model.Entity{Name: "Ocean View", Locality: "Netanya"})

		approved := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
		checked := time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC)
		got, err := s.ApplyCommitteeUpdate(ctx, e.ID, checked, func(st *model.CommitteeState) error {
			st.SetApprovedAt(model.CommitteeLocal, approved)
			st.Certainty += 0.15
			return nil
		})
		require.NoError(t, err)
		assert.InDelta(t, 1.15, got.Committee.Certainty, 0.0001)

		// Attempts to clear or lower persisted state are ignored.
		_, err = s.ApplyCommitteeUpdate(ctx, e.ID, checked.Add(time.Hour), func(st *model.CommitteeState) error {
			st.LocalApprovedAt = nil
			st.Certainty = 0.5
			return nil
		})
		require.NoError(t, err)

		reloaded, err := s.GetEntity(ctx, e.ID)
		require.NoError(t, err)
		require.NotNil(t, reloaded.Committee.LocalApprovedAt)
		assert.True(t, approved.Equal(*reloaded.Committee.LocalApprovedAt))
		assert.InDelta(t, 1.15, reloaded.Committee.Certainty, 0.0001)
		require.NotNil(t, reloaded.Committee.CheckedAt)
		assert.True(t, checked.Add(time.Hour).Equal(*reloaded.Committee.CheckedAt))

		// Certainty is capped.
		_, err = s.ApplyCommitteeUpdate(ctx, e.ID, checked, func(st *model.CommitteeState) error {
			st.Certainty = 5
			return nil
		})
		require.NoError(t, err)
		reloaded, err = s.GetEntity(ctx, e.ID)
		require.NoError(t, err)
		assert.InDelta(t, model.MaxCertainty, reloaded.Committee.Certainty, 0.0001)
	})

	t.Run("CommitteeUpdateAbortWritesNothing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		e := mustInsert(t, s, model.Entity{Name: "Garden Court", Locality: "Rehovot"})

		_, err := s.ApplyCommitteeUpdate(ctx, e.ID, time.Now().UTC(), func(st *model.CommitteeState) error {
			st.SetApprovedAt(model.CommitteeNational, time.Now().UTC())
			return assert.AnError
		})
		require.ErrorIs(t, err, assert.AnError)

		reloaded, err := s.GetEntity(ctx, e.ID)
		require.NoError(t, err)
		assert.Nil(t, reloaded.Committee.NationalApprovedAt)
		assert.Nil(t, reloaded.Committee.CheckedAt)
	})

	t.Run("AlertDedupWindow", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		e := mustInsert(t, s, model.Entity{Name: "Sunset Row", Locality: "Ashdod"})

		t0 := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
		newAlert := func(at time.Time, key string) *model.Alert {
			return &model.Alert{
				EntityID: e.ID, Type: model.AlertCommitteeApproval, Severity: model.SeverityHigh,
				Title: "approved", DedupKey: key, CreatedAt: at,
				Payload: map[string]any{"level": key},
			}
		}

		first := newAlert(t0, "local")
		ok, err := s.InsertAlert(ctx, first, 24*time.Hour, t0)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Positive(t, first.ID)

		ok, err = s.InsertAlert(ctx, newAlert(t0.Add(23*time.Hour), "local"), 24*time.Hour, t0.Add(23*time.Hour))
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.InsertAlert(ctx, newAlert(t0.Add(time.Hour), "district"), 24*time.Hour, t0.Add(time.Hour))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.InsertAlert(ctx, newAlert(t0.Add(25*time.Hour), "local"), 24*time.Hour, t0.Add(25*time.Hour))
		require.NoError(t, err)
		assert.True(t, ok)

		list, err := s.ListAlerts(ctx, AlertFilter{EntityID: e.ID})
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.True(t, t0.Add(25*time.Hour).Equal(list[0].CreatedAt))
		assert.Equal(t, "local", list[0].Payload["level"])
	})

	t.Run("AlertWithoutWindowAppends", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		e := mustInsert(t, s, model.Entity{Name: "Lakeside", Locality: "Kfar Saba"})

		now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		for range 2 {
			ok, err := s.InsertAlert(ctx, &model.Alert{
				EntityID: e.ID, Type: model.AlertNewEntity, Severity: model.SeverityInfo,
			}, 0, now)
			require.NoError(t, err)
			assert.True(t, ok)
		}

		list, err := s.ListAlerts(ctx, AlertFilter{Type: model.AlertNewEntity, UnreadOnly: true})
		require.NoError(t, err)
		assert.Len(t, list, 2)
		assert.Nil(t, list[0].Payload)

		list, err = s.ListAlerts(ctx, AlertFilter{Type: model.AlertPriceDrop})
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("HearingsAreUnique", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		e := mustInsert(t, s, model.Entity{Name: "Hilltop", Locality: "Modiin"})

		h := model.Hearing{
			EntityID: e.ID, Level: model.CommitteeDistrict,
			Date: time.Date(2025, 7, 15, 10, 30, 0, 0, time.UTC), Subject: "deposit",
		}
		ok, err := s.InsertHearing(ctx, h)
		require.NoError(t, err)
		assert.True(t, ok)

		h.Date = h.Date.Add(2 * time.Hour)
		ok, err = s.InsertHearing(ctx, h)
		require.NoError(t, err)
		assert.False(t, ok, "same calendar day is the same hearing")

		h.Date = h.Date.AddDate(0, 0, 7)
		ok, err = s.InsertHearing(ctx, h)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Listings", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		e := mustInsert(t, s, model.Entity{Name: "Palm Court", Locality: "Herzliya"})

		n, err := s.UpsertListings(ctx, []model.Listing{
			{EntityID: e.ID, ExternalID: "y-1", Platform: "yad2", Price: 2_000_000, Active: true},
			{EntityID: e.ID, ExternalID: "y-2", Platform: "yad2", Price: 1_500_000, Active: true},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		listings, err := s.ListListings(ctx, e.ID)
		require.NoError(t, err)
		require.Len(t, listings, 2)
		require.NoError(t, s.UpdateListingStress(ctx, listings[0].ID, 42.5))

		changed := []model.Listing{
			{EntityID: e.ID, ExternalID: "y-1", Platform: "yad2", Price: 1_800_000, PriceDrops: 1, PriceDropPct: 10, Active: true},
		}
		n, err = s.UpsertListings(ctx, changed)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		listings, err = s.ListListings(ctx, e.ID)
		require.NoError(t, err)
		require.Len(t, listings, 2)
		assert.InDelta(t, 1_800_000, listings[0].Price, 0.01)
		assert.Equal(t, 1, listings[0].PriceDrops)
		assert.InDelta(t, 42.5, listings[0].StressScore, 0.0001, "stress survives re-import")

		assert.ErrorIs(t, s.UpdateListingStress(ctx, 9999, 1), ErrNotFound)

		n, err = s.UpsertListings(ctx, changed)
		require.NoError(t, err)
		assert.Zero(t, n, "unchanged listing is not rewritten")

		n, err = s.UpsertListings(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("PingAndMigrateIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Ping(ctx))
		require.NoError(t, s.Migrate(ctx))
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}
